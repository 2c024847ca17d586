package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// Conv2D is a 2D convolutional layer.
//
// Performs convolution: output = Conv2D(input, weight) + bias
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel, kernel]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + 2*padding - kernel) / stride + 1
//	out_w = (width + 2*padding - kernel) / stride + 1
//
// Example:
//
//	conv := nn.NewConv2D("enc.conv1", 3, 16, 3, 2, 1, true, rng, backend)
//	output := conv.Forward(input) // [N, 16, H/2, W/2]
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int
	useBias     bool

	weight *Parameter // [out_channels, in_channels, kernel, kernel]
	bias   *Parameter // [out_channels] or nil
}

// NewConv2D creates a new square-kernel 2D convolutional layer.
//
// Parameter names are prefixed with name ("<name>.weight", "<name>.bias").
//
// Initialization:
//   - Weights: Xavier/Glorot uniform
//   - Bias: U(-1/sqrt(fan_in), 1/sqrt(fan_in))
func NewConv2D(
	name string,
	inChannels, outChannels int,
	kernelSize, stride, padding int,
	useBias bool,
	rng *rand.Rand,
	backend tensor.Backend,
) *Conv2D {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d %s: invalid channels in=%d, out=%d", name, inChannels, outChannels))
	}
	if kernelSize <= 0 {
		panic(fmt.Sprintf("conv2d %s: invalid kernel size %d", name, kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d %s: invalid stride %d", name, stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("conv2d %s: invalid padding %d", name, padding))
	}

	// fan_in = in_channels * k * k, fan_out = out_channels * k * k
	fanIn := inChannels * kernelSize * kernelSize
	fanOut := outChannels * kernelSize * kernelSize
	weightShape := tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}
	weight := NewParameter(name+".weight", Xavier(fanIn, fanOut, weightShape, rng, backend))

	var bias *Parameter
	if useBias {
		bias = NewParameter(name+".bias", KaimingUniform(fanIn, tensor.Shape{outChannels}, rng, backend))
	}

	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		useBias:     useBias,
		weight:      weight,
		bias:        bias,
	}
}

// Forward performs the forward pass.
//
// Input: [batch, in_channels, height, width]
// Output: [batch, out_channels, out_h, out_w].
func (c *Conv2D) Forward(input *tensor.Tensor) *tensor.Tensor {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.inChannels))
	}

	output := input.Conv2D(c.weight.Tensor(), c.stride, c.padding)
	if c.useBias {
		// [out_channels] -> [1, out_channels, 1, 1] for broadcasting
		output = output.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
	}
	return output
}

// Parameters returns all trainable parameters.
func (c *Conv2D) Parameters() []*Parameter {
	if c.useBias {
		return []*Parameter{c.weight, c.bias}
	}
	return []*Parameter{c.weight}
}

// Weight returns the kernel parameter.
func (c *Conv2D) Weight() *Parameter {
	return c.weight
}

// Bias returns the bias parameter, or nil when the layer has none.
func (c *Conv2D) Bias() *Parameter {
	return c.bias
}

// String returns a string representation of the layer.
func (c *Conv2D) String() string {
	return fmt.Sprintf("Conv2D(in_channels=%d, out_channels=%d, kernel_size=%d, stride=%d, padding=%d, bias=%v)",
		c.inChannels, c.outChannels, c.kernelSize, c.stride, c.padding, c.useBias)
}

// OutChannels returns the number of output channels.
func (c *Conv2D) OutChannels() int {
	return c.outChannels
}

// InChannels returns the number of input channels.
func (c *Conv2D) InChannels() int {
	return c.inChannels
}

// ComputeOutputSize computes output spatial dimensions for given input size.
//
// Returns: [out_height, out_width].
func (c *Conv2D) ComputeOutputSize(inputH, inputW int) [2]int {
	outH := (inputH+2*c.padding-c.kernelSize)/c.stride + 1
	outW := (inputW+2*c.padding-c.kernelSize)/c.stride + 1
	return [2]int{outH, outW}
}

// Conv3x3 is a 3x3 convolution preceded by one pixel of padding.
//
// With reflection padding the border pixels are mirrored instead of
// zero-filled.
type Conv3x3 struct {
	conv       *Conv2D
	reflection bool
}

// NewConv3x3 creates a stride-1 3x3 convolution with bias.
func NewConv3x3(name string, inChannels, outChannels int, reflection bool, rng *rand.Rand, backend tensor.Backend) *Conv3x3 {
	padding := 1
	if reflection {
		padding = 0
	}
	return &Conv3x3{
		conv:       NewConv2D(name, inChannels, outChannels, 3, 1, padding, true, rng, backend),
		reflection: reflection,
	}
}

// Forward pads input by one pixel and convolves it.
func (c *Conv3x3) Forward(input *tensor.Tensor) *tensor.Tensor {
	if c.reflection {
		input = input.ReflectionPad2D(1)
	}
	return c.conv.Forward(input)
}

// Parameters returns the convolution parameters.
func (c *Conv3x3) Parameters() []*Parameter {
	return c.conv.Parameters()
}

// ConvBlock is Conv3x3 followed by ELU.
type ConvBlock struct {
	conv *Conv3x3
}

// NewConvBlock creates a reflection-padded 3x3 convolution with ELU.
func NewConvBlock(name string, inChannels, outChannels int, rng *rand.Rand, backend tensor.Backend) *ConvBlock {
	return &ConvBlock{conv: NewConv3x3(name+".conv", inChannels, outChannels, true, rng, backend)}
}

// Forward applies the convolution and the ELU non-linearity.
func (b *ConvBlock) Forward(input *tensor.Tensor) *tensor.Tensor {
	return b.conv.Forward(input).ELU()
}

// Parameters returns the convolution parameters.
func (b *ConvBlock) Parameters() []*Parameter {
	return b.conv.Parameters()
}
