// Package networks holds the depth and pose networks trained by the
// self-supervised objective.
//
// Encoder is a residual feature pyramid with five levels at 1/2 … 1/32 of the
// input resolution. DepthDecoder turns the pyramid into sigmoid disparities
// (or predictive masks) at the requested scales. PoseDecoder regresses
// axis-angle rotations and translations from encoder features of stacked
// frames; PoseCNN does the same directly from the stacked images.
package networks

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/cvodepth/internal/nn"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// Image normalization applied by the encoder.
const (
	imageMean = 0.45
	imageStd  = 0.225
)

// DefaultEncoderChannels are the channel counts of the five pyramid levels.
var DefaultEncoderChannels = []int{64, 64, 128, 256, 512}

// basicBlock is a two-convolution residual block. The first convolution
// carries the stride; a 1x1 projection matches the shortcut when the shape
// changes.
type basicBlock struct {
	conv1 *nn.Conv2D
	conv2 *nn.Conv2D
	down  *nn.Conv2D
}

func newBasicBlock(name string, in, out, stride int, rng *rand.Rand, backend tensor.Backend) *basicBlock {
	b := &basicBlock{
		conv1: nn.NewConv2D(name+".conv1", in, out, 3, stride, 1, true, rng, backend),
		conv2: nn.NewConv2D(name+".conv2", out, out, 3, 1, 1, true, rng, backend),
	}
	if stride != 1 || in != out {
		b.down = nn.NewConv2D(name+".downsample", in, out, 1, stride, 0, false, rng, backend)
	}
	return b
}

func (b *basicBlock) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := b.conv2.Forward(b.conv1.Forward(x).ReLU())
	shortcut := x
	if b.down != nil {
		shortcut = b.down.Forward(x)
	}
	return out.Add(shortcut).ReLU()
}

func (b *basicBlock) Parameters() []*nn.Parameter {
	params := nn.CollectParameters(b.conv1, b.conv2)
	if b.down != nil {
		params = append(params, b.down.Parameters()...)
	}
	return params
}

// Encoder is a five-level residual feature extractor.
//
// Level 0 is a 7x7 stride-2 stem; every following level halves the
// resolution with a residual block.
type Encoder struct {
	channels    []int
	inputImages int
	stem        *nn.Conv2D
	stages      []*basicBlock
}

// NewEncoder creates an encoder over inputImages stacked RGB images.
// channels must hold five entries; nil selects DefaultEncoderChannels.
func NewEncoder(name string, channels []int, inputImages int, rng *rand.Rand, backend tensor.Backend) *Encoder {
	if channels == nil {
		channels = DefaultEncoderChannels
	}
	if len(channels) != 5 {
		panic(fmt.Sprintf("networks: encoder needs 5 channel counts, got %d", len(channels)))
	}
	if inputImages < 1 {
		panic(fmt.Sprintf("networks: invalid input image count %d", inputImages))
	}
	e := &Encoder{
		channels:    append([]int(nil), channels...),
		inputImages: inputImages,
		stem:        nn.NewConv2D(name+".conv1", 3*inputImages, channels[0], 7, 2, 3, true, rng, backend),
	}
	for i := 1; i < len(channels); i++ {
		e.stages = append(e.stages, newBasicBlock(fmt.Sprintf("%s.layer%d", name, i), channels[i-1], channels[i], 2, rng, backend))
	}
	return e
}

// Channels returns the channel count of every pyramid level.
func (e *Encoder) Channels() []int {
	return e.channels
}

// Forward normalizes a B×(3·inputImages)×H×W image in [0, 1] and returns the
// five feature maps, finest first.
func (e *Encoder) Forward(image *tensor.Tensor) []*tensor.Tensor {
	if c := image.Dim(1); c != 3*e.inputImages {
		panic(fmt.Sprintf("networks: encoder expects %d channels, got %d", 3*e.inputImages, c))
	}
	x := image.AddScalar(-imageMean).MulScalar(1 / imageStd)
	x = e.stem.Forward(x).ReLU()
	features := []*tensor.Tensor{x}
	for _, st := range e.stages {
		x = st.Forward(x)
		features = append(features, x)
	}
	return features
}

// Parameters returns every trainable parameter.
func (e *Encoder) Parameters() []*nn.Parameter {
	params := e.stem.Parameters()
	for _, st := range e.stages {
		params = append(params, st.Parameters()...)
	}
	return params
}
