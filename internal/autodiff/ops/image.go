package ops

import "github.com/born-ml/cvodepth/internal/tensor"

// Conv2DOp records a 2D convolution operation for autodiff.
//
// Forward: output = Conv2D(input, kernel, stride, padding)
//
// Backward (gradients):
//   - d_input:  "transposed convolution" of d_output with kernel
//   - d_kernel: convolution of input with d_output
type Conv2DOp struct {
	base
	stride, padding int
}

// NewConv2DOp creates a new Conv2D operation.
func NewConv2DOp(input, kernel, output *tensor.RawTensor, stride, padding int) *Conv2DOp {
	return &Conv2DOp{base: newBase(output, input, kernel), stride: stride, padding: padding}
}

// Backward delegates both gradients to the backend kernels.
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	input, kernel := op.inputs[0], op.inputs[1]
	return grads(
		backend.Conv2DInputBackward(input, kernel, outputGrad, op.stride, op.padding),
		backend.Conv2DKernelBackward(input, kernel, outputGrad, op.stride, op.padding),
	)
}

// AvgPool2DOp records average pooling.
type AvgPool2DOp struct {
	base
	kernelSize, stride int
}

// NewAvgPool2DOp creates a new AvgPool2DOp.
func NewAvgPool2DOp(x, output *tensor.RawTensor, kernelSize, stride int) *AvgPool2DOp {
	return &AvgPool2DOp{base: newBase(output, x), kernelSize: kernelSize, stride: stride}
}

// Backward spreads the gradient over each pooling window.
func (op *AvgPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return grads(backend.AvgPool2DBackward(op.inputs[0], outputGrad, op.kernelSize, op.stride))
}

// ReflectionPad2DOp records reflection padding.
type ReflectionPad2DOp struct {
	base
	pad int
}

// NewReflectionPad2DOp creates a new ReflectionPad2DOp.
func NewReflectionPad2DOp(x, output *tensor.RawTensor, pad int) *ReflectionPad2DOp {
	return &ReflectionPad2DOp{base: newBase(output, x), pad: pad}
}

// Backward folds the padded border back onto the source pixels.
func (op *ReflectionPad2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return grads(backend.ReflectionPad2DBackward(op.inputs[0], outputGrad, op.pad))
}

// Upsample2DOp records nearest-neighbour upsampling.
type Upsample2DOp struct {
	base
	factor int
}

// NewUpsample2DOp creates a new Upsample2DOp.
func NewUpsample2DOp(x, output *tensor.RawTensor, factor int) *Upsample2DOp {
	return &Upsample2DOp{base: newBase(output, x), factor: factor}
}

// Backward sums each replicated block.
func (op *Upsample2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return grads(backend.Upsample2DBackward(outputGrad, op.factor))
}

// InterpolateOp records bilinear resizing.
type InterpolateOp struct{ base }

// NewInterpolateOp creates a new InterpolateOp.
func NewInterpolateOp(x, output *tensor.RawTensor) *InterpolateOp {
	return &InterpolateOp{newBase(output, x)}
}

// Backward scatters the gradient with the bilinear weights.
func (op *InterpolateOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return grads(backend.InterpolateBackward(op.inputs[0], outputGrad))
}

// GridSampleOp records bilinear sampling of an image at grid locations.
// Gradients flow to both the image and the grid.
type GridSampleOp struct{ base }

// NewGridSampleOp creates a new GridSampleOp.
func NewGridSampleOp(input, grid, output *tensor.RawTensor) *GridSampleOp {
	return &GridSampleOp{newBase(output, input, grid)}
}

// Backward computes the image and grid gradients.
func (op *GridSampleOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inputGrad, gridGrad := backend.GridSampleBackward(op.inputs[0], op.inputs[1], outputGrad)
	return grads(inputGrad, gridGrad)
}
