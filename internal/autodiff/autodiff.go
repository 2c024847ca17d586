// Package autodiff implements automatic differentiation using the decorator pattern.
//
// AutodiffBackend wraps a tensor.Backend and records every operation it
// forwards on a GradientTape while recording is enabled.
//
// Architecture:
//   - Decorator pattern: AutodiffBackend wraps the compute backend
//   - GradientTape: Records operations during forward pass
//   - Operation interface: Each op implements its backward pass
//   - Reverse-mode AD: gradients of a scalar loss w.r.t. every recorded tensor
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.MustFromSlice([]float32{2}, tensor.Shape{1}, backend)
//	y := x.Mul(x).Sum()
//	grads := autodiff.Backward(y, backend)
//	_ = grads[x.Raw()] // dy/dx = 2x = 4
//
// Tensors detached with Tensor.Detach are new graph leaves: gradients never
// flow through them.
package autodiff

import (
	"github.com/born-ml/cvodepth/internal/autodiff/ops"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
// It implements the tensor.Backend interface.
type AutodiffBackend struct {
	inner tensor.Backend
	tape  *GradientTape
}

// New creates a new AutodiffBackend wrapping the given backend.
func New(backend tensor.Backend) *AutodiffBackend {
	return &AutodiffBackend{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *AutodiffBackend) Inner() tensor.Backend {
	return b.inner
}

// NoGrad runs fn with recording disabled and restores the previous state.
func (b *AutodiffBackend) NoGrad(fn func()) {
	was := b.tape.IsRecording()
	b.tape.StopRecording()
	defer func() {
		if was {
			b.tape.StartRecording()
		}
	}()
	fn()
}

// Name returns the backend name.
func (b *AutodiffBackend) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *AutodiffBackend) Device() tensor.Device {
	return b.inner.Device()
}

func (b *AutodiffBackend) record(op ops.Operation) *tensor.RawTensor {
	b.tape.Record(op)
	return op.Output()
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewAddOp(x, y, b.inner.Add(x, y)))
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewSubOp(x, y, b.inner.Sub(x, y)))
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewMulOp(x, y, b.inner.Mul(x, y)))
}

// Div performs element-wise division and records the operation.
func (b *AutodiffBackend) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewDivOp(x, y, b.inner.Div(x, y)))
}

// AddScalar adds s to every element and records the operation.
func (b *AutodiffBackend) AddScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return b.record(ops.NewAddScalarOp(x, b.inner.AddScalar(x, s)))
}

// MulScalar multiplies every element by s and records the operation.
func (b *AutodiffBackend) MulScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return b.record(ops.NewMulScalarOp(x, b.inner.MulScalar(x, s), s))
}

// Exp records e^x.
func (b *AutodiffBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewExpOp(x, b.inner.Exp(x)))
}

// Log records ln(x).
func (b *AutodiffBackend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewLogOp(x, b.inner.Log(x)))
}

// Sqrt records sqrt(x).
func (b *AutodiffBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewSqrtOp(x, b.inner.Sqrt(x)))
}

// Abs records |x|.
func (b *AutodiffBackend) Abs(x *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewAbsOp(x, b.inner.Abs(x)))
}

// Sin records sin(x).
func (b *AutodiffBackend) Sin(x *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewSinOp(x, b.inner.Sin(x)))
}

// Cos records cos(x).
func (b *AutodiffBackend) Cos(x *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewCosOp(x, b.inner.Cos(x)))
}

// Sigmoid records σ(x).
func (b *AutodiffBackend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewSigmoidOp(x, b.inner.Sigmoid(x)))
}

// ReLU records max(0, x).
func (b *AutodiffBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewReLUOp(x, b.inner.ReLU(x)))
}

// ELU records the exponential linear unit.
func (b *AutodiffBackend) ELU(x *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewELUOp(x, b.inner.ELU(x)))
}

// Clamp records min(max(x, lo), hi).
func (b *AutodiffBackend) Clamp(x *tensor.RawTensor, lo, hi float32) *tensor.RawTensor {
	return b.record(ops.NewClampOp(x, b.inner.Clamp(x, lo, hi), lo, hi))
}

// Sum records the sum of all elements.
func (b *AutodiffBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewSumOp(x, b.inner.Sum(x)))
}

// SumDim records a sum along dim.
func (b *AutodiffBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return b.record(ops.NewSumDimOp(x, b.inner.SumDim(x, dim, keepDim), dim))
}

// MinDim records a minimum along dim.
func (b *AutodiffBackend) MinDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return b.record(ops.NewMinDimOp(x, b.inner.MinDim(x, dim, keepDim), dim))
}

// ArgMinDim is not differentiable and is never recorded.
func (b *AutodiffBackend) ArgMinDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return b.inner.ArgMinDim(x, dim, keepDim)
}

// Reshape records a reshape so gradients reach the original tensor.
func (b *AutodiffBackend) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	return b.record(ops.NewReshapeOp(x, b.inner.Reshape(x, newShape)))
}

// Transpose records a permutation of dimensions.
func (b *AutodiffBackend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	ndim := len(x.Shape())
	full := make([]int, ndim)
	for i := range full {
		full[i] = i
	}
	if len(axes) == 0 && ndim >= 2 {
		full[ndim-1], full[ndim-2] = full[ndim-2], full[ndim-1]
	} else if len(axes) == ndim {
		for i, a := range axes {
			full[i] = x.Shape().NormalizeDim(a)
		}
	}
	result := b.inner.Transpose(x, axes...)
	return b.record(ops.NewTransposeOp(x, result, full))
}

// Narrow records a slice along dim.
func (b *AutodiffBackend) Narrow(x *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	return b.record(ops.NewNarrowOp(x, b.inner.Narrow(x, dim, start, length), dim, start))
}

// Cat records a concatenation.
func (b *AutodiffBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	inputs := append([]*tensor.RawTensor(nil), tensors...)
	return b.record(ops.NewCatOp(inputs, b.inner.Cat(tensors, dim), dim))
}

// IndexSelect records a gather along dim.
func (b *AutodiffBackend) IndexSelect(x *tensor.RawTensor, dim int, indices []int) *tensor.RawTensor {
	idx := append([]int(nil), indices...)
	return b.record(ops.NewIndexSelectOp(x, b.inner.IndexSelect(x, dim, idx), dim, idx))
}

// Shift2D records a zero-filled spatial shift.
func (b *AutodiffBackend) Shift2D(x *tensor.RawTensor, dy, dx int) *tensor.RawTensor {
	return b.record(ops.NewShift2DOp(x, b.inner.Shift2D(x, dy, dx), dy, dx))
}

// MatMul records matrix multiplication.
func (b *AutodiffBackend) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewMatMulOp(x, y, b.inner.MatMul(x, y)))
}

// SqDist records pairwise squared distances.
func (b *AutodiffBackend) SqDist(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewSqDistOp(x, y, b.inner.SqDist(x, y)))
}

// Conv2D performs 2D convolution and records the operation.
func (b *AutodiffBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.record(ops.NewConv2DOp(input, kernel, b.inner.Conv2D(input, kernel, stride, padding), stride, padding))
}

// Conv2DInputBackward forwards to the wrapped backend without recording.
func (b *AutodiffBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.inner.Conv2DInputBackward(input, kernel, grad, stride, padding)
}

// Conv2DKernelBackward forwards to the wrapped backend without recording.
func (b *AutodiffBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.inner.Conv2DKernelBackward(input, kernel, grad, stride, padding)
}

// AvgPool2D records average pooling.
func (b *AutodiffBackend) AvgPool2D(x *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	return b.record(ops.NewAvgPool2DOp(x, b.inner.AvgPool2D(x, kernelSize, stride), kernelSize, stride))
}

// AvgPool2DBackward forwards to the wrapped backend without recording.
func (b *AutodiffBackend) AvgPool2DBackward(input, grad *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	return b.inner.AvgPool2DBackward(input, grad, kernelSize, stride)
}

// ReflectionPad2D records reflection padding.
func (b *AutodiffBackend) ReflectionPad2D(x *tensor.RawTensor, pad int) *tensor.RawTensor {
	return b.record(ops.NewReflectionPad2DOp(x, b.inner.ReflectionPad2D(x, pad), pad))
}

// ReflectionPad2DBackward forwards to the wrapped backend without recording.
func (b *AutodiffBackend) ReflectionPad2DBackward(input, grad *tensor.RawTensor, pad int) *tensor.RawTensor {
	return b.inner.ReflectionPad2DBackward(input, grad, pad)
}

// Upsample2D records nearest-neighbour upsampling.
func (b *AutodiffBackend) Upsample2D(x *tensor.RawTensor, factor int) *tensor.RawTensor {
	return b.record(ops.NewUpsample2DOp(x, b.inner.Upsample2D(x, factor), factor))
}

// Upsample2DBackward forwards to the wrapped backend without recording.
func (b *AutodiffBackend) Upsample2DBackward(grad *tensor.RawTensor, factor int) *tensor.RawTensor {
	return b.inner.Upsample2DBackward(grad, factor)
}

// Interpolate records bilinear resizing.
func (b *AutodiffBackend) Interpolate(x *tensor.RawTensor, height, width int) *tensor.RawTensor {
	return b.record(ops.NewInterpolateOp(x, b.inner.Interpolate(x, height, width)))
}

// InterpolateBackward forwards to the wrapped backend without recording.
func (b *AutodiffBackend) InterpolateBackward(input, grad *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.InterpolateBackward(input, grad)
}

// GridSample records bilinear grid sampling.
func (b *AutodiffBackend) GridSample(input, grid *tensor.RawTensor) *tensor.RawTensor {
	return b.record(ops.NewGridSampleOp(input, grid, b.inner.GridSample(input, grid)))
}

// GridSampleBackward forwards to the wrapped backend without recording.
func (b *AutodiffBackend) GridSampleBackward(input, grid, grad *tensor.RawTensor) (inputGrad, gridGrad *tensor.RawTensor) {
	return b.inner.GridSampleBackward(input, grid, grad)
}
