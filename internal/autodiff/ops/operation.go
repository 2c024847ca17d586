// Package ops defines the differentiable operations recorded by the autodiff
// tape.
//
// Each operation keeps references to its forward inputs and output and
// computes input gradients from the output gradient. Backward always runs on
// the wrapped (non-recording) backend, so gradient computations never land on
// the tape themselves.
//
// Supported operations:
//   - element-wise: Add, Sub, Mul, Div, AddScalar, MulScalar, Exp, Log, Sqrt,
//     Abs, Sin, Cos, Sigmoid, ReLU, ELU, Clamp
//   - reductions: Sum, SumDim, MinDim
//   - shape: Reshape, Transpose, Narrow, Cat, IndexSelect, Shift2D
//   - linear algebra: MatMul, SqDist
//   - image: Conv2D, AvgPool2D, ReflectionPad2D, Upsample2D, Interpolate,
//     GridSample
package ops

import "github.com/born-ml/cvodepth/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// The result is aligned with Inputs(); a nil entry means no gradient.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// base stores the inputs and output common to every operation.
type base struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func newBase(output *tensor.RawTensor, inputs ...*tensor.RawTensor) base {
	return base{inputs: inputs, output: output}
}

// Inputs returns the recorded inputs.
func (b base) Inputs() []*tensor.RawTensor { return b.inputs }

// Output returns the recorded output.
func (b base) Output() *tensor.RawTensor { return b.output }

func grads(g ...*tensor.RawTensor) []*tensor.RawTensor { return g }
