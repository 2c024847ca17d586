package ops

import "github.com/born-ml/cvodepth/internal/tensor"

// SumOp represents output = sum(x) as a 0-D tensor.
type SumOp struct{ base }

// NewSumOp creates a new SumOp.
func NewSumOp(x, output *tensor.RawTensor) *SumOp { return &SumOp{newBase(output, x)} }

// Backward broadcasts the scalar gradient over the input.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return grads(expand(outputGrad, op.inputs[0].Shape(), backend))
}

// SumDimOp represents a sum along one dimension.
type SumDimOp struct {
	base
	dim int
}

// NewSumDimOp creates a new SumDimOp.
func NewSumDimOp(x, output *tensor.RawTensor, dim int) *SumDimOp {
	return &SumDimOp{base: newBase(output, x), dim: dim}
}

// Backward broadcasts the gradient back along the reduced dimension.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	shape := op.inputs[0].Shape()
	kept := backend.Reshape(outputGrad, keepDimShape(shape, op.dim))
	return grads(expand(kept, shape, backend))
}

// MinDimOp represents a minimum along one dimension. The gradient is routed
// to the first position holding the minimum.
type MinDimOp struct {
	base
	dim int
}

// NewMinDimOp creates a new MinDimOp.
func NewMinDimOp(x, output *tensor.RawTensor, dim int) *MinDimOp {
	return &MinDimOp{base: newBase(output, x), dim: dim}
}

// Backward scatters the gradient to the arg-min positions.
func (op *MinDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	shape := x.Shape()
	dim := shape.NormalizeDim(op.dim)
	idx := backend.ArgMinDim(x, dim, false).Data()

	outer := tensor.Shape(shape[:dim]).NumElements()
	n := shape[dim]
	inner := tensor.Shape(shape[dim+1:]).NumElements()

	result := tensor.MustNewRaw(shape, x.Device())
	gd, rd := outputGrad.Data(), result.Data()
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			k := int(idx[o*inner+i])
			rd[(o*n+k)*inner+i] = gd[o*inner+i]
		}
	}
	return grads(result)
}
