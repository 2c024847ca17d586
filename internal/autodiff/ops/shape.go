package ops

import "github.com/born-ml/cvodepth/internal/tensor"

// ReshapeOp represents a reshape; the gradient is reshaped back.
type ReshapeOp struct{ base }

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(x, output *tensor.RawTensor) *ReshapeOp { return &ReshapeOp{newBase(output, x)} }

// Backward reshapes the gradient to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return grads(backend.Reshape(outputGrad, op.inputs[0].Shape()))
}

// TransposeOp represents a permutation of dimensions.
type TransposeOp struct {
	base
	axes []int
}

// NewTransposeOp creates a new TransposeOp. axes must be the full,
// non-negative permutation used in the forward pass.
func NewTransposeOp(x, output *tensor.RawTensor, axes []int) *TransposeOp {
	return &TransposeOp{base: newBase(output, x), axes: axes}
}

// Backward applies the inverse permutation.
func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inverse := make([]int, len(op.axes))
	for i, a := range op.axes {
		inverse[a] = i
	}
	return grads(backend.Transpose(outputGrad, inverse...))
}

// NarrowOp represents a slice along one dimension.
type NarrowOp struct {
	base
	dim, start int
}

// NewNarrowOp creates a new NarrowOp.
func NewNarrowOp(x, output *tensor.RawTensor, dim, start int) *NarrowOp {
	return &NarrowOp{base: newBase(output, x), dim: dim, start: start}
}

// Backward places the gradient into a zero tensor of the input shape.
func (op *NarrowOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	shape := op.inputs[0].Shape()
	dim := shape.NormalizeDim(op.dim)
	length := outputGrad.Shape()[dim]
	outer := tensor.Shape(shape[:dim]).NumElements()
	inner := tensor.Shape(shape[dim+1:]).NumElements()

	result := tensor.MustNewRaw(shape, outputGrad.Device())
	gd, rd := outputGrad.Data(), result.Data()
	for o := 0; o < outer; o++ {
		dst := (o*shape[dim] + op.start) * inner
		copy(rd[dst:dst+length*inner], gd[o*length*inner:(o+1)*length*inner])
	}
	return grads(result)
}

// CatOp represents a concatenation along one dimension.
type CatOp struct {
	base
	dim int
}

// NewCatOp creates a new CatOp.
func NewCatOp(inputs []*tensor.RawTensor, output *tensor.RawTensor, dim int) *CatOp {
	return &CatOp{base: newBase(output, inputs...), dim: dim}
}

// Backward splits the gradient back into the inputs.
func (op *CatOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	dim := outputGrad.Shape().NormalizeDim(op.dim)
	result := make([]*tensor.RawTensor, len(op.inputs))
	offset := 0
	for i, in := range op.inputs {
		length := in.Shape()[dim]
		result[i] = backend.Narrow(outputGrad, dim, offset, length)
		offset += length
	}
	return result
}

// IndexSelectOp represents a gather along one dimension.
type IndexSelectOp struct {
	base
	dim     int
	indices []int
}

// NewIndexSelectOp creates a new IndexSelectOp.
func NewIndexSelectOp(x, output *tensor.RawTensor, dim int, indices []int) *IndexSelectOp {
	return &IndexSelectOp{base: newBase(output, x), dim: dim, indices: indices}
}

// Backward scatter-adds the gradient to the selected positions.
func (op *IndexSelectOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	shape := op.inputs[0].Shape()
	dim := shape.NormalizeDim(op.dim)
	n := shape[dim]
	outer := tensor.Shape(shape[:dim]).NumElements()
	inner := tensor.Shape(shape[dim+1:]).NumElements()

	result := tensor.MustNewRaw(shape, outputGrad.Device())
	gd, rd := outputGrad.Data(), result.Data()
	for o := 0; o < outer; o++ {
		for j, idx := range op.indices {
			src := gd[(o*len(op.indices)+j)*inner:]
			dst := rd[(o*n+idx)*inner:]
			for i := 0; i < inner; i++ {
				dst[i] += src[i]
			}
		}
	}
	return grads(result)
}

// Shift2DOp represents a zero-filled shift of the two trailing dimensions.
type Shift2DOp struct {
	base
	dy, dx int
}

// NewShift2DOp creates a new Shift2DOp.
func NewShift2DOp(x, output *tensor.RawTensor, dy, dx int) *Shift2DOp {
	return &Shift2DOp{base: newBase(output, x), dy: dy, dx: dx}
}

// Backward shifts the gradient in the opposite direction.
func (op *Shift2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return grads(backend.Shift2D(outputGrad, -op.dy, -op.dx))
}
