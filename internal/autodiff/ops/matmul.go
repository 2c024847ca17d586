package ops

import "github.com/born-ml/cvodepth/internal/tensor"

// MatMulOp represents (batched) matrix multiplication: output = a @ b.
//
// Backward pass:
//   - grad_a = outputGrad @ b^T
//   - grad_b = a^T @ outputGrad
//
// Broadcast batch dimensions are summed back to the operand shapes.
type MatMulOp struct{ base }

// NewMatMulOp creates a new MatMulOp.
func NewMatMulOp(a, b, output *tensor.RawTensor) *MatMulOp {
	return &MatMulOp{newBase(output, a, b)}
}

// Backward computes input gradients for matrix multiplication.
func (op *MatMulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	gradA := backend.MatMul(outputGrad, backend.Transpose(b))
	gradB := backend.MatMul(backend.Transpose(a), outputGrad)
	return grads(
		reduceBroadcast(gradA, a.Shape(), backend),
		reduceBroadcast(gradB, b.Shape(), backend),
	)
}

// SqDistOp represents pairwise squared distances between the columns of
// a [D, N] and b [D, M].
//
// With g = outputGrad [N, M]:
//
//	grad_a = 2 * (a * rowsum(g) - b @ g^T)
//	grad_b = 2 * (b * colsum(g) - a @ g)
type SqDistOp struct{ base }

// NewSqDistOp creates a new SqDistOp.
func NewSqDistOp(a, b, output *tensor.RawTensor) *SqDistOp {
	return &SqDistOp{newBase(output, a, b)}
}

// Backward computes input gradients for pairwise squared distances.
func (op *SqDistOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	n, m := a.Shape()[1], b.Shape()[1]

	rowSum := backend.Reshape(backend.SumDim(outputGrad, 1, false), tensor.Shape{1, n})
	colSum := backend.Reshape(backend.SumDim(outputGrad, 0, false), tensor.Shape{1, m})

	gradA := backend.Sub(backend.Mul(a, rowSum), backend.MatMul(b, backend.Transpose(outputGrad)))
	gradB := backend.Sub(backend.Mul(b, colSum), backend.MatMul(a, outputGrad))
	return grads(backend.MulScalar(gradA, 2), backend.MulScalar(gradB, 2))
}
