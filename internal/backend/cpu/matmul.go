package cpu

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/parallel"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// MatMul multiplies the trailing two dimensions of a [..., M, K] and
// b [..., K, N]. Leading batch dimensions broadcast.
//
//	[4, 4] @ [4, N]          -> [4, N]
//	[B, 4, 4] @ [B, 4, N]    -> [B, 4, N]
//	[1, 4, 4] @ [B, 4, N]    -> [B, 4, N]
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	as, bs := a.Shape(), b.Shape()
	if len(as) < 2 || len(bs) < 2 {
		panic(fmt.Sprintf("matmul: need at least 2D operands, got %v and %v", as, bs))
	}
	m, k := as[len(as)-2], as[len(as)-1]
	k2, n := bs[len(bs)-2], bs[len(bs)-1]
	if k != k2 {
		panic(fmt.Sprintf("matmul: inner dimensions differ: %v @ %v", as, bs))
	}

	aBatch, bBatch := as[:len(as)-2], bs[:len(bs)-2]
	batchShape, _, err := tensor.BroadcastShapes(aBatch, bBatch)
	if err != nil {
		panic(fmt.Sprintf("matmul: batch dims: %v", err))
	}
	aStr := tensor.BroadcastStrides(aBatch, batchShape)
	bStr := tensor.BroadcastStrides(bBatch, batchShape)
	numBatch := batchShape.NumElements()

	outShape := append(batchShape.Clone(), m, n)
	result := tensor.MustNewRaw(outShape, cpu.device)
	ad, bd, od := a.Data(), b.Data(), result.Data()

	parallel.For(numBatch*m, func(row int) {
		bi, i := row/m, row%m
		aOff, bOff := 0, 0
		rem := bi
		for d := len(batchShape) - 1; d >= 0; d-- {
			idx := rem % batchShape[d]
			rem /= batchShape[d]
			aOff += idx * aStr[d]
			bOff += idx * bStr[d]
		}
		aOff = aOff*m*k + i*k
		bOff *= k * n
		out := od[(bi*m+i)*n : (bi*m+i+1)*n]
		for p := 0; p < k; p++ {
			av := ad[aOff+p]
			brow := bd[bOff+p*n : bOff+(p+1)*n]
			for j, bv := range brow {
				out[j] += av * bv
			}
		}
	}, cpu.rowConfig(k*n))
	return result
}

// SqDist returns out[i, j] = ||a[:, i] - b[:, j]||² for a [D, N] and b [D, M].
func (cpu *CPUBackend) SqDist(a, b *tensor.RawTensor) *tensor.RawTensor {
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 || as[0] != bs[0] {
		panic(fmt.Sprintf("sqdist: expected [D, N] and [D, M], got %v and %v", as, bs))
	}
	d, nA, nB := as[0], as[1], bs[1]
	result := tensor.MustNewRaw(tensor.Shape{nA, nB}, cpu.device)
	ad, bd, od := a.Data(), b.Data(), result.Data()

	parallel.For(nA, func(i int) {
		row := od[i*nB : (i+1)*nB]
		for c := 0; c < d; c++ {
			av := ad[c*nA+i]
			brow := bd[c*nB : (c+1)*nB]
			for j, bv := range brow {
				diff := av - bv
				row[j] += diff * diff
			}
		}
	}, cpu.rowConfig(d*nB))
	return result
}
