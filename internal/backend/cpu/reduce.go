package cpu

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/parallel"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// Sum reduces all elements to a 0-D tensor. Accumulates in float64.
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := tensor.MustNewRaw(tensor.Shape{}, cpu.device)
	var sum float64
	for _, v := range x.Data() {
		sum += float64(v)
	}
	result.Data()[0] = float32(sum)
	return result
}

// reduceLayout splits a shape around dim into (outer, n, inner) extents and
// the reduced output shape.
func reduceLayout(shape tensor.Shape, dim int, keepDim bool) (outer, n, inner int, out tensor.Shape) {
	if len(shape) == 0 {
		panic("reduce: cannot reduce a 0-D tensor along a dimension")
	}
	dim = shape.NormalizeDim(dim)
	outer = tensor.Shape(shape[:dim]).NumElements()
	n = shape[dim]
	inner = tensor.Shape(shape[dim+1:]).NumElements()

	out = make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != dim:
			out = append(out, d)
		case keepDim:
			out = append(out, 1)
		}
	}
	return outer, n, inner, out
}

// SumDim sums along dim.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	outer, n, inner, outShape := reduceLayout(x.Shape(), dim, keepDim)
	result := tensor.MustNewRaw(outShape, cpu.device)
	xd, od := x.Data(), result.Data()

	parallel.For(outer, func(o int) {
		for i := 0; i < inner; i++ {
			var sum float32
			for k := 0; k < n; k++ {
				sum += xd[(o*n+k)*inner+i]
			}
			od[o*inner+i] = sum
		}
	}, cpu.rowConfig(n*inner))
	return result
}

// MinDim takes the minimum along dim.
func (cpu *CPUBackend) MinDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	values, _ := cpu.minDim(x, dim, keepDim)
	return values
}

// ArgMinDim returns the position of the minimum along dim (first on ties).
func (cpu *CPUBackend) ArgMinDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	_, indices := cpu.minDim(x, dim, keepDim)
	return indices
}

func (cpu *CPUBackend) minDim(x *tensor.RawTensor, dim int, keepDim bool) (*tensor.RawTensor, *tensor.RawTensor) {
	outer, n, inner, outShape := reduceLayout(x.Shape(), dim, keepDim)
	if n == 0 {
		panic(fmt.Sprintf("min: empty dimension %d in %v", dim, x.Shape()))
	}
	values := tensor.MustNewRaw(outShape, cpu.device)
	indices := tensor.MustNewRaw(outShape, cpu.device)
	xd, vd, id := x.Data(), values.Data(), indices.Data()

	parallel.For(outer, func(o int) {
		for i := 0; i < inner; i++ {
			best := xd[o*n*inner+i]
			bestK := 0
			for k := 1; k < n; k++ {
				if v := xd[(o*n+k)*inner+i]; v < best {
					best, bestK = v, k
				}
			}
			vd[o*inner+i] = best
			id[o*inner+i] = float32(bestK)
		}
	}, cpu.rowConfig(n*inner))
	return values, indices
}
