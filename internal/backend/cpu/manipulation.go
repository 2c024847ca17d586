package cpu

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/parallel"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// Reshape returns a copy of x with a new shape of equal element count.
func (cpu *CPUBackend) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if newShape.NumElements() != x.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v (%d elements) to %v", x.Shape(), x.NumElements(), newShape))
	}
	result := tensor.MustNewRaw(newShape, cpu.device)
	copy(result.Data(), x.Data())
	return result
}

// Transpose permutes dimensions. With no axes the last two are swapped.
func (cpu *CPUBackend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := x.Shape()
	ndim := len(shape)
	if len(axes) == 0 {
		if ndim < 2 {
			panic(fmt.Sprintf("transpose: need at least 2 dims, got %v", shape))
		}
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = i
		}
		axes[ndim-1], axes[ndim-2] = axes[ndim-2], axes[ndim-1]
	} else {
		axes = append([]int(nil), axes...)
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: axes %v do not match rank %d", axes, ndim))
	}

	outShape := make(tensor.Shape, ndim)
	seen := make([]bool, ndim)
	for i, a := range axes {
		a = shape.NormalizeDim(a)
		if seen[a] {
			panic(fmt.Sprintf("transpose: repeated axis in %v", axes))
		}
		seen[a] = true
		axes[i] = a
		outShape[i] = shape[a]
	}

	inStrides := x.Strides()
	srcStrides := make([]int, ndim)
	for i, a := range axes {
		srcStrides[i] = inStrides[a]
	}

	result := tensor.MustNewRaw(outShape, cpu.device)
	xd, od := x.Data(), result.Data()
	parallel.ForRange(len(od), func(start, end int) {
		idx := make([]int, ndim)
		for i := start; i < end; i++ {
			rem := i
			src := 0
			for d := ndim - 1; d >= 0; d-- {
				idx[d] = rem % outShape[d]
				rem /= outShape[d]
				src += idx[d] * srcStrides[d]
			}
			od[i] = xd[src]
		}
	}, cpu.par)
	return result
}

// Narrow returns length elements along dim starting at start.
func (cpu *CPUBackend) Narrow(x *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	if start < 0 || length <= 0 || start+length > shape[dim] {
		panic(fmt.Sprintf("narrow: range [%d, %d) out of bounds for dim %d of %v", start, start+length, dim, shape))
	}
	outer := tensor.Shape(shape[:dim]).NumElements()
	inner := tensor.Shape(shape[dim+1:]).NumElements()
	outShape := shape.Clone()
	outShape[dim] = length

	result := tensor.MustNewRaw(outShape, cpu.device)
	xd, od := x.Data(), result.Data()
	for o := 0; o < outer; o++ {
		src := (o*shape[dim] + start) * inner
		copy(od[o*length*inner:(o+1)*length*inner], xd[src:src+length*inner])
	}
	return result
}

// Cat concatenates tensors along dim. All other dimensions must match.
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	first := tensors[0].Shape()
	dim = first.NormalizeDim(dim)
	outShape := first.Clone()
	outShape[dim] = 0
	for _, t := range tensors {
		s := t.Shape()
		if len(s) != len(first) {
			panic(fmt.Sprintf("cat: rank mismatch %v vs %v", s, first))
		}
		for i := range s {
			if i != dim && s[i] != first[i] {
				panic(fmt.Sprintf("cat: shape mismatch %v vs %v at dim %d", s, first, i))
			}
		}
		outShape[dim] += s[dim]
	}

	outer := tensor.Shape(first[:dim]).NumElements()
	inner := tensor.Shape(first[dim+1:]).NumElements()
	result := tensor.MustNewRaw(outShape, cpu.device)
	od := result.Data()
	rowOut := outShape[dim] * inner
	offset := 0
	for _, t := range tensors {
		chunk := t.Shape()[dim] * inner
		td := t.Data()
		for o := 0; o < outer; o++ {
			copy(od[o*rowOut+offset:o*rowOut+offset+chunk], td[o*chunk:(o+1)*chunk])
		}
		offset += chunk
	}
	return result
}

// IndexSelect gathers the given indices along dim.
func (cpu *CPUBackend) IndexSelect(x *tensor.RawTensor, dim int, indices []int) *tensor.RawTensor {
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	if len(indices) == 0 {
		panic("index_select: empty index list")
	}
	n := shape[dim]
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			panic(fmt.Sprintf("index_select: index %d out of range for dim %d of %v", idx, dim, shape))
		}
	}
	outer := tensor.Shape(shape[:dim]).NumElements()
	inner := tensor.Shape(shape[dim+1:]).NumElements()
	outShape := shape.Clone()
	outShape[dim] = len(indices)

	result := tensor.MustNewRaw(outShape, cpu.device)
	xd, od := x.Data(), result.Data()
	parallel.For(outer, func(o int) {
		for j, idx := range indices {
			src := (o*n + idx) * inner
			dst := (o*len(indices) + j) * inner
			copy(od[dst:dst+inner], xd[src:src+inner])
		}
	}, cpu.rowConfig(len(indices)*inner))
	return result
}

// Shift2D shifts the two trailing dimensions with zero fill:
// out[..., y, x] = x[..., y-dy, x-dx].
func (cpu *CPUBackend) Shift2D(x *tensor.RawTensor, dy, dx int) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("shift2d: need at least 2 dims, got %v", shape))
	}
	h, w := shape[len(shape)-2], shape[len(shape)-1]
	planes := x.NumElements() / (h * w)
	result := tensor.MustNewRaw(shape, cpu.device)
	xd, od := x.Data(), result.Data()

	y0, y1 := max(0, dy), min(h, h+dy)
	x0, x1 := max(0, dx), min(w, w+dx)
	if y0 >= y1 || x0 >= x1 {
		return result
	}
	parallel.For(planes, func(p int) {
		base := p * h * w
		for y := y0; y < y1; y++ {
			dst := base + y*w
			src := base + (y-dy)*w
			copy(od[dst+x0:dst+x1], xd[src+x0-dx:src+x1-dx])
		}
	}, cpu.rowConfig(h*w))
	return result
}
