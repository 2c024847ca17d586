package tensor

import "fmt"

// Add performs element-wise addition with broadcasting.
func (t *Tensor) Add(other *Tensor) *Tensor {
	return New(t.backend.Add(t.raw, other.raw), t.backend)
}

// Sub performs element-wise subtraction with broadcasting.
func (t *Tensor) Sub(other *Tensor) *Tensor {
	return New(t.backend.Sub(t.raw, other.raw), t.backend)
}

// Mul performs element-wise multiplication with broadcasting.
func (t *Tensor) Mul(other *Tensor) *Tensor {
	return New(t.backend.Mul(t.raw, other.raw), t.backend)
}

// Div performs element-wise division with broadcasting.
func (t *Tensor) Div(other *Tensor) *Tensor {
	return New(t.backend.Div(t.raw, other.raw), t.backend)
}

// AddScalar adds s to every element.
func (t *Tensor) AddScalar(s float32) *Tensor {
	return New(t.backend.AddScalar(t.raw, s), t.backend)
}

// MulScalar multiplies every element by s.
func (t *Tensor) MulScalar(s float32) *Tensor {
	return New(t.backend.MulScalar(t.raw, s), t.backend)
}

// DivScalar divides every element by s.
func (t *Tensor) DivScalar(s float32) *Tensor {
	return t.MulScalar(1 / s)
}

// RSubScalar computes s - t.
func (t *Tensor) RSubScalar(s float32) *Tensor {
	return t.MulScalar(-1).AddScalar(s)
}

// Neg negates every element.
func (t *Tensor) Neg() *Tensor {
	return t.MulScalar(-1)
}

// Square computes t*t.
func (t *Tensor) Square() *Tensor {
	return t.Mul(t)
}

// Reciprocal computes 1/t.
func (t *Tensor) Reciprocal() *Tensor {
	return Ones(Shape{}, t.backend).Div(t)
}

// Exp computes e^t.
func (t *Tensor) Exp() *Tensor { return New(t.backend.Exp(t.raw), t.backend) }

// Log computes the natural logarithm.
func (t *Tensor) Log() *Tensor { return New(t.backend.Log(t.raw), t.backend) }

// Sqrt computes the square root.
func (t *Tensor) Sqrt() *Tensor { return New(t.backend.Sqrt(t.raw), t.backend) }

// Abs computes the absolute value.
func (t *Tensor) Abs() *Tensor { return New(t.backend.Abs(t.raw), t.backend) }

// Sin computes the sine.
func (t *Tensor) Sin() *Tensor { return New(t.backend.Sin(t.raw), t.backend) }

// Cos computes the cosine.
func (t *Tensor) Cos() *Tensor { return New(t.backend.Cos(t.raw), t.backend) }

// Sigmoid computes 1/(1+e^-t).
func (t *Tensor) Sigmoid() *Tensor { return New(t.backend.Sigmoid(t.raw), t.backend) }

// ReLU computes max(0, t).
func (t *Tensor) ReLU() *Tensor { return New(t.backend.ReLU(t.raw), t.backend) }

// ELU computes the exponential linear unit with alpha = 1.
func (t *Tensor) ELU() *Tensor { return New(t.backend.ELU(t.raw), t.backend) }

// Clamp limits every element to [lo, hi].
func (t *Tensor) Clamp(lo, hi float32) *Tensor {
	return New(t.backend.Clamp(t.raw, lo, hi), t.backend)
}

// Sum reduces all elements to a 0-D tensor.
func (t *Tensor) Sum() *Tensor {
	return New(t.backend.Sum(t.raw), t.backend)
}

// Mean averages all elements into a 0-D tensor.
func (t *Tensor) Mean() *Tensor {
	return t.Sum().MulScalar(1 / float32(t.NumElements()))
}

// SumDim sums along dim.
func (t *Tensor) SumDim(dim int, keepDim bool) *Tensor {
	return New(t.backend.SumDim(t.raw, dim, keepDim), t.backend)
}

// MeanDim averages along dim.
func (t *Tensor) MeanDim(dim int, keepDim bool) *Tensor {
	n := t.Dim(dim)
	return t.SumDim(dim, keepDim).MulScalar(1 / float32(n))
}

// MinDim takes the minimum along dim.
func (t *Tensor) MinDim(dim int, keepDim bool) *Tensor {
	return New(t.backend.MinDim(t.raw, dim, keepDim), t.backend)
}

// ArgMinDim returns the index of the minimum along dim as float32 values.
// The result carries no gradient.
func (t *Tensor) ArgMinDim(dim int, keepDim bool) *Tensor {
	return New(t.backend.ArgMinDim(t.raw, dim, keepDim), t.backend)
}

// StdDim computes the unbiased standard deviation along dim.
func (t *Tensor) StdDim(dim int, keepDim bool) *Tensor {
	n := t.Dim(dim)
	if n < 2 {
		panic(fmt.Sprintf("StdDim: need at least 2 elements along dim %d, got %d", dim, n))
	}
	centered := t.Sub(t.MeanDim(dim, true))
	return centered.Square().SumDim(dim, keepDim).MulScalar(1 / float32(n-1)).Sqrt()
}

// Reshape returns a tensor with the same data and a new shape.
// A single -1 entry is inferred from the element count.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	return New(t.backend.Reshape(t.raw, inferShape(shape, t.NumElements())), t.backend)
}

// Flatten merges dimensions from start to the end.
func (t *Tensor) Flatten(start int) *Tensor {
	s := t.Shape()
	start = s.NormalizeDim(start)
	out := append(Shape(nil), s[:start]...)
	out = append(out, Shape(s[start:]).NumElements())
	return t.Reshape(out...)
}

// Unsqueeze inserts a dimension of size 1 at dim.
func (t *Tensor) Unsqueeze(dim int) *Tensor {
	s := t.Shape()
	if dim < 0 {
		dim += len(s) + 1
	}
	out := make([]int, 0, len(s)+1)
	out = append(out, s[:dim]...)
	out = append(out, 1)
	out = append(out, s[dim:]...)
	return t.Reshape(out...)
}

// Transpose permutes dimensions. Without axes the last two are swapped.
func (t *Tensor) Transpose(axes ...int) *Tensor {
	return New(t.backend.Transpose(t.raw, axes...), t.backend)
}

// Narrow returns length elements along dim starting at start.
func (t *Tensor) Narrow(dim, start, length int) *Tensor {
	return New(t.backend.Narrow(t.raw, dim, start, length), t.backend)
}

// IndexSelect gathers indices along dim.
func (t *Tensor) IndexSelect(dim int, indices []int) *Tensor {
	return New(t.backend.IndexSelect(t.raw, dim, indices), t.backend)
}

// Shift2D shifts the two trailing dimensions by (dy, dx) with zero fill:
// out[..., y, x] = t[..., y-dy, x-dx].
func (t *Tensor) Shift2D(dy, dx int) *Tensor {
	return New(t.backend.Shift2D(t.raw, dy, dx), t.backend)
}

// MatMul performs (batched) matrix multiplication.
func (t *Tensor) MatMul(other *Tensor) *Tensor {
	return New(t.backend.MatMul(t.raw, other.raw), t.backend)
}

// SqDist returns pairwise squared distances between the columns of t [D, N]
// and other [D, M].
func (t *Tensor) SqDist(other *Tensor) *Tensor {
	return New(t.backend.SqDist(t.raw, other.raw), t.backend)
}

// Conv2D convolves an NCHW input with an [out, in, kh, kw] kernel.
func (t *Tensor) Conv2D(kernel *Tensor, stride, padding int) *Tensor {
	return New(t.backend.Conv2D(t.raw, kernel.raw, stride, padding), t.backend)
}

// AvgPool2D averages kernelSize×kernelSize windows.
func (t *Tensor) AvgPool2D(kernelSize, stride int) *Tensor {
	return New(t.backend.AvgPool2D(t.raw, kernelSize, stride), t.backend)
}

// ReflectionPad2D pads the spatial dimensions by reflection.
func (t *Tensor) ReflectionPad2D(pad int) *Tensor {
	return New(t.backend.ReflectionPad2D(t.raw, pad), t.backend)
}

// Upsample2D repeats each pixel factor×factor times (nearest neighbour).
func (t *Tensor) Upsample2D(factor int) *Tensor {
	return New(t.backend.Upsample2D(t.raw, factor), t.backend)
}

// Interpolate resizes the spatial dimensions bilinearly (half-pixel centers).
func (t *Tensor) Interpolate(height, width int) *Tensor {
	return New(t.backend.Interpolate(t.raw, height, width), t.backend)
}

// GridSample bilinearly samples t at grid locations with border padding.
func (t *Tensor) GridSample(grid *Tensor) *Tensor {
	return New(t.backend.GridSample(t.raw, grid.raw), t.backend)
}

// Cat concatenates tensors along dim.
func Cat(tensors []*Tensor, dim int) *Tensor {
	if len(tensors) == 0 {
		panic("Cat: no tensors")
	}
	raws := make([]*RawTensor, len(tensors))
	for i, t := range tensors {
		raws[i] = t.raw
	}
	b := tensors[0].backend
	return New(b.Cat(raws, dim), b)
}

func inferShape(shape []int, numElements int) Shape {
	out := Shape(append([]int(nil), shape...))
	infer := -1
	known := 1
	for i, d := range out {
		if d == -1 {
			if infer >= 0 {
				panic("reshape: only one dimension can be inferred")
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || numElements%known != 0 {
			panic(fmt.Sprintf("reshape: cannot infer dimension for %d elements into %v", numElements, shape))
		}
		out[infer] = numElements / known
	}
	return out
}
