package ops

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// reduceBroadcast reduces a gradient tensor to match the target shape.
// This is necessary when broadcasting was used in the forward pass.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, target tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	shape := grad.Shape()
	if shape.Equal(target) {
		return grad
	}
	if len(target) == 0 || target.NumElements() == 1 && len(shape) > 0 {
		sum := backend.Sum(grad)
		return backend.Reshape(sum, target)
	}
	if len(target) > len(shape) {
		panic(fmt.Sprintf("reduceBroadcast: cannot reduce %v to %v", shape, target))
	}

	result := grad
	for lead := len(shape) - len(target); lead > 0; lead-- {
		result = backend.SumDim(result, 0, false)
	}
	for i, d := range target {
		if d == 1 && result.Shape()[i] != 1 {
			result = backend.SumDim(result, i, true)
		}
	}
	if !result.Shape().Equal(target) {
		result = backend.Reshape(result, target)
	}
	return result
}

// expand broadcasts g to shape.
func expand(g *tensor.RawTensor, shape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if g.Shape().Equal(shape) {
		return g
	}
	zeros := tensor.MustNewRaw(shape, backend.Device())
	return backend.Add(zeros, g)
}

// zip builds a new tensor from two equally shaped tensors element by element.
func zip(a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	result := tensor.MustNewRaw(a.Shape(), a.Device())
	ad, bd, od := a.Data(), b.Data(), result.Data()
	for i := range od {
		od[i] = f(ad[i], bd[i])
	}
	return result
}

// keepDimShape returns shape with dim set to 1.
func keepDimShape(shape tensor.Shape, dim int) tensor.Shape {
	out := shape.Clone()
	out[shape.NormalizeDim(dim)] = 1
	return out
}
