package geometry

import "github.com/born-ml/cvodepth/internal/tensor"

// rotationEps keeps the axis normalization finite at zero rotation.
const rotationEps = 1e-7

// TransformationFromParameters converts axis-angle rotations and
// translations (B×…×3 each, B·3 elements) into B×4×4 transforms.
//
// Without invert the result is M = T(t)·R; with invert it is Rᵀ·T(-t),
// the exact inverse of the non-inverted transform.
func TransformationFromParameters(axisangle, translation *tensor.Tensor, invert bool) *tensor.Tensor {
	batch := axisangle.Dim(0)
	r := RotationFromAxisAngle(axisangle.Reshape(batch, 3))
	t := translation.Reshape(batch, 3)
	if invert {
		r = r.Transpose(0, 2, 1)
		t = t.Neg()
	}
	tm := translationMatrix(t)
	if invert {
		return r.MatMul(tm)
	}
	return tm.MatMul(r)
}

// RotationFromAxisAngle applies the Rodrigues formula to B×3 axis-angle
// vectors and returns B×4×4 homogeneous rotations.
func RotationFromAxisAngle(vec *tensor.Tensor) *tensor.Tensor {
	batch := vec.Dim(0)
	b := vec.Backend()

	// The small offset inside the root keeps its gradient finite at zero.
	angle := vec.Square().SumDim(1, true).AddScalar(1e-12).Sqrt()
	axis := vec.Div(angle.AddScalar(rotationEps))

	ca, sa := angle.Cos(), angle.Sin()
	c := ca.RSubScalar(1)

	x, y, z := axis.Narrow(1, 0, 1), axis.Narrow(1, 1, 1), axis.Narrow(1, 2, 1)
	xs, ys, zs := x.Mul(sa), y.Mul(sa), z.Mul(sa)
	xC, yC, zC := x.Mul(c), y.Mul(c), z.Mul(c)
	xyC, yzC, zxC := x.Mul(yC), y.Mul(zC), z.Mul(xC)

	zero := tensor.Zeros(tensor.Shape{batch, 1}, b)
	one := tensor.Ones(tensor.Shape{batch, 1}, b)
	return stackRows(
		[]*tensor.Tensor{x.Mul(xC).Add(ca), xyC.Sub(zs), zxC.Add(ys), zero},
		[]*tensor.Tensor{xyC.Add(zs), y.Mul(yC).Add(ca), yzC.Sub(xs), zero},
		[]*tensor.Tensor{zxC.Sub(ys), yzC.Add(xs), z.Mul(zC).Add(ca), zero},
		[]*tensor.Tensor{zero, zero, zero, one},
	)
}

// InverseRigid inverts B×4×4 rigid transforms in closed form:
// [R t]⁻¹ = [Rᵀ -Rᵀt].
func InverseRigid(t *tensor.Tensor) *tensor.Tensor {
	batch := t.Dim(0)
	top := t.Narrow(1, 0, 3)
	rt := top.Narrow(2, 0, 3).Transpose(0, 2, 1)
	trans := rt.MatMul(top.Narrow(2, 3, 1)).Neg()

	bottom := tensor.MustFromSlice(repeat([]float32{0, 0, 0, 1}, batch), tensor.Shape{batch, 1, 4}, t.Backend())
	return tensor.Cat([]*tensor.Tensor{
		tensor.Cat([]*tensor.Tensor{rt, trans}, 2),
		bottom,
	}, 1)
}

// translationMatrix builds B×4×4 pure translations from B×3 vectors.
func translationMatrix(t *tensor.Tensor) *tensor.Tensor {
	batch := t.Dim(0)
	b := t.Backend()
	zero := tensor.Zeros(tensor.Shape{batch, 1}, b)
	one := tensor.Ones(tensor.Shape{batch, 1}, b)
	return stackRows(
		[]*tensor.Tensor{one, zero, zero, t.Narrow(1, 0, 1)},
		[]*tensor.Tensor{zero, one, zero, t.Narrow(1, 1, 1)},
		[]*tensor.Tensor{zero, zero, one, t.Narrow(1, 2, 1)},
		[]*tensor.Tensor{zero, zero, zero, one},
	)
}

// stackRows assembles rows of B×1 entries into a B×R×C matrix.
func stackRows(rows ...[]*tensor.Tensor) *tensor.Tensor {
	stacked := make([]*tensor.Tensor, len(rows))
	for i, row := range rows {
		stacked[i] = tensor.Cat(row, 1).Unsqueeze(1)
	}
	return tensor.Cat(stacked, 1)
}

func repeat(v []float32, n int) []float32 {
	out := make([]float32, 0, len(v)*n)
	for i := 0; i < n; i++ {
		out = append(out, v...)
	}
	return out
}
