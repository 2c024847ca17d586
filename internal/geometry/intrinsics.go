package geometry

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// Matrix4 is a row-major 4×4 matrix.
type Matrix4 [4][4]float64

// Base intrinsics normalized by image size.
var (
	KITTIIntrinsics = Matrix4{
		{0.58, 0, 0.5, 0},
		{0, 1.92, 0.5, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	TUMIntrinsics = Matrix4{
		{0.8203125, 0, 0.49921875, 0},
		{0, 1.09375, 0.4989583, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
)

// Intrinsics holds batched camera matrices for one pyramid scale.
//
// K and InvK are B×4×4 (or 1×4×4, broadcast over the batch). Height and
// Width are the resolution the matrices were scaled for; kernels refuse
// inputs of any other resolution.
type Intrinsics struct {
	Height int
	Width  int
	K      *tensor.Tensor
	InvK   *tensor.Tensor
}

// ScaleIntrinsics scales the normalized base matrix to a height×width image:
// row 0 is multiplied by width and row 1 by height. The inverse is the
// Moore-Penrose pseudo-inverse.
func ScaleIntrinsics(base Matrix4, height, width int) (k, invK Matrix4, err error) {
	if height <= 0 || width <= 0 {
		return k, invK, errors.Errorf("invalid resolution %dx%d", width, height)
	}
	k = base
	for c := 0; c < 4; c++ {
		k[0][c] *= float64(width)
		k[1][c] *= float64(height)
	}
	invK, err = pseudoInverse(k)
	return k, invK, err
}

// NewIntrinsics builds batch-replicated intrinsics for a height×width image.
func NewIntrinsics(base Matrix4, height, width, batch int, b tensor.Backend) (Intrinsics, error) {
	k, invK, err := ScaleIntrinsics(base, height, width)
	if err != nil {
		return Intrinsics{}, err
	}
	return Intrinsics{
		Height: height,
		Width:  width,
		K:      k.Tensor(batch, b),
		InvK:   invK.Tensor(batch, b),
	}, nil
}

// NewBatchIntrinsics scales one base matrix per sample.
func NewBatchIntrinsics(bases []Matrix4, height, width int, b tensor.Backend) (Intrinsics, error) {
	if len(bases) == 0 {
		return Intrinsics{}, errors.New("geometry: no intrinsics")
	}
	k := make([]float32, 0, 16*len(bases))
	invK := make([]float32, 0, 16*len(bases))
	for i, base := range bases {
		sk, sinv, err := ScaleIntrinsics(base, height, width)
		if err != nil {
			return Intrinsics{}, errors.Wrapf(err, "sample %d", i)
		}
		k = sk.appendTo(k)
		invK = sinv.appendTo(invK)
	}
	shape := tensor.Shape{len(bases), 4, 4}
	return Intrinsics{
		Height: height,
		Width:  width,
		K:      tensor.MustFromSlice(k, shape, b),
		InvK:   tensor.MustFromSlice(invK, shape, b),
	}, nil
}

// StackMatrices copies one matrix per sample into a len(ms)×4×4 tensor.
func StackMatrices(ms []Matrix4, b tensor.Backend) *tensor.Tensor {
	data := make([]float32, 0, 16*len(ms))
	for _, m := range ms {
		data = m.appendTo(data)
	}
	return tensor.MustFromSlice(data, tensor.Shape{len(ms), 4, 4}, b)
}

func (m Matrix4) appendTo(dst []float32) []float32 {
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			dst = append(dst, float32(m[r][c]))
		}
	}
	return dst
}

// Check panics unless the intrinsics were scaled for height×width.
func (in Intrinsics) Check(height, width int) {
	if in.Height != height || in.Width != width {
		panic(fmt.Sprintf("geometry: intrinsics for %dx%d used at %dx%d", in.Width, in.Height, width, height))
	}
}

// Tensor replicates m into a batch×4×4 tensor.
func (m Matrix4) Tensor(batch int, b tensor.Backend) *tensor.Tensor {
	data := make([]float32, 0, batch*16)
	for i := 0; i < batch; i++ {
		data = m.appendTo(data)
	}
	return tensor.MustFromSlice(data, tensor.Shape{batch, 4, 4}, b)
}

func pseudoInverse(m Matrix4) (Matrix4, error) {
	var out Matrix4
	a := mat.NewDense(4, 4, nil)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			a.Set(r, c, m[r][c])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return out, errors.New("geometry: SVD factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	// Same cutoff as numpy.linalg.pinv (rcond = 1e-15).
	cutoff := 1e-15 * values[0]
	inv := make([]float64, len(values))
	for i, s := range values {
		if s > cutoff {
			inv[i] = 1 / s
		}
	}

	var vs, p mat.Dense
	vs.Mul(&v, mat.NewDiagDense(len(inv), inv))
	p.Mul(&vs, u.T())
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r][c] = p.At(r, c)
		}
	}
	return out, nil
}
