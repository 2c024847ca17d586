package cvo_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvodepth/internal/backend/cpu"
	"github.com/born-ml/cvodepth/internal/cvo"
	"github.com/born-ml/cvodepth/internal/tensor"
)

func randomCloud(rng *rand.Rand, n int, b tensor.Backend) cvo.Cloud {
	xyz := make([]float32, 3*n)
	rgb := make([]float32, 3*n)
	for i := range xyz {
		xyz[i] = 0.3 * rng.Float32()
		rgb[i] = rng.Float32()
	}
	return cvo.Cloud{
		XYZ: tensor.MustFromSlice(xyz, tensor.Shape{1, 3, n}, b),
		HSV: cvo.HSV(tensor.MustFromSlice(rgb, tensor.Shape{1, 3, n}, b)),
	}
}

func copyCloud(c cvo.Cloud) cvo.Cloud {
	return cvo.Cloud{XYZ: c.XYZ.Clone(), HSV: c.HSV.Clone()}
}

func TestGramian(t *testing.T) {
	backend := cpu.New()
	a := tensor.MustFromSlice([]float32{0, 1}, tensor.Shape{1, 1, 2}, backend)
	b := tensor.MustFromSlice([]float32{0}, tensor.Shape{1, 1, 1}, backend)
	g := cvo.Gramian(a, b, 0.5)
	assert.Equal(t, tensor.Shape{2, 1}, g.Shape())
	assert.InDelta(t, 1, g.At(0, 0), 1e-7)
	assert.InDelta(t, math.Exp(-2), g.At(1, 0), 1e-6)
}

func TestSparse_IdentityIsExactlyZero(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(1))
	c := randomCloud(rng, 40, backend)

	for _, norm := range []cvo.Norm{cvo.NormOri, cvo.NormSep, cvo.NormTog} {
		e := cvo.New(cvo.Options{UseHSV: true, XYZNorm: norm, HSVNorm: norm}, rng)

		same := e.Sparse(c, c)
		assert.Equal(t, float32(0), same.FDist.Item(), "same frame, %s", norm)
		assert.Equal(t, float32(0), same.Cos.Item(), "same frame, %s", norm)

		// A copy holds equal values but is not the same frame.
		r := e.InnerProducts(c, copyCloud(c))
		assert.Equal(t, float32(0), r.FDist.Item(), "copy, %s", norm)
		assert.InDelta(t, 0, r.Cos.Item(), 1e-6, "copy, %s", norm)
	}
}

func TestSparse_Symmetry(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(2))
	a, b := randomCloud(rng, 30, backend), randomCloud(rng, 45, backend)

	for _, norm := range []cvo.Norm{cvo.NormOri, cvo.NormTog} {
		e := cvo.New(cvo.Options{UseHSV: true, HSVNorm: norm}, rng)
		ab := e.InnerProducts(a, b)
		ba := e.InnerProducts(b, a)
		assert.InEpsilon(t, ab.Inp01.Item(), ba.Inp01.Item(), 1e-5, "%s", norm)
		assert.InEpsilon(t, ab.FDist.Item(), ba.FDist.Item(), 1e-4, "%s", norm)
	}
}

func TestSparse_DifferentCloudsArePositive(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(3))
	a, b := randomCloud(rng, 25, backend), randomCloud(rng, 25, backend)
	e := cvo.New(cvo.Options{UseHSV: true}, rng)
	r := e.InnerProducts(a, b)
	assert.Greater(t, r.FDist.Item(), float32(0))
	assert.Greater(t, r.Cos.Item(), float32(0))
	assert.Less(t, r.Cos.Item(), float32(1))
	assert.Equal(t, -r.Inp01.Item(), r.NegInp().Item())
}

func TestSparse_NormalizeOverPoints(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(4))
	a, b := randomCloud(rng, 10, backend), randomCloud(rng, 20, backend)
	raw := cvo.New(cvo.Options{}, rng).InnerProducts(a, b)
	norm := cvo.New(cvo.Options{NormalizeOverPoints: true}, rng).InnerProducts(a, b)
	assert.InEpsilon(t, raw.Inp01.Item()/200, norm.Inp01.Item(), 1e-5)
	assert.InEpsilon(t, raw.Inp11.Item()/400, norm.Inp11.Item(), 1e-5)
}

func TestSubsample(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	all := cvo.Subsample(rng, 5, 10)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, all, "under the cap every point is kept in order")
	assert.Equal(t, []int{0, 1, 2}, cvo.Subsample(rng, 3, 3))

	picked := cvo.Subsample(rng, 100, 7)
	require.Len(t, picked, 7)
	seen := map[int]bool{}
	for _, i := range picked {
		assert.False(t, seen[i], "no replacement")
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 100)
		seen[i] = true
	}

	again := cvo.Subsample(rand.New(rand.NewSource(9)), 100, 7)
	same := cvo.Subsample(rand.New(rand.NewSource(9)), 100, 7)
	assert.Equal(t, again, same, "seeded sampling is reproducible")
}

func TestSparse_CapBoundsGramian(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(6))
	a, b := randomCloud(rng, 50, backend), randomCloud(rng, 8, backend)
	e := cvo.New(cvo.Options{Cap: 10, NormalizeOverPoints: true}, rng)
	r := e.Sparse(a, b)
	// With normalization the self product of a unit-diagonal Gramian is at most 1.
	assert.LessOrEqual(t, r.Inp00.Item(), float32(1))
	assert.True(t, r.FDist.IsFinite())
}

func TestDistances_GuardedCosine(t *testing.T) {
	backend := cpu.New()
	zero := tensor.Scalar(0, backend)
	r := cvo.Distances(zero, tensor.Scalar(2, backend), zero)
	assert.Equal(t, float32(2), r.FDist.Item())
	assert.Equal(t, float32(0), r.Cos.Item())
	assert.True(t, r.Cos.IsFinite())
}

func denseCloud(rng *rand.Rand, b tensor.Backend) cvo.DenseCloud {
	const h, w = 6, 7
	xyz := make([]float32, 3*h*w)
	for i := range xyz {
		xyz[i] = 0.2 * rng.Float32()
	}
	mask := tensor.Ones(tensor.Shape{1, 1, h, w}, b)
	mask.Set(0, 0, 0, 2, 3)
	return cvo.DenseCloud{
		XYZ:  tensor.MustFromSlice(xyz, tensor.Shape{1, 3, h, w}, b),
		HSV:  cvo.HSV(tensor.Full(tensor.Shape{1, 3, h, w}, 0.5, b)),
		Mask: mask,
	}
}

func TestDense_IdenticalClouds(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(7))
	c := denseCloud(rng, backend)
	e := cvo.New(cvo.Options{UseHSV: true}, rng)

	same := e.Dense(c, c)
	assert.Equal(t, float32(0), same.FDist.Item())
	assert.Equal(t, float32(0), same.Cos.Item())

	copied := cvo.DenseCloud{XYZ: c.XYZ.Clone(), HSV: c.HSV.Clone(), Mask: c.Mask.Clone()}
	r := e.Dense(c, copied)
	assert.Equal(t, float32(0), r.FDist.Item())
	assert.InDelta(t, 0, r.Cos.Item(), 1e-6)
}

func TestDense_SparseAgreeOnIdenticalClouds(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(8))
	c := randomCloud(rng, 16, backend)
	e := cvo.New(cvo.Options{UseHSV: true}, rng)
	sparse := e.InnerProducts(c, copyCloud(c))

	d := cvo.DenseCloud{
		XYZ:  c.XYZ.Reshape(1, 3, 4, 4),
		HSV:  c.HSV.Reshape(1, 3, 4, 4),
		Mask: tensor.Ones(tensor.Shape{1, 1, 4, 4}, backend),
	}
	dcopy := cvo.DenseCloud{XYZ: d.XYZ.Clone(), HSV: d.HSV.Clone(), Mask: d.Mask.Clone()}
	dense := e.Dense(d, dcopy)

	assert.Equal(t, sparse.FDist.Item(), dense.FDist.Item())
	assert.InDelta(t, sparse.Cos.Item(), dense.Cos.Item(), 1e-6)
}

func TestDenseInner_MaskedHostPixelContributesNothing(t *testing.T) {
	backend := cpu.New()
	const h, w = 3, 3
	// One valid pixel on each side, at the same location: only the zero
	// offset matches, with kernel value 1.
	mask := tensor.Zeros(tensor.Shape{1, 1, h, w}, backend)
	mask.Set(1, 0, 0, 1, 1)
	c := cvo.DenseCloud{XYZ: tensor.Zeros(tensor.Shape{1, 3, h, w}, backend), Mask: mask}
	e := cvo.New(cvo.Options{}, rand.New(rand.NewSource(1)))
	assert.InDelta(t, 1, e.DenseInner(c, c).Item(), 1e-7)

	empty := cvo.DenseCloud{XYZ: c.XYZ, Mask: tensor.Zeros(tensor.Shape{1, 1, h, w}, backend)}
	assert.Equal(t, float32(0), e.DenseInner(empty, c).Item())
}

func TestHSV(t *testing.T) {
	backend := cpu.New()
	rgb := tensor.MustFromSlice([]float32{
		1, 0, 0.5, // R
		0, 1, 0.5, // G
		0, 0, 0.5, // B
	}, tensor.Shape{1, 3, 3}, backend)
	hsv := cvo.HSV(rgb)
	assert.InDelta(t, 0, hsv.At(0, 0, 0), 1e-6)
	assert.InDelta(t, 1.0/3, hsv.At(0, 0, 1), 1e-6)
	assert.InDelta(t, 1, hsv.At(0, 1, 0), 1e-6)
	assert.InDelta(t, 0, hsv.At(0, 1, 2), 1e-6)
	assert.InDelta(t, 0.5, hsv.At(0, 2, 2), 1e-6)
}

func TestOptionsItem(t *testing.T) {
	assert.Equal(t, "hsv_ori_xyz_ori_", cvo.Options{UseHSV: true}.Item())
	assert.Equal(t, "xyz_sep_", cvo.Options{XYZNorm: cvo.NormSep}.Item())
	assert.False(t, cvo.Norm("other").Valid())
}
