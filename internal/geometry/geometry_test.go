package geometry_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvodepth/internal/autodiff"
	"github.com/born-ml/cvodepth/internal/backend/cpu"
	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

const (
	testH = 6
	testW = 10
)

func randomDepth(rng *rand.Rand, batch int, b tensor.Backend) *tensor.Tensor {
	data := make([]float32, batch*testH*testW)
	for i := range data {
		data[i] = 1 + 9*rng.Float32()
	}
	return tensor.MustFromSlice(data, tensor.Shape{batch, 1, testH, testW}, b)
}

func identity(batch int, b tensor.Backend) *tensor.Tensor {
	m := geometry.Matrix4{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	return m.Tensor(batch, b)
}

func randomTransform(rng *rand.Rand, batch int, b tensor.Backend) *tensor.Tensor {
	aa := make([]float32, batch*3)
	tr := make([]float32, batch*3)
	for i := range aa {
		aa[i] = 0.3 * (rng.Float32() - 0.5)
		tr[i] = 0.5 * (rng.Float32() - 0.5)
	}
	return geometry.TransformationFromParameters(
		tensor.MustFromSlice(aa, tensor.Shape{batch, 1, 3}, b),
		tensor.MustFromSlice(tr, tensor.Shape{batch, 1, 3}, b),
		false,
	)
}

func assertCanonicalGrid(t *testing.T, grid *tensor.Tensor, delta float64) {
	t.Helper()
	for b := 0; b < grid.Dim(0); b++ {
		for y := 0; y < testH; y++ {
			for x := 0; x < testW; x++ {
				assert.InDelta(t, 2*float64(x)/(testW-1)-1, grid.At(b, y, x, 0), delta, "x at %d,%d", y, x)
				assert.InDelta(t, 2*float64(y)/(testH-1)-1, grid.At(b, y, x, 1), delta, "y at %d,%d", y, x)
			}
		}
	}
}

func TestScaleIntrinsics(t *testing.T) {
	k, invK, err := geometry.ScaleIntrinsics(geometry.KITTIIntrinsics, 192, 640)
	require.NoError(t, err)
	assert.InDelta(t, 0.58*640, k[0][0], 1e-9)
	assert.InDelta(t, 0.5*640, k[0][2], 1e-9)
	assert.InDelta(t, 1.92*192, k[1][1], 1e-9)
	assert.InDelta(t, 0.5*192, k[1][2], 1e-9)

	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for i := 0; i < 4; i++ {
				sum += invK[r][i] * k[i][c]
			}
			want := 0.0
			if r == c {
				want = 1
			}
			assert.InDelta(t, want, sum, 1e-9, "(K⁻¹K)[%d][%d]", r, c)
		}
	}

	_, _, err = geometry.ScaleIntrinsics(geometry.TUMIntrinsics, 0, 640)
	assert.Error(t, err)
}

func TestProjectBackprojectIdentityRecoversGrid(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(1))
	in, err := geometry.NewIntrinsics(geometry.KITTIIntrinsics, testH, testW, 2, backend)
	require.NoError(t, err)

	bp := geometry.NewBackprojectDepth(testH, testW, backend)
	points := bp.Dense(randomDepth(rng, 2, backend), in)
	assert.Equal(t, tensor.Shape{2, 4, testH * testW}, points.Shape())

	grid := geometry.NewProject3D(testH, testW).Forward(points, in, identity(2, backend))
	assert.Equal(t, tensor.Shape{2, testH, testW, 2}, grid.Shape())
	assertCanonicalGrid(t, grid, 1e-4)
}

func TestProjectWithTransformThenInverse(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(2))
	in, err := geometry.NewIntrinsics(geometry.TUMIntrinsics, testH, testW, 3, backend)
	require.NoError(t, err)
	bp := geometry.NewBackprojectDepth(testH, testW, backend)
	project := geometry.NewProject3D(testH, testW)

	for i := 0; i < 5; i++ {
		points := bp.Dense(randomDepth(rng, 3, backend), in)
		T := randomTransform(rng, 3, backend)
		moved := T.MatMul(points)
		grid := project.Forward(moved, in, geometry.InverseRigid(T))
		assertCanonicalGrid(t, grid, 1e-3)
	}
}

func TestInverseRigidMatchesInvertedParameters(t *testing.T) {
	backend := cpu.New()
	aa := tensor.MustFromSlice([]float32{0.1, -0.2, 0.05}, tensor.Shape{1, 1, 3}, backend)
	tr := tensor.MustFromSlice([]float32{0.3, 0.1, -0.4}, tensor.Shape{1, 1, 3}, backend)

	forward := geometry.TransformationFromParameters(aa, tr, false)
	inverted := geometry.TransformationFromParameters(aa, tr, true)
	closed := geometry.InverseRigid(forward)
	for i, v := range inverted.Data() {
		assert.InDelta(t, v, closed.Data()[i], 1e-5)
	}

	product := forward.MatMul(inverted)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			want := float32(0)
			if r == c {
				want = 1
			}
			assert.InDelta(t, want, product.At(0, r, c), 1e-5)
		}
	}
}

func TestRotationFromAxisAngleQuarterTurn(t *testing.T) {
	backend := cpu.New()
	r := geometry.RotationFromAxisAngle(tensor.MustFromSlice([]float32{0, 0, 1.5707963}, tensor.Shape{1, 3}, backend))
	// Rotating x onto y about z.
	assert.InDelta(t, 0, r.At(0, 0, 0), 1e-5)
	assert.InDelta(t, -1, r.At(0, 0, 1), 1e-5)
	assert.InDelta(t, 1, r.At(0, 1, 0), 1e-5)
	assert.InDelta(t, 1, r.At(0, 2, 2), 1e-5)
	assert.InDelta(t, 1, r.At(0, 3, 3), 1e-6)
}

func TestForwardTranslationClosedFormOffset(t *testing.T) {
	backend := cpu.New()
	const depth, tz = 4.0, 1.0
	in, err := geometry.NewIntrinsics(geometry.KITTIIntrinsics, testH, testW, 1, backend)
	require.NoError(t, err)
	k, _, err := geometry.ScaleIntrinsics(geometry.KITTIIntrinsics, testH, testW)
	require.NoError(t, err)

	d := tensor.Full(tensor.Shape{1, 1, testH, testW}, depth, backend)
	points := geometry.NewBackprojectDepth(testH, testW, backend).Dense(d, in)
	T := geometry.TransformationFromParameters(
		tensor.Zeros(tensor.Shape{1, 1, 3}, backend),
		tensor.MustFromSlice([]float32{0, 0, tz}, tensor.Shape{1, 1, 3}, backend),
		false,
	)
	grid := geometry.NewProject3D(testH, testW).Forward(points, in, T)

	cx, cy := k[0][2], k[1][2]
	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			u := cx + (float64(x)-cx)*depth/(depth+tz)
			v := cy + (float64(y)-cy)*depth/(depth+tz)
			assert.InDelta(t, 2*u/(testW-1)-1, grid.At(0, y, x, 0), 1e-4)
			assert.InDelta(t, 2*v/(testH-1)-1, grid.At(0, y, x, 1), 1e-4)
		}
	}
}

func TestRaggedSkipsInvalidPixels(t *testing.T) {
	backend := cpu.New()
	in, err := geometry.NewIntrinsics(geometry.KITTIIntrinsics, testH, testW, 2, backend)
	require.NoError(t, err)

	depth := tensor.Full(tensor.Shape{2, 1, testH, testW}, 5, backend)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			depth.Set(0, 0, 0, y, x)
		}
	}
	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			depth.Set(0, 1, 0, y, x)
		}
	}

	cloud, masks := geometry.NewBackprojectDepth(testH, testW, backend).Ragged(depth, in)
	require.Len(t, masks, 2)
	assert.Equal(t, testH*testW-12, masks[0].Count())
	assert.Equal(t, 0, masks[1].Count())
	assert.Equal(t, []int{0}, cloud.Samples(), "a sample without valid pixels is absent")
	assert.Equal(t, testH*testW-12, cloud.Len(0))
	assert.Equal(t, 0, cloud.Len(1))

	xyz := cloud.Rows(0, 3)[0]
	assert.Equal(t, tensor.Shape{1, 3, testH*testW - 12}, xyz.Shape())
	for i := 0; i < xyz.Dim(2); i++ {
		assert.InDelta(t, 5, xyz.At(0, 2, i), 1e-5)
	}
}

func TestRaggedTransform(t *testing.T) {
	backend := cpu.New()
	pts := tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6, 1, 1}, tensor.Shape{1, 4, 2}, backend)
	cloud := geometry.RaggedCloud{1: pts}
	T := geometry.TransformationFromParameters(
		tensor.Zeros(tensor.Shape{2, 1, 3}, backend),
		tensor.MustFromSlice([]float32{0, 0, 0, 1, 1, 1}, tensor.Shape{2, 1, 3}, backend),
		false,
	)
	moved := cloud.Transform(T)[1]
	assert.Equal(t, []float32{2, 3, 4, 5, 6, 7, 1, 1}, moved.Data())
}

func TestDispDepthConversions(t *testing.T) {
	backend := cpu.New()
	disp := tensor.MustFromSlice([]float32{0, 1, 0.5}, tensor.Shape{3}, backend)
	_, depth := geometry.DispToDepth(disp, 0.1, 100)
	assert.InDelta(t, 100, depth.Data()[0], 1e-3)
	assert.InDelta(t, 0.1, depth.Data()[1], 1e-6)

	back := geometry.DepthToDisp(tensor.MustFromSlice([]float32{100, 0.1, 0}, tensor.Shape{3}, backend), 0.1, 100)
	assert.InDelta(t, 0, back.Data()[0], 1e-6)
	assert.InDelta(t, 1, back.Data()[1], 1e-6)
	assert.Equal(t, float32(0), back.Data()[2], "missing depth maps to zero disparity")
}

func TestResolutionMismatchPanics(t *testing.T) {
	backend := cpu.New()
	in, err := geometry.NewIntrinsics(geometry.KITTIIntrinsics, testH*2, testW*2, 1, backend)
	require.NoError(t, err)
	bp := geometry.NewBackprojectDepth(testH, testW, backend)
	assert.Panics(t, func() { bp.Dense(tensor.Ones(tensor.Shape{1, 1, testH, testW}, backend), in) })
}

func TestGradientsFlowToTranslation(t *testing.T) {
	backend := autodiff.New(cpu.New())
	in, err := geometry.NewIntrinsics(geometry.KITTIIntrinsics, testH, testW, 1, cpu.New())
	require.NoError(t, err)

	backend.Tape().StartRecording()
	depth := tensor.Full(tensor.Shape{1, 1, testH, testW}, 3, backend)
	translation := tensor.MustFromSlice([]float32{0.1, 0, 0}, tensor.Shape{1, 1, 3}, backend)
	T := geometry.TransformationFromParameters(tensor.MustFromSlice([]float32{0.01, 0.02, 0}, tensor.Shape{1, 1, 3}, backend), translation, false)
	points := geometry.NewBackprojectDepth(testH, testW, backend).Dense(depth, in)
	grid := geometry.NewProject3D(testH, testW).Forward(points, in, T)

	grads := autodiff.Backward(grid.Sum(), backend)
	g := grads.Of(translation)
	require.NotNil(t, g)
	assert.True(t, tensor.New(g, backend).IsFinite())
	assert.NotZero(t, g.Data()[0])
}
