package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvodepth/internal/tensor"
)

func raw(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.RawFromSlice(data, tensor.Shape(shape), tensor.CPU)
	require.NoError(t, err)
	return r
}

func TestAdd_Broadcast(t *testing.T) {
	b := New()
	a := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	row := raw(t, []float32{10, 20, 30}, 3)
	col := raw(t, []float32{100, 200}, 2, 1)

	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, b.Add(a, row).Data())
	assert.Equal(t, []float32{101, 102, 103, 204, 205, 206}, b.Add(a, col).Data())

	scalar := raw(t, []float32{2}, 1)
	assert.Equal(t, []float32{2, 4, 6, 8, 10, 12}, b.Mul(a, scalar).Data())
}

func TestAdd_IncompatiblePanics(t *testing.T) {
	b := New()
	assert.Panics(t, func() {
		b.Add(raw(t, []float32{1, 2, 3}, 3), raw(t, []float32{1, 2}, 2))
	})
}

func TestSumDim_MinDim(t *testing.T) {
	b := New()
	x := raw(t, []float32{3, 1, 2, 0, 5, 0}, 2, 3)

	assert.Equal(t, []float32{3, 6, 2}, b.SumDim(x, 0, false).Data())
	assert.Equal(t, tensor.Shape{2, 1}, b.SumDim(x, 1, true).Shape())
	assert.Equal(t, []float32{6, 5}, b.SumDim(x, -1, false).Data())

	assert.Equal(t, []float32{1, 0}, b.MinDim(x, 1, false).Data())
	// ties resolve to the first index
	assert.Equal(t, []float32{1, 0}, b.ArgMinDim(x, 1, false).Data())
	assert.InDelta(t, 11.0, float64(b.Sum(x).Data()[0]), 1e-6)
}

func TestTranspose(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	out := b.Transpose(x)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.Data())

	axes := []int{1, 0}
	b.Transpose(x, axes...)
	assert.Equal(t, []int{1, 0}, axes)
}

func TestNarrowCatIndexSelect(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	n := b.Narrow(x, 1, 1, 2)
	assert.Equal(t, []float32{2, 3, 5, 6}, n.Data())

	c := b.Cat([]*tensor.RawTensor{x, n}, 1)
	assert.Equal(t, tensor.Shape{2, 5}, c.Shape())
	assert.Equal(t, []float32{1, 2, 3, 2, 3, 4, 5, 6, 5, 6}, c.Data())

	s := b.IndexSelect(x, 1, []int{2, 0})
	assert.Equal(t, []float32{3, 1, 6, 4}, s.Data())
	assert.Panics(t, func() { b.IndexSelect(x, 1, []int{3}) })
}

func TestShift2D(t *testing.T) {
	b := New()
	x := raw(t, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, 1, 3, 3)

	down := b.Shift2D(x, 1, 0)
	assert.Equal(t, []float32{0, 0, 0, 1, 2, 3, 4, 5, 6}, down.Data())

	left := b.Shift2D(x, 0, -1)
	assert.Equal(t, []float32{2, 3, 0, 5, 6, 0, 8, 9, 0}, left.Data())

	gone := b.Shift2D(x, 3, 0)
	assert.Equal(t, make([]float32, 9), gone.Data())
}

func TestMatMul_Batched(t *testing.T) {
	b := New()
	a := raw(t, []float32{1, 0, 0, 1, 2, 0, 0, 2}, 2, 2, 2)
	v := raw(t, []float32{1, 2, 3, 4}, 2, 2)

	out := b.MatMul(a, v)
	assert.Equal(t, tensor.Shape{2, 2, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 2, 4, 6, 8}, out.Data())
}

func TestSqDist(t *testing.T) {
	b := New()
	a := raw(t, []float32{0, 1, 0, 0}, 2, 2) // points (0,0) and (1,0)
	c := raw(t, []float32{0, 3, 4, 0}, 2, 2) // points (0,4) and (3,0)

	out := b.SqDist(a, c)
	assert.Equal(t, []float32{16, 9, 17, 4}, out.Data())
}

func TestConv2D_BasicForward(t *testing.T) {
	b := New()
	input := raw(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 1, 3, 3)
	kernel := raw(t, []float32{1, 0, 0, 1}, 1, 1, 2, 2)

	out := b.Conv2D(input, kernel, 1, 0)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{6, 8, 12, 14}, out.Data())

	padded := b.Conv2D(input, raw(t, []float32{1}, 1, 1, 1, 1), 2, 1)
	assert.Equal(t, tensor.Shape{1, 1, 3, 3}, padded.Shape())
	assert.Equal(t, []float32{0, 0, 0, 0, 5, 0, 0, 0, 0}, padded.Data())
}

func TestConv2D_BackwardMatchesAdjoint(t *testing.T) {
	b := New()
	input := raw(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 1, 3, 3)
	kernel := raw(t, []float32{1, -1, 2, 0.5}, 1, 1, 2, 2)
	ones := raw(t, []float32{1, 1, 1, 1}, 1, 1, 2, 2)

	// d(sum(out))/d(kernel[i]) is the sum of the inputs it touches.
	gk := b.Conv2DKernelBackward(input, kernel, ones, 1, 0)
	assert.Equal(t, []float32{12, 16, 24, 28}, gk.Data())

	// d(sum(out))/d(input) counts kernel taps per pixel.
	gi := b.Conv2DInputBackward(input, kernel, ones, 1, 0)
	assert.InDeltaSlice(t, []float32{1, 0, -1, 3, 2.5, -0.5, 2, 2.5, 0.5}, gi.Data(), 1e-6)
}

func TestAvgPoolAndUpsample(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4}, 1, 1, 2, 2)

	up := b.Upsample2D(x, 2)
	assert.Equal(t, tensor.Shape{1, 1, 4, 4}, up.Shape())
	assert.Equal(t, float32(2), up.Data()[2])
	assert.Equal(t, float32(4), up.Data()[15])

	down := b.AvgPool2D(up, 2, 2)
	assert.Equal(t, x.Data(), down.Data())

	g := b.Upsample2DBackward(raw(t, filled(16, 1), 1, 1, 4, 4), 2)
	assert.Equal(t, []float32{4, 4, 4, 4}, g.Data())
}

func filled(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestReflectionPad2D(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 1, 3, 3)
	p := b.ReflectionPad2D(x, 1)
	assert.Equal(t, tensor.Shape{1, 1, 5, 5}, p.Shape())
	assert.Equal(t, []float32{5, 4, 5, 6, 5}, p.Data()[:5])
	assert.Equal(t, []float32{2, 1, 2, 3, 2}, p.Data()[5:10])

	g := b.ReflectionPad2DBackward(x, raw(t, filled(25, 1), 1, 1, 5, 5), 1)
	var total float32
	for _, v := range g.Data() {
		total += v
	}
	assert.InDelta(t, 25.0, float64(total), 1e-6)
}

func TestInterpolate_IdentityAndConstant(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4}, 1, 1, 2, 2)

	same := b.Interpolate(x, 2, 2)
	assert.Equal(t, x.Data(), same.Data())

	c := raw(t, []float32{7, 7, 7, 7}, 1, 1, 2, 2)
	big := b.Interpolate(c, 5, 3)
	assert.Equal(t, tensor.Shape{1, 1, 5, 3}, big.Shape())
	for _, v := range big.Data() {
		assert.InDelta(t, 7.0, float64(v), 1e-6)
	}

	// every input pixel contributes once in total when up-sampling 2x
	grad := b.InterpolateBackward(x, raw(t, filled(16, 1), 1, 1, 4, 4))
	var total float32
	for _, v := range grad.Data() {
		total += v
	}
	assert.InDelta(t, 16.0, float64(total), 1e-5)
}

func TestGridSample_CornersAndBorder(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4}, 1, 1, 2, 2)
	grid := raw(t, []float32{
		-1, -1, 1, -1,
		0, 0, 5, 5,
	}, 1, 2, 2, 2)

	out := b.GridSample(x, grid)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.InDeltaSlice(t, []float32{1, 2, 2.5, 4}, out.Data(), 1e-6)
}

func TestGridSampleBackward_Gradients(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4}, 1, 1, 2, 2)
	grid := raw(t, []float32{0, 0, 3, 0}, 1, 1, 2, 2)
	g := raw(t, []float32{1, 1}, 1, 1, 1, 2)

	gi, gg := b.GridSampleBackward(x, grid, g)

	// centre sample splits evenly; the clamped one hits the right column
	assert.InDeltaSlice(t, []float32{0.25, 0.75, 0.25, 0.75}, gi.Data(), 1e-6)
	// d/dx at centre: (W-1)/2 * (avg right - avg left) = 0.5 * 1
	assert.InDelta(t, 0.5, float64(gg.Data()[0]), 1e-6)
	assert.InDelta(t, 1.0, float64(gg.Data()[1]), 1e-6)
	// clamped coordinate gets no gradient
	assert.Equal(t, float32(0), gg.Data()[2])
}
