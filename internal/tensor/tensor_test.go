package tensor_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvodepth/internal/backend/cpu"
	"github.com/born-ml/cvodepth/internal/tensor"
)

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b      tensor.Shape
		want      tensor.Shape
		broadcast bool
		wantErr   bool
	}{
		{tensor.Shape{3, 1}, tensor.Shape{3, 5}, tensor.Shape{3, 5}, true, false},
		{tensor.Shape{3, 5}, tensor.Shape{3, 5}, tensor.Shape{3, 5}, false, false},
		{tensor.Shape{5}, tensor.Shape{2, 5}, tensor.Shape{2, 5}, true, false},
		{tensor.Shape{}, tensor.Shape{2}, tensor.Shape{2}, true, false},
		{tensor.Shape{3, 4}, tensor.Shape{3, 5}, nil, false, true},
	}
	for _, tt := range tests {
		got, bc, err := tensor.BroadcastShapes(tt.a, tt.b)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.broadcast, bc, "%v vs %v", tt.a, tt.b)
	}
}

func TestBroadcastStrides(t *testing.T) {
	assert.Equal(t, []int{0, 1}, tensor.BroadcastStrides(tensor.Shape{3}, tensor.Shape{2, 3}))
	assert.Equal(t, []int{1, 0}, tensor.BroadcastStrides(tensor.Shape{2, 1}, tensor.Shape{2, 3}))
}

func TestFromSlice_ShapeMismatch(t *testing.T) {
	_, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{2, 2}, cpu.New())
	assert.Error(t, err)

	_, err = tensor.FromSlice([]float32{}, tensor.Shape{0}, cpu.New())
	assert.Error(t, err)
}

func TestTensor_AtSetItem(t *testing.T) {
	b := cpu.New()
	x := tensor.Zeros(tensor.Shape{2, 3}, b)
	x.Set(5, 1, 2)
	assert.Equal(t, float32(5), x.At(1, 2))
	assert.Equal(t, float32(5), x.Data()[5])
	assert.Equal(t, float32(5), x.Sum().Item())
	assert.Panics(t, func() { x.Item() })
	assert.Panics(t, func() { x.At(2, 0) })
}

func TestTensor_DetachSharesData(t *testing.T) {
	b := cpu.New()
	x := tensor.MustFromSlice([]float32{1, 2}, tensor.Shape{2}, b)
	d := x.Detach()
	assert.NotSame(t, x.Raw(), d.Raw())
	x.Data()[0] = 9
	assert.Equal(t, float32(9), d.At(0))

	c := x.Clone()
	x.Data()[1] = 7
	assert.Equal(t, float32(2), c.At(1))
}

func TestTensor_ReshapeInference(t *testing.T) {
	b := cpu.New()
	x := tensor.Zeros(tensor.Shape{2, 3, 4}, b)
	assert.Equal(t, tensor.Shape{6, 4}, x.Reshape(-1, 4).Shape())
	assert.Equal(t, tensor.Shape{2, 12}, x.Flatten(1).Shape())
	assert.Equal(t, tensor.Shape{2, 1, 3, 4}, x.Unsqueeze(1).Shape())
	assert.Equal(t, tensor.Shape{2, 3, 4, 1}, x.Unsqueeze(-1).Shape())
	assert.Panics(t, func() { x.Reshape(-1, 5) })
}

func TestTensor_Statistics(t *testing.T) {
	b := cpu.New()
	x := tensor.MustFromSlice([]float32{1, 2, 3, 4, 6, 8}, tensor.Shape{2, 3}, b)

	assert.InDelta(t, 4.0, float64(x.Mean().Item()), 1e-6)
	assert.InDeltaSlice(t, []float32{2, 6}, x.MeanDim(1, false).Data(), 1e-6)

	std := x.StdDim(1, false).Data()
	assert.InDelta(t, 1.0, float64(std[0]), 1e-6)
	assert.InDelta(t, 2.0, float64(std[1]), 1e-6)

	assert.Panics(t, func() { x.Narrow(0, 0, 1).StdDim(0, false) })
}

func TestTensor_IsFinite(t *testing.T) {
	b := cpu.New()
	x := tensor.MustFromSlice([]float32{1, 2}, tensor.Shape{2}, b)
	assert.True(t, x.IsFinite())
	x.Set(float32(math.Inf(1)), 1)
	assert.False(t, x.IsFinite())
	x.Set(float32(math.NaN()), 1)
	assert.False(t, x.IsFinite())
}

func TestCat(t *testing.T) {
	b := cpu.New()
	a := tensor.Ones(tensor.Shape{1, 2}, b)
	c := tensor.Zeros(tensor.Shape{2, 2}, b)
	out := tensor.Cat([]*tensor.Tensor{a, c}, 0)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 1, 0, 0, 0, 0}, out.Data())
}
