package autodiff_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvodepth/internal/autodiff"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// checkGradients compares autodiff gradients of f with central finite
// differences for every element of every input.
func checkGradients(t *testing.T, b *autodiff.AutodiffBackend, inputs []*tensor.Tensor, f func() *tensor.Tensor) {
	t.Helper()
	const eps = 1e-2

	b.Tape().Clear()
	b.Tape().StartRecording()
	grads := autodiff.Backward(f(), b)
	b.Tape().StopRecording()

	eval := func() float64 {
		var v float32
		b.NoGrad(func() { v = f().Item() })
		return float64(v)
	}

	for k, in := range inputs {
		analytic := grads.Of(in)
		require.NotNil(t, analytic, "input %d received no gradient", k)
		data := in.Data()
		for i := range data {
			orig := data[i]
			data[i] = orig + eps
			plus := eval()
			data[i] = orig - eps
			minus := eval()
			data[i] = orig

			numeric := (plus - minus) / (2 * eps)
			tol := 2e-2 * math.Max(1, math.Abs(numeric))
			assert.InDelta(t, numeric, float64(analytic.Data()[i]), tol, "input %d element %d", k, i)
		}
	}
}

// weighted reduces out to a scalar with fixed random weights so every
// output element contributes differently.
func weighted(rng *rand.Rand, b tensor.Backend, out *tensor.Tensor) func(*tensor.Tensor) *tensor.Tensor {
	w := randTensor(rng, b, -1, 1, out.Shape()...)
	return func(o *tensor.Tensor) *tensor.Tensor { return o.Mul(w).Sum() }
}

func TestGradients_Elementwise(t *testing.T) {
	b := newBackend()
	rng := rand.New(rand.NewSource(1))
	x := randTensor(rng, b, 0.5, 2, 2, 3)
	y := randTensor(rng, b, 0.5, 2, 2, 3)
	var reduce func(*tensor.Tensor) *tensor.Tensor
	f := func() *tensor.Tensor {
		out := x.Div(y).Add(x.Log()).Sub(y.Sqrt()).Mul(x.Exp().Sigmoid()).
			Add(x.Sin().Mul(y.Cos())).Add(x.RSubScalar(1.2).ELU())
		if reduce == nil {
			reduce = weighted(rng, b, out)
		}
		return reduce(out)
	}
	checkGradients(t, b, []*tensor.Tensor{x, y}, f)
}

func TestGradients_Reductions(t *testing.T) {
	b := newBackend()
	rng := rand.New(rand.NewSource(2))
	x := randTensor(rng, b, -1, 1, 2, 3, 4)
	w := randTensor(rng, b, -1, 1, 2, 4)
	f := func() *tensor.Tensor {
		return x.SumDim(1, false).Mul(w).Sum().Add(x.StdDim(2, false).Sum()).Add(x.MeanDim(0, true).Square().Sum())
	}
	checkGradients(t, b, []*tensor.Tensor{x}, f)
}

func TestGradients_Shape(t *testing.T) {
	b := newBackend()
	rng := rand.New(rand.NewSource(3))
	x := randTensor(rng, b, -1, 1, 2, 3, 4)
	var reduce func(*tensor.Tensor) *tensor.Tensor
	f := func() *tensor.Tensor {
		p := x.Transpose(2, 0, 1).Reshape(4, 6)
		n := x.Narrow(2, 1, 2).Flatten(1)
		s := x.Shift2D(1, -1).IndexSelect(1, []int{2, 0, 2}).Reshape(4, -1)
		out := tensor.Cat([]*tensor.Tensor{p.Reshape(-1), n.Reshape(-1), s.Reshape(-1)}, 0)
		if reduce == nil {
			reduce = weighted(rng, b, out)
		}
		return reduce(out)
	}
	checkGradients(t, b, []*tensor.Tensor{x}, f)
}

func TestGradients_MatMulBroadcast(t *testing.T) {
	b := newBackend()
	rng := rand.New(rand.NewSource(4))
	a := randTensor(rng, b, -1, 1, 1, 3, 4)
	c := randTensor(rng, b, -1, 1, 2, 4, 5)
	var reduce func(*tensor.Tensor) *tensor.Tensor
	f := func() *tensor.Tensor {
		out := a.MatMul(c)
		if reduce == nil {
			reduce = weighted(rng, b, out)
		}
		return reduce(out)
	}
	checkGradients(t, b, []*tensor.Tensor{a, c}, f)
}

func TestGradients_SqDist(t *testing.T) {
	b := newBackend()
	rng := rand.New(rand.NewSource(5))
	a := randTensor(rng, b, -1, 1, 3, 4)
	c := randTensor(rng, b, -1, 1, 3, 5)
	f := func() *tensor.Tensor {
		return a.SqDist(c).MulScalar(-0.5).Exp().Sum()
	}
	checkGradients(t, b, []*tensor.Tensor{a, c}, f)
}

func TestGradients_Conv2D(t *testing.T) {
	b := newBackend()
	rng := rand.New(rand.NewSource(6))
	x := randTensor(rng, b, -1, 1, 1, 2, 5, 5)
	k := randTensor(rng, b, -1, 1, 3, 2, 3, 3)
	var reduce func(*tensor.Tensor) *tensor.Tensor
	f := func() *tensor.Tensor {
		out := x.ReflectionPad2D(1).Conv2D(k, 2, 0)
		if reduce == nil {
			reduce = weighted(rng, b, out)
		}
		return reduce(out)
	}
	checkGradients(t, b, []*tensor.Tensor{x, k}, f)
}

func TestGradients_Resampling(t *testing.T) {
	b := newBackend()
	rng := rand.New(rand.NewSource(7))
	x := randTensor(rng, b, -1, 1, 1, 2, 4, 4)
	var reduce func(*tensor.Tensor) *tensor.Tensor
	f := func() *tensor.Tensor {
		a := x.AvgPool2D(2, 2).Upsample2D(2)
		i := x.Interpolate(3, 7)
		out := tensor.Cat([]*tensor.Tensor{a.Reshape(-1), i.Reshape(-1)}, 0)
		if reduce == nil {
			reduce = weighted(rng, b, out)
		}
		return reduce(out)
	}
	checkGradients(t, b, []*tensor.Tensor{x}, f)
}

func TestGradients_GridSample(t *testing.T) {
	b := newBackend()
	rng := rand.New(rand.NewSource(8))
	x := randTensor(rng, b, -1, 1, 1, 2, 4, 4)
	// pixel positions (0.5, 1.3, 2.6) keep every sample away from cell edges
	coords := []float32{-2.0 / 3, -0.1333, 0.7333}
	data := make([]float32, 0, 18)
	for _, gy := range coords {
		for _, gx := range coords[:2] {
			data = append(data, gx, gy)
		}
	}
	grid := tensor.MustFromSlice(data, tensor.Shape{1, 3, 2, 2}, b)
	var reduce func(*tensor.Tensor) *tensor.Tensor
	f := func() *tensor.Tensor {
		out := x.GridSample(grid)
		if reduce == nil {
			reduce = weighted(rng, b, out)
		}
		return reduce(out)
	}
	checkGradients(t, b, []*tensor.Tensor{x, grid}, f)
}
