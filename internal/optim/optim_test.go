package optim_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvodepth/internal/autodiff"
	"github.com/born-ml/cvodepth/internal/backend/cpu"
	"github.com/born-ml/cvodepth/internal/nn"
	"github.com/born-ml/cvodepth/internal/optim"
	"github.com/born-ml/cvodepth/internal/tensor"
)

func param(name string, values ...float32) *nn.Parameter {
	return nn.NewParameter(name, tensor.MustFromSlice(values, tensor.Shape{len(values)}, cpu.New()))
}

func grad(values ...float32) *tensor.RawTensor {
	r, _ := tensor.RawFromSlice(values, tensor.Shape{len(values)}, tensor.CPU)
	return r
}

func TestAdam_FirstStepMovesByLR(t *testing.T) {
	p := param("x", 2, -1)
	opt := optim.NewAdam([]*nn.Parameter{p}, optim.AdamConfig{LR: 0.1})

	p.AccumulateGrad(grad(3, -0.5))
	opt.Step()

	// With bias correction the first update is lr * sign(grad).
	assert.InDelta(t, 1.9, p.Tensor().Data()[0], 1e-5)
	assert.InDelta(t, -0.9, p.Tensor().Data()[1], 1e-5)
	assert.Equal(t, 1, opt.GetTimestep())
}

func TestAdam_SkipsParametersWithoutGradient(t *testing.T) {
	p := param("x", 1)
	q := param("y", 1)
	opt := optim.NewAdam([]*nn.Parameter{p, q}, optim.AdamConfig{})
	assert.Equal(t, float32(0.001), opt.GetLR())

	p.AccumulateGrad(grad(1))
	opt.Step()
	assert.NotEqual(t, float32(1), p.Tensor().Data()[0])
	assert.Equal(t, float32(1), q.Tensor().Data()[0])

	opt.ZeroGrad()
	assert.Nil(t, p.Grad())
}

func TestAdam_ConvergesOnQuadratic(t *testing.T) {
	backend := autodiff.New(cpu.New())
	x := nn.NewParameter("x", tensor.MustFromSlice([]float32{5}, tensor.Shape{1}, backend))
	opt := optim.NewAdam([]*nn.Parameter{x}, optim.AdamConfig{LR: 0.1})
	backend.Tape().StartRecording()

	for i := 0; i < 300; i++ {
		backend.Tape().Clear()
		loss := x.Tensor().AddScalar(-2).Square().Sum()
		x.AccumulateGrad(autodiff.Backward(loss, backend).Of(x.Tensor()))
		opt.Step()
		opt.ZeroGrad()
	}
	assert.InDelta(t, 2, x.Tensor().Data()[0], 0.1)
}

func TestAdam_AccumulatedGradientsMatchSummedGradient(t *testing.T) {
	a := param("x", 1)
	b := param("x", 1)
	optA := optim.NewAdam([]*nn.Parameter{a}, optim.AdamConfig{LR: 0.01})
	optB := optim.NewAdam([]*nn.Parameter{b}, optim.AdamConfig{LR: 0.01})

	a.AccumulateGrad(grad(0.25))
	a.AccumulateGrad(grad(0.75))
	b.AccumulateGrad(grad(1))
	optA.Step()
	optB.Step()
	assert.Equal(t, b.Tensor().Data(), a.Tensor().Data())
}

func TestAdam_StateDictRoundTrip(t *testing.T) {
	p := param("enc.w", 1, 2)
	opt := optim.NewAdam([]*nn.Parameter{p}, optim.AdamConfig{LR: 0.01})
	p.AccumulateGrad(grad(0.5, -0.5))
	opt.Step()

	path := filepath.Join(t.TempDir(), "adam.safetensors")
	require.NoError(t, nn.SaveOptimizer(path, opt))

	q := param("enc.w", 1, 2)
	restored := optim.NewAdam([]*nn.Parameter{q}, optim.AdamConfig{LR: 0.5})
	require.NoError(t, nn.LoadOptimizer(path, restored))
	assert.Equal(t, 1, restored.GetTimestep())
	assert.InDelta(t, 0.01, restored.GetLR(), 1e-9)

	// Identical state and gradients give identical updates.
	copy(q.Tensor().Data(), p.Tensor().Data())
	p.AccumulateGrad(grad(0.1, 0.2))
	q.AccumulateGrad(grad(0.1, 0.2))
	opt.Step()
	restored.Step()
	assert.Equal(t, p.Tensor().Data(), q.Tensor().Data())
}

func TestAdam_LoadStateDictShapeMismatch(t *testing.T) {
	p := param("w", 1, 2)
	opt := optim.NewAdam([]*nn.Parameter{p}, optim.AdamConfig{})
	err := opt.LoadStateDict(map[string]*tensor.RawTensor{
		"exp_avg.w":    grad(1, 2, 3),
		"exp_avg_sq.w": grad(1, 2, 3),
	})
	assert.Error(t, err)
}

func TestStepLR(t *testing.T) {
	opt := optim.NewAdam([]*nn.Parameter{param("w", 0)}, optim.AdamConfig{LR: 1e-4})
	sched := optim.NewStepLR(opt, 2, 0.1)

	var lrs []float64
	for i := 0; i < 5; i++ {
		sched.Step()
		lrs = append(lrs, float64(opt.GetLR()))
	}
	want := []float64{1e-4, 1e-5, 1e-5, 1e-6, 1e-6}
	for i := range want {
		assert.InEpsilon(t, want[i], lrs[i], 1e-4, "epoch %d", i+1)
	}
	assert.Equal(t, 5, sched.Epoch())
	assert.Panics(t, func() { optim.NewStepLR(opt, 0, 0.1) })
}
