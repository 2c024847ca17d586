package nn_test

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvodepth/internal/autodiff"
	"github.com/born-ml/cvodepth/internal/backend/cpu"
	"github.com/born-ml/cvodepth/internal/nn"
	"github.com/born-ml/cvodepth/internal/tensor"
)

func TestXavier_BoundsAndSeed(t *testing.T) {
	backend := cpu.New()
	a := nn.Xavier(27, 48, tensor.Shape{16, 3, 3, 3}, rand.New(rand.NewSource(3)), backend)
	b := nn.Xavier(27, 48, tensor.Shape{16, 3, 3, 3}, rand.New(rand.NewSource(3)), backend)

	bound := float32(math.Sqrt(6.0 / 75.0))
	for _, v := range a.Data() {
		assert.LessOrEqual(t, v, bound)
		assert.GreaterOrEqual(t, v, -bound)
	}
	assert.Equal(t, a.Data(), b.Data(), "same seed gives the same weights")
}

func TestConv2D_ShapeAndBias(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv2D("c", 2, 4, 3, 2, 1, true, rand.New(rand.NewSource(1)), backend)
	assert.Equal(t, [2]int{4, 5}, conv.ComputeOutputSize(8, 10))

	conv.Weight().Tensor().Raw().Fill(0)
	copy(conv.Bias().Tensor().Data(), []float32{1, 2, 3, 4})

	out := conv.Forward(tensor.Ones(tensor.Shape{1, 2, 8, 10}, backend))
	assert.Equal(t, tensor.Shape{1, 4, 4, 5}, out.Shape())
	assert.Equal(t, float32(3), out.At(0, 2, 1, 1))
	assert.Equal(t, []string{"c.weight", "c.bias"}, []string{conv.Parameters()[0].Name(), conv.Parameters()[1].Name()})
}

func TestConv2D_PanicsOnChannelMismatch(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv2D("c", 2, 4, 3, 1, 1, false, rand.New(rand.NewSource(1)), backend)
	assert.Len(t, conv.Parameters(), 1)
	assert.Panics(t, func() { conv.Forward(tensor.Ones(tensor.Shape{1, 3, 4, 4}, backend)) })
}

func TestConv3x3_PreservesResolution(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(2))
	x := tensor.Ones(tensor.Shape{2, 3, 6, 8}, backend)
	for _, reflection := range []bool{true, false} {
		out := nn.NewConv3x3("c", 3, 5, reflection, rng, backend).Forward(x)
		assert.Equal(t, tensor.Shape{2, 5, 6, 8}, out.Shape())
	}
}

func TestConvBlock_ReflectionOnConstantInput(t *testing.T) {
	backend := cpu.New()
	block := nn.NewConvBlock("b", 1, 1, rand.New(rand.NewSource(4)), backend)
	params := block.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, "b.conv.weight", params[0].Name())
	params[0].Tensor().Raw().Fill(1)
	params[1].Tensor().Raw().Fill(-10)

	// Reflection padding keeps a constant image constant at the border too.
	out := block.Forward(tensor.Full(tensor.Shape{1, 1, 4, 4}, 1, backend))
	want := float32(math.Exp(-1) - 1)
	for _, v := range out.Data() {
		assert.InDelta(t, want, v, 1e-6)
	}
}

func TestSequential_ForwardAndParameters(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(5))
	seq := nn.NewSequential(nn.NewConv3x3("h.0", 2, 1, true, rng, backend), nn.NewSigmoid())
	seq.Add(nn.NewELU())
	assert.Equal(t, 3, seq.Len())
	assert.Len(t, seq.Parameters(), 2)
	assert.Panics(t, func() { seq.Layer(3) })

	out := seq.Forward(tensor.Zeros(tensor.Shape{1, 2, 3, 3}, backend))
	for _, v := range out.Data() {
		assert.Greater(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestParameter_AccumulateGrad(t *testing.T) {
	backend := cpu.New()
	p := nn.NewParameter("w", tensor.Zeros(tensor.Shape{2}, backend))
	assert.Nil(t, p.Grad())

	g := tensor.MustFromSlice([]float32{1, 2}, tensor.Shape{2}, backend).Raw()
	p.AccumulateGrad(g)
	p.AccumulateGrad(g)
	p.AccumulateGrad(nil)
	assert.Equal(t, []float32{2, 4}, p.Grad().Data())
	assert.Equal(t, []float32{1, 2}, g.Data(), "the first gradient is copied, not aliased")

	nn.ZeroGrad([]*nn.Parameter{p})
	assert.Nil(t, p.Grad())

	assert.Panics(t, func() { p.AccumulateGrad(tensor.Zeros(tensor.Shape{3}, backend).Raw()) })
}

func TestConv2D_GradientsReachParameters(t *testing.T) {
	backend := autodiff.New(cpu.New())
	conv := nn.NewConv2D("c", 1, 2, 3, 1, 1, true, rand.New(rand.NewSource(6)), backend)

	backend.Tape().StartRecording()
	x := tensor.Ones(tensor.Shape{1, 1, 4, 4}, backend)
	loss := conv.Forward(x).Sum()
	grads := autodiff.Backward(loss, backend)
	for _, p := range conv.Parameters() {
		p.AccumulateGrad(grads.Of(p.Tensor()))
		require.NotNil(t, p.Grad(), p.Name())
	}
	// d(sum)/d(bias_c) = number of output pixels
	assert.Equal(t, []float32{16, 16}, conv.Bias().Grad().Data())
}

func TestLoadStateDict_Partial(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(7))
	src := nn.NewSequential(nn.NewConv3x3("a", 1, 2, true, rng, backend), nn.NewConv3x3("b", 2, 2, true, rng, backend))
	dst := nn.NewSequential(nn.NewConv3x3("a", 1, 2, true, rng, backend), nn.NewConv3x3("c", 2, 2, true, rng, backend))

	applied, err := nn.LoadStateDict(dst, nn.StateDict(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bias", "a.weight"}, applied)
	assert.Equal(t, src.Parameters()[0].Tensor().Data(), dst.Parameters()[0].Tensor().Data())
	assert.NotEqual(t, src.Parameters()[2].Tensor().Data(), dst.Parameters()[2].Tensor().Data())
}

func TestLoadStateDict_ShapeMismatch(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(8))
	dst := nn.NewConv2D("a", 1, 2, 3, 1, 1, true, rng, backend)
	before := append([]float32(nil), dst.Bias().Tensor().Data()...)

	_, err := nn.LoadStateDict(dst, map[string]*tensor.RawTensor{
		"a.bias":   tensor.Zeros(tensor.Shape{2}, backend).Raw(),
		"a.weight": tensor.Zeros(tensor.Shape{3, 1, 3, 3}, backend).Raw(),
	})
	require.Error(t, err)
	assert.Equal(t, before, dst.Bias().Tensor().Data(), "nothing is loaded on error")
}

func TestSaveLoadModule(t *testing.T) {
	backend := cpu.New()
	path := filepath.Join(t.TempDir(), "encoder.safetensors")
	src := nn.NewConvBlock("enc", 3, 4, rand.New(rand.NewSource(9)), backend)
	dst := nn.NewConvBlock("enc", 3, 4, rand.New(rand.NewSource(10)), backend)

	require.NoError(t, nn.SaveModule(path, src, map[string]string{"height": "64"}))
	meta, applied, err := nn.LoadModule(path, dst)
	require.NoError(t, err)
	assert.Equal(t, "64", meta["height"])
	assert.Len(t, applied, 2)
	assert.Equal(t, src.Parameters()[0].Tensor().Data(), dst.Parameters()[0].Tensor().Data())
}
