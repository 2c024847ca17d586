package networks

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/cvodepth/internal/nn"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// DefaultDecoderChannels are the decoder widths per level, finest first.
var DefaultDecoderChannels = []int{16, 32, 64, 128, 256}

type decoderLevel struct {
	upconv0 *nn.ConvBlock
	upconv1 *nn.ConvBlock
	head    *nn.Conv3x3
}

// DepthDecoder upsamples an encoder pyramid with skip connections and emits
// a sigmoid output at each requested scale.
type DepthDecoder struct {
	scales         []int
	outputChannels int
	levels         []*decoderLevel
}

// NewDepthDecoder creates a decoder for the given encoder channels.
// outputChannels is 1 for disparity and len(frame_ids)-1 for the predictive
// mask.
func NewDepthDecoder(name string, encChannels []int, scales []int, outputChannels int, rng *rand.Rand, backend tensor.Backend) *DepthDecoder {
	if len(encChannels) != len(DefaultDecoderChannels) {
		panic(fmt.Sprintf("networks: decoder needs %d encoder levels, got %d", len(DefaultDecoderChannels), len(encChannels)))
	}
	dec := DefaultDecoderChannels
	d := &DepthDecoder{
		scales:         append([]int(nil), scales...),
		outputChannels: outputChannels,
		levels:         make([]*decoderLevel, len(dec)),
	}
	for i := len(dec) - 1; i >= 0; i-- {
		in := encChannels[len(encChannels)-1]
		if i < len(dec)-1 {
			in = dec[i+1]
		}
		lvl := &decoderLevel{
			upconv0: nn.NewConvBlock(fmt.Sprintf("%s.upconv_%d_0", name, i), in, dec[i], rng, backend),
		}
		in = dec[i]
		if i > 0 {
			in += encChannels[i-1]
		}
		lvl.upconv1 = nn.NewConvBlock(fmt.Sprintf("%s.upconv_%d_1", name, i), in, dec[i], rng, backend)
		d.levels[i] = lvl
	}
	for _, s := range scales {
		if s < 0 || s >= len(dec) {
			panic(fmt.Sprintf("networks: scale %d out of range", s))
		}
		d.levels[s].head = nn.NewConv3x3(fmt.Sprintf("%s.dispconv_%d", name, s), dec[s], outputChannels, true, rng, backend)
	}
	return d
}

// Forward returns the B×C×(H/2^s)×(W/2^s) sigmoid output per scale.
func (d *DepthDecoder) Forward(features []*tensor.Tensor) map[int]*tensor.Tensor {
	out := make(map[int]*tensor.Tensor, len(d.scales))
	x := features[len(features)-1]
	for i := len(d.levels) - 1; i >= 0; i-- {
		lvl := d.levels[i]
		x = lvl.upconv0.Forward(x).Upsample2D(2)
		if i > 0 {
			x = tensor.Cat([]*tensor.Tensor{x, features[i-1]}, 1)
		}
		x = lvl.upconv1.Forward(x)
		if lvl.head != nil {
			out[i] = lvl.head.Forward(x).Sigmoid()
		}
	}
	return out
}

// Parameters returns every trainable parameter, coarsest level first.
func (d *DepthDecoder) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for i := len(d.levels) - 1; i >= 0; i-- {
		lvl := d.levels[i]
		params = append(params, nn.CollectParameters(lvl.upconv0, lvl.upconv1)...)
		if lvl.head != nil {
			params = append(params, lvl.head.Parameters()...)
		}
	}
	return params
}
