package cvo

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// HSV converts a B×3×… RGB tensor with values in [0, 1] to hue, saturation
// and value channels, all in [0, 1]. The result is a constant tensor on the
// input's backend: no gradient flows back into the colors.
func HSV(rgb *tensor.Tensor) *tensor.Tensor {
	s := rgb.Shape()
	if len(s) < 2 || s[1] != 3 {
		panic(fmt.Sprintf("cvo: HSV needs three color channels, got %v", s))
	}
	batch := s[0]
	plane := rgb.NumElements() / (batch * 3)
	src := rgb.Data()
	out := tensor.Zeros(s, rgb.Backend())
	dst := out.Data()

	for b := 0; b < batch; b++ {
		base := b * 3 * plane
		r, g, bl := src[base:base+plane], src[base+plane:base+2*plane], src[base+2*plane:base+3*plane]
		h, sat, v := dst[base:base+plane], dst[base+plane:base+2*plane], dst[base+2*plane:base+3*plane]
		for i := 0; i < plane; i++ {
			c := colorful.Color{R: float64(r[i]), G: float64(g[i]), B: float64(bl[i])}
			hue, ss, vv := c.Hsv()
			h[i] = float32(hue / 360)
			sat[i] = float32(ss)
			v[i] = float32(vv)
		}
	}
	return out
}
