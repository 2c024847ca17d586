package dataset

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

// Jitter ranges: brightness, contrast and saturation factors are drawn from
// [1-r, 1+r], the hue shift from [-hueRange, hueRange] turns.
const (
	jitterRange = 0.2
	hueRange    = 0.1
)

// ColorJitter is one draw of photometric augmentation parameters. The same
// draw is applied to every frame and scale of a sample.
type ColorJitter struct {
	Brightness float64
	Contrast   float64
	Saturation float64
	Hue        float64
}

// NewColorJitter draws jitter parameters from rng.
func NewColorJitter(rng *rand.Rand) ColorJitter {
	factor := func() float64 { return 1 - jitterRange + 2*jitterRange*rng.Float64() }
	return ColorJitter{
		Brightness: factor(),
		Contrast:   factor(),
		Saturation: factor(),
		Hue:        hueRange * (2*rng.Float64() - 1),
	}
}

// Apply returns the augmented image.
func (j ColorJitter) Apply(img image.Image) *image.NRGBA {
	out := imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		scale := func(v uint8) uint8 {
			return uint8(math.Min(255, float64(v)*j.Brightness+0.5))
		}
		return color.NRGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
	})
	out = imaging.AdjustContrast(out, (j.Contrast-1)*100)
	out = imaging.AdjustSaturation(out, (j.Saturation-1)*100)
	if j.Hue == 0 {
		return out
	}
	return imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
		cc, _ := colorful.MakeColor(color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255})
		h, s, v := cc.Hsv()
		h = math.Mod(h+360*j.Hue+360, 360)
		r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
		return color.NRGBA{R: r, G: g, B: b, A: c.A}
	})
}

// Pyramid resizes img to height×width and every coarser scale, optionally
// applying jitter to a second copy. aug is nil without jitter.
func Pyramid(img image.Image, numScales, height, width int, jitter *ColorJitter) (plain, aug []*Plane) {
	for s := 0; s < numScales; s++ {
		resized := imaging.Resize(img, width>>s, height>>s, imaging.Lanczos)
		plain = append(plain, PlaneFromImage(resized))
		if jitter != nil {
			aug = append(aug, PlaneFromImage(jitter.Apply(resized)))
		}
	}
	return plain, aug
}
