package cvo

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// DenseCloud is an image-layout point set. XYZ is B×3×H×W, HSV is nil or
// B×3×H×W and Mask is a B×1×H×W tensor of 0/1 validity flags.
type DenseCloud struct {
	XYZ  *tensor.Tensor
	HSV  *tensor.Tensor
	Mask *tensor.Tensor
}

func (c DenseCloud) same(other DenseCloud) bool {
	return c.XYZ == other.XYZ && c.HSV == other.HSV && c.Mask == other.Mask
}

// Dense compares two image-layout clouds with windowed inner products.
// Features are used without standardization.
func (e *Engine) Dense(c0, c1 DenseCloud) Result {
	if c0.same(c1) {
		return identityResult(c0.XYZ.Backend())
	}
	inp00 := e.DenseInner(c0, c0)
	inp11 := e.DenseInner(c1, c1)
	inp01 := e.DenseInner(c0, c1)
	return Distances(inp00, inp11, inp01)
}

// DenseInner sums, over every valid host pixel of c0, the kernel
// similarity to the valid pixels of c1 within the offsets
// dy, dx ∈ [-HalfWindow, HalfWindow). Offsets falling outside the image
// contribute nothing. The sum runs over the whole batch.
func (e *Engine) DenseInner(c0, c1 DenseCloud) *tensor.Tensor {
	checkDense(c0, c1)
	useHSV := e.opts.UseHSV && c0.HSV != nil && c1.HSV != nil
	xyzScale := -1 / (2 * e.opts.GeoScale * e.opts.GeoScale)
	hsvScale := -1 / (2 * e.opts.HSVScale * e.opts.HSVScale)

	half := e.opts.HalfWindow
	var acc *tensor.Tensor
	for dy := -half; dy < half; dy++ {
		for dx := -half; dx < half; dx++ {
			// Host pixel (y, x) meets pixel (y+dy, x+dx) of the other cloud.
			k := kernelAt(c0.XYZ, c1.XYZ.Shift2D(-dy, -dx), xyzScale)
			if useHSV {
				k = k.Mul(kernelAt(c0.HSV, c1.HSV.Shift2D(-dy, -dx), hsvScale))
			}
			k = k.Mul(c1.Mask.Shift2D(-dy, -dx))
			if acc == nil {
				acc = k
			} else {
				acc = acc.Add(k)
			}
		}
	}
	inp := acc.Mul(c0.Mask).Sum()
	if e.opts.NormalizeOverPoints {
		n0, n1 := maskCount(c0.Mask), maskCount(c1.Mask)
		if n0 > 0 && n1 > 0 {
			inp = inp.MulScalar(1 / (n0 * n1))
		}
	}
	return inp
}

// kernelAt evaluates exp(scale·||a - b||²) per pixel over the channel axis.
func kernelAt(a, b *tensor.Tensor, scale float32) *tensor.Tensor {
	return a.Sub(b).Square().SumDim(1, true).MulScalar(scale).Exp()
}

func maskCount(mask *tensor.Tensor) float32 {
	var n float32
	for _, v := range mask.Data() {
		n += v
	}
	return n
}

func checkDense(c0, c1 DenseCloud) {
	s0, s1 := c0.XYZ.Shape(), c1.XYZ.Shape()
	if len(s0) != 4 || !s0.Equal(s1) {
		panic(fmt.Sprintf("cvo: dense clouds must share a Bx3xHxW shape, got %v and %v", s0, s1))
	}
	if c0.Mask == nil || c1.Mask == nil {
		panic("cvo: dense clouds need validity masks")
	}
}
