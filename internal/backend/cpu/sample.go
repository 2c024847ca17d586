package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/cvodepth/internal/parallel"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// axisLerp describes one output coordinate as a blend of two input indices.
type axisLerp struct {
	i0, i1 int
	w1     float32 // weight of i1; i0 gets 1-w1
}

// halfPixelTable maps outSize coordinates onto inSize using half-pixel
// centers (align_corners=false), clamping negative sources to 0.
func halfPixelTable(inSize, outSize int) []axisLerp {
	table := make([]axisLerp, outSize)
	scale := float64(inSize) / float64(outSize)
	for o := range table {
		src := (float64(o)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		i0 := min(int(src), inSize-1)
		i1 := min(i0+1, inSize-1)
		table[o] = axisLerp{i0: i0, i1: i1, w1: float32(src - float64(i0))}
	}
	return table
}

// Interpolate resizes the spatial dimensions of an NCHW tensor bilinearly.
func (cpu *CPUBackend) Interpolate(x *tensor.RawTensor, height, width int) *tensor.RawTensor {
	n, c, h, w := imageDims("interpolate", x.Shape())
	ys, xs := halfPixelTable(h, height), halfPixelTable(w, width)
	result := tensor.MustNewRaw(tensor.Shape{n, c, height, width}, cpu.device)
	xd, od := x.Data(), result.Data()

	parallel.For(n*c, func(p int) {
		src := xd[p*h*w : (p+1)*h*w]
		dst := od[p*height*width : (p+1)*height*width]
		for oy, ly := range ys {
			r0, r1 := src[ly.i0*w:], src[ly.i1*w:]
			for ox, lx := range xs {
				top := r0[lx.i0]*(1-lx.w1) + r0[lx.i1]*lx.w1
				bot := r1[lx.i0]*(1-lx.w1) + r1[lx.i1]*lx.w1
				dst[oy*width+ox] = top*(1-ly.w1) + bot*ly.w1
			}
		}
	}, cpu.rowConfig(height*width))
	return result
}

// InterpolateBackward scatters the resized gradient back onto the input grid.
func (cpu *CPUBackend) InterpolateBackward(input, grad *tensor.RawTensor) *tensor.RawTensor {
	n, c, h, w := imageDims("interpolate_backward", input.Shape())
	_, _, height, width := imageDims("interpolate_backward", grad.Shape())
	ys, xs := halfPixelTable(h, height), halfPixelTable(w, width)
	result := tensor.MustNewRaw(input.Shape(), cpu.device)
	gd, rd := grad.Data(), result.Data()

	parallel.For(n*c, func(p int) {
		src := gd[p*height*width : (p+1)*height*width]
		dst := rd[p*h*w : (p+1)*h*w]
		for oy, ly := range ys {
			for ox, lx := range xs {
				g := src[oy*width+ox]
				gt, gb := g*(1-ly.w1), g*ly.w1
				dst[ly.i0*w+lx.i0] += gt * (1 - lx.w1)
				dst[ly.i0*w+lx.i1] += gt * lx.w1
				dst[ly.i1*w+lx.i0] += gb * (1 - lx.w1)
				dst[ly.i1*w+lx.i1] += gb * lx.w1
			}
		}
	}, cpu.rowConfig(height*width))
	return result
}

// gridTap is the bilinear footprint of one sampling location.
type gridTap struct {
	x0, x1, y0, y1 int
	wx, wy         float32
	dx, dy         float32 // d(pixel)/d(grid) or 0 where the border clamps
}

// unnormalize maps a grid coordinate in [-1, 1] onto [0, size-1]
// (corner-aligned) and clamps it to the border.
func unnormalize(g float32, size int) (pos, deriv float32) {
	half := float32(size-1) / 2
	pos = (g + 1) * half
	if math.IsNaN(float64(pos)) {
		return 0, 0
	}
	switch {
	case pos <= 0:
		return 0, 0
	case pos >= float32(size-1):
		return float32(size - 1), 0
	default:
		return pos, half
	}
}

func makeTaps(grid []float32, h, w int) []gridTap {
	taps := make([]gridTap, len(grid)/2)
	for i := range taps {
		x, dx := unnormalize(grid[2*i], w)
		y, dy := unnormalize(grid[2*i+1], h)
		x0, y0 := int(x), int(y)
		taps[i] = gridTap{
			x0: x0, x1: min(x0+1, w-1),
			y0: y0, y1: min(y0+1, h-1),
			wx: x - float32(x0), wy: y - float32(y0),
			dx: dx, dy: dy,
		}
	}
	return taps
}

func gridDims(input, grid tensor.Shape) (n, c, h, w, ho, wo int) {
	n, c, h, w = imageDims("grid_sample", input)
	if len(grid) != 4 || grid[0] != n || grid[3] != 2 {
		panic(fmt.Sprintf("grid_sample: grid must be [%d, H_out, W_out, 2], got %v", n, grid))
	}
	return n, c, h, w, grid[1], grid[2]
}

// GridSample samples input [N, C, H, W] at grid [N, H_out, W_out, 2]
// bilinearly. Grid values are (x, y) in [-1, 1] where -1 and 1 address the
// centers of the first and last pixels; samples outside use the border value.
func (cpu *CPUBackend) GridSample(input, grid *tensor.RawTensor) *tensor.RawTensor {
	n, c, h, w, ho, wo := gridDims(input.Shape(), grid.Shape())
	result := tensor.MustNewRaw(tensor.Shape{n, c, ho, wo}, cpu.device)
	in, gd, od := input.Data(), grid.Data(), result.Data()
	pix := ho * wo

	for b := 0; b < n; b++ {
		taps := makeTaps(gd[b*pix*2:(b+1)*pix*2], h, w)
		parallel.For(c, func(ch int) {
			src := in[(b*c+ch)*h*w : (b*c+ch+1)*h*w]
			dst := od[(b*c+ch)*pix : (b*c+ch+1)*pix]
			for i, t := range taps {
				top := src[t.y0*w+t.x0]*(1-t.wx) + src[t.y0*w+t.x1]*t.wx
				bot := src[t.y1*w+t.x0]*(1-t.wx) + src[t.y1*w+t.x1]*t.wx
				dst[i] = top*(1-t.wy) + bot*t.wy
			}
		}, cpu.rowConfig(pix))
	}
	return result
}

// GridSampleBackward returns gradients with respect to the sampled input and
// the sampling grid.
func (cpu *CPUBackend) GridSampleBackward(input, grid, grad *tensor.RawTensor) (inputGrad, gridGrad *tensor.RawTensor) {
	n, c, h, w, ho, wo := gridDims(input.Shape(), grid.Shape())
	inputGrad = tensor.MustNewRaw(input.Shape(), cpu.device)
	gridGrad = tensor.MustNewRaw(grid.Shape(), cpu.device)
	in, gd, og := input.Data(), grid.Data(), grad.Data()
	ig, gg := inputGrad.Data(), gridGrad.Data()
	pix := ho * wo

	for b := 0; b < n; b++ {
		taps := makeTaps(gd[b*pix*2:(b+1)*pix*2], h, w)

		parallel.For(c, func(ch int) {
			src := og[(b*c+ch)*pix : (b*c+ch+1)*pix]
			dst := ig[(b*c+ch)*h*w : (b*c+ch+1)*h*w]
			for i, t := range taps {
				g := src[i]
				gt, gb := g*(1-t.wy), g*t.wy
				dst[t.y0*w+t.x0] += gt * (1 - t.wx)
				dst[t.y0*w+t.x1] += gt * t.wx
				dst[t.y1*w+t.x0] += gb * (1 - t.wx)
				dst[t.y1*w+t.x1] += gb * t.wx
			}
		}, cpu.rowConfig(pix))

		parallel.For(pix, func(i int) {
			t := taps[i]
			var sx, sy float32
			for ch := 0; ch < c; ch++ {
				src := in[(b*c+ch)*h*w : (b*c+ch+1)*h*w]
				g := og[(b*c+ch)*pix+i]
				v00, v01 := src[t.y0*w+t.x0], src[t.y0*w+t.x1]
				v10, v11 := src[t.y1*w+t.x0], src[t.y1*w+t.x1]
				sx += g * ((1-t.wy)*(v01-v00) + t.wy*(v11-v10))
				sy += g * ((1-t.wx)*(v10-v00) + t.wx*(v11-v01))
			}
			gg[(b*pix+i)*2] = sx * t.dx
			gg[(b*pix+i)*2+1] = sy * t.dy
		}, cpu.rowConfig(c))
	}
	return inputGrad, gridGrad
}
