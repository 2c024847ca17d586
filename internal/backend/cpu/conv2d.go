package cpu

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/parallel"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// convGeom holds the validated dimensions of a 2D convolution.
type convGeom struct {
	n, cIn, h, w       int
	cOut, kh, kw       int
	hOut, wOut         int
	stride, padding    int
	colWidth, colCount int
}

func newConvGeom(input, kernel tensor.Shape, stride, padding int) convGeom {
	if len(input) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %v", input))
	}
	if len(kernel) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %v", kernel))
	}
	if input[1] != kernel[1] {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", input[1], kernel[1]))
	}
	if stride < 1 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}
	g := convGeom{
		n: input[0], cIn: input[1], h: input[2], w: input[3],
		cOut: kernel[0], kh: kernel[2], kw: kernel[3],
		stride: stride, padding: padding,
	}
	g.hOut = (g.h+2*padding-g.kh)/stride + 1
	g.wOut = (g.w+2*padding-g.kw)/stride + 1
	if g.hOut <= 0 || g.wOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", g.hOut, g.wOut))
	}
	g.colWidth = g.cIn * g.kh * g.kw
	g.colCount = g.hOut * g.wOut
	return g
}

// im2col lays out the receptive fields of sample n as a
// [C_in*K_h*K_w, H_out*W_out] matrix; padding positions are zero.
func (g convGeom) im2col(col, in []float32) {
	for c := 0; c < g.cIn; c++ {
		plane := in[c*g.h*g.w : (c+1)*g.h*g.w]
		for ki := 0; ki < g.kh; ki++ {
			for kj := 0; kj < g.kw; kj++ {
				row := col[((c*g.kh+ki)*g.kw+kj)*g.colCount:]
				for oy := 0; oy < g.hOut; oy++ {
					y := oy*g.stride - g.padding + ki
					for ox := 0; ox < g.wOut; ox++ {
						x := ox*g.stride - g.padding + kj
						v := float32(0)
						if y >= 0 && y < g.h && x >= 0 && x < g.w {
							v = plane[y*g.w+x]
						}
						row[oy*g.wOut+ox] = v
					}
				}
			}
		}
	}
}

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input: [N, C_in, H, W], kernel: [C_out, C_in, K_h, K_w],
// output: [N, C_out, H_out, W_out] with
// H_out = (H + 2*padding - K_h)/stride + 1.
//
// Each sample is unfolded once; output channels are then independent dot
// products against the unfolded matrix and run in parallel.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeom(input.Shape(), kernel.Shape(), stride, padding)
	output := tensor.MustNewRaw(tensor.Shape{g.n, g.cOut, g.hOut, g.wOut}, cpu.device)
	in, k, out := input.Data(), kernel.Data(), output.Data()
	col := make([]float32, g.colWidth*g.colCount)

	for n := 0; n < g.n; n++ {
		g.im2col(col, in[n*g.cIn*g.h*g.w:(n+1)*g.cIn*g.h*g.w])
		parallel.For(g.cOut, func(co int) {
			dst := out[(n*g.cOut+co)*g.colCount : (n*g.cOut+co+1)*g.colCount]
			weights := k[co*g.colWidth : (co+1)*g.colWidth]
			for r, wv := range weights {
				src := col[r*g.colCount : (r+1)*g.colCount]
				for j, v := range src {
					dst[j] += wv * v
				}
			}
		}, cpu.rowConfig(g.colWidth*g.colCount))
	}
	return output
}

// Conv2DInputBackward computes dL/dinput for Conv2D.
//
// Each (n, c_in) plane of the result is owned by one goroutine:
// grad_in[n, c, y, x] += grad[n, co, oy, ox] * kernel[co, c, ki, kj].
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeom(input.Shape(), kernel.Shape(), stride, padding)
	result := tensor.MustNewRaw(input.Shape(), cpu.device)
	k, gd, rd := kernel.Data(), grad.Data(), result.Data()

	parallel.ForBatch(g.n, g.cIn, func(n, c int) {
		dst := rd[(n*g.cIn+c)*g.h*g.w : (n*g.cIn+c+1)*g.h*g.w]
		for co := 0; co < g.cOut; co++ {
			gplane := gd[(n*g.cOut+co)*g.colCount : (n*g.cOut+co+1)*g.colCount]
			for ki := 0; ki < g.kh; ki++ {
				for kj := 0; kj < g.kw; kj++ {
					wv := k[((co*g.cIn+c)*g.kh+ki)*g.kw+kj]
					for oy := 0; oy < g.hOut; oy++ {
						y := oy*g.stride - g.padding + ki
						if y < 0 || y >= g.h {
							continue
						}
						for ox := 0; ox < g.wOut; ox++ {
							x := ox*g.stride - g.padding + kj
							if x < 0 || x >= g.w {
								continue
							}
							dst[y*g.w+x] += wv * gplane[oy*g.wOut+ox]
						}
					}
				}
			}
		}
	}, cpu.rowConfig(g.cOut*g.kh*g.kw*g.colCount))
	return result
}

// Conv2DKernelBackward computes dL/dkernel for Conv2D:
// grad_k[co, c, ki, kj] = sum over n, oy, ox of grad[n, co, oy, ox] * input[n, c, y, x].
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeom(input.Shape(), kernel.Shape(), stride, padding)
	result := tensor.MustNewRaw(kernel.Shape(), cpu.device)
	in, gd, rd := input.Data(), grad.Data(), result.Data()
	col := make([]float32, g.colWidth*g.colCount)

	for n := 0; n < g.n; n++ {
		g.im2col(col, in[n*g.cIn*g.h*g.w:(n+1)*g.cIn*g.h*g.w])
		parallel.For(g.cOut, func(co int) {
			gplane := gd[(n*g.cOut+co)*g.colCount : (n*g.cOut+co+1)*g.colCount]
			dst := rd[co*g.colWidth : (co+1)*g.colWidth]
			for r := range dst {
				src := col[r*g.colCount : (r+1)*g.colCount]
				var sum float32
				for j, v := range src {
					sum += v * gplane[j]
				}
				dst[r] += sum
			}
		}, cpu.rowConfig(g.colWidth*g.colCount))
	}
	return result
}
