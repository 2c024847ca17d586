package cpu

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/parallel"
	"github.com/born-ml/cvodepth/internal/tensor"
)

func imageDims(name string, s tensor.Shape) (n, c, h, w int) {
	if len(s) != 4 {
		panic(fmt.Sprintf("%s: expected NCHW tensor, got %v", name, s))
	}
	return s[0], s[1], s[2], s[3]
}

// AvgPool2D averages kernelSize×kernelSize windows without padding.
func (cpu *CPUBackend) AvgPool2D(x *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	n, c, h, w := imageDims("avgpool2d", x.Shape())
	hOut := (h-kernelSize)/stride + 1
	wOut := (w-kernelSize)/stride + 1
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("avgpool2d: kernel %d too large for %v", kernelSize, x.Shape()))
	}
	result := tensor.MustNewRaw(tensor.Shape{n, c, hOut, wOut}, cpu.device)
	xd, od := x.Data(), result.Data()
	scale := 1 / float32(kernelSize*kernelSize)

	parallel.For(n*c, func(p int) {
		src := xd[p*h*w : (p+1)*h*w]
		dst := od[p*hOut*wOut : (p+1)*hOut*wOut]
		for oy := 0; oy < hOut; oy++ {
			for ox := 0; ox < wOut; ox++ {
				var sum float32
				for ky := 0; ky < kernelSize; ky++ {
					row := (oy*stride + ky) * w
					for kx := 0; kx < kernelSize; kx++ {
						sum += src[row+ox*stride+kx]
					}
				}
				dst[oy*wOut+ox] = sum * scale
			}
		}
	}, cpu.rowConfig(h*w))
	return result
}

// AvgPool2DBackward spreads each output gradient evenly over its window.
func (cpu *CPUBackend) AvgPool2DBackward(input, grad *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	n, c, h, w := imageDims("avgpool2d_backward", input.Shape())
	_, _, hOut, wOut := imageDims("avgpool2d_backward", grad.Shape())
	result := tensor.MustNewRaw(input.Shape(), cpu.device)
	gd, rd := grad.Data(), result.Data()
	scale := 1 / float32(kernelSize*kernelSize)

	parallel.For(n*c, func(p int) {
		src := gd[p*hOut*wOut : (p+1)*hOut*wOut]
		dst := rd[p*h*w : (p+1)*h*w]
		for oy := 0; oy < hOut; oy++ {
			for ox := 0; ox < wOut; ox++ {
				g := src[oy*wOut+ox] * scale
				for ky := 0; ky < kernelSize; ky++ {
					row := (oy*stride + ky) * w
					for kx := 0; kx < kernelSize; kx++ {
						dst[row+ox*stride+kx] += g
					}
				}
			}
		}
	}, cpu.rowConfig(h*w))
	return result
}

// reflect maps an out-of-range index back into [0, n) by mirroring at the
// borders without repeating the edge sample.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

// ReflectionPad2D pads H and W by pad on each side using reflection.
func (cpu *CPUBackend) ReflectionPad2D(x *tensor.RawTensor, pad int) *tensor.RawTensor {
	n, c, h, w := imageDims("reflection_pad2d", x.Shape())
	hp, wp := h+2*pad, w+2*pad
	result := tensor.MustNewRaw(tensor.Shape{n, c, hp, wp}, cpu.device)
	xd, od := x.Data(), result.Data()

	parallel.For(n*c, func(p int) {
		src := xd[p*h*w : (p+1)*h*w]
		dst := od[p*hp*wp : (p+1)*hp*wp]
		for y := 0; y < hp; y++ {
			sy := reflect(y-pad, h)
			for xx := 0; xx < wp; xx++ {
				dst[y*wp+xx] = src[sy*w+reflect(xx-pad, w)]
			}
		}
	}, cpu.rowConfig(hp*wp))
	return result
}

// ReflectionPad2DBackward accumulates padded gradients onto their source pixels.
func (cpu *CPUBackend) ReflectionPad2DBackward(input, grad *tensor.RawTensor, pad int) *tensor.RawTensor {
	n, c, h, w := imageDims("reflection_pad2d_backward", input.Shape())
	hp, wp := h+2*pad, w+2*pad
	result := tensor.MustNewRaw(input.Shape(), cpu.device)
	gd, rd := grad.Data(), result.Data()

	parallel.For(n*c, func(p int) {
		src := gd[p*hp*wp : (p+1)*hp*wp]
		dst := rd[p*h*w : (p+1)*h*w]
		for y := 0; y < hp; y++ {
			sy := reflect(y-pad, h)
			for xx := 0; xx < wp; xx++ {
				dst[sy*w+reflect(xx-pad, w)] += src[y*wp+xx]
			}
		}
	}, cpu.rowConfig(hp*wp))
	return result
}

// Upsample2D repeats every pixel factor×factor times.
func (cpu *CPUBackend) Upsample2D(x *tensor.RawTensor, factor int) *tensor.RawTensor {
	n, c, h, w := imageDims("upsample2d", x.Shape())
	ho, wo := h*factor, w*factor
	result := tensor.MustNewRaw(tensor.Shape{n, c, ho, wo}, cpu.device)
	xd, od := x.Data(), result.Data()

	parallel.For(n*c, func(p int) {
		src := xd[p*h*w : (p+1)*h*w]
		dst := od[p*ho*wo : (p+1)*ho*wo]
		for y := 0; y < ho; y++ {
			for xx := 0; xx < wo; xx++ {
				dst[y*wo+xx] = src[(y/factor)*w+xx/factor]
			}
		}
	}, cpu.rowConfig(ho*wo))
	return result
}

// Upsample2DBackward sums each factor×factor block of the gradient.
func (cpu *CPUBackend) Upsample2DBackward(grad *tensor.RawTensor, factor int) *tensor.RawTensor {
	n, c, ho, wo := imageDims("upsample2d_backward", grad.Shape())
	h, w := ho/factor, wo/factor
	result := tensor.MustNewRaw(tensor.Shape{n, c, h, w}, cpu.device)
	gd, rd := grad.Data(), result.Data()

	parallel.For(n*c, func(p int) {
		src := gd[p*ho*wo : (p+1)*ho*wo]
		dst := rd[p*h*w : (p+1)*h*w]
		for y := 0; y < ho; y++ {
			for xx := 0; xx < wo; xx++ {
				dst[(y/factor)*w+xx/factor] += src[y*wo+xx]
			}
		}
	}, cpu.rowConfig(ho*wo))
	return result
}
