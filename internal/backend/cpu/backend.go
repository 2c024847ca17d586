// Package cpu implements the float32 CPU backend.
//
// Kernels allocate a fresh output for every call; inputs are never modified,
// so the autodiff decorator can keep references to forward values.
package cpu

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/parallel"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a new CPU backend using all available cores.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with an explicit parallelism config.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("div", a, b, func(x, y float32) float32 { return x / y })
}

// binary evaluates f over the broadcast of a and b.
//
// The innermost output dimension is walked with per-operand strides so a
// broadcast operand (stride 0) costs no extra allocation.
func (cpu *CPUBackend) binary(name string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	result := tensor.MustNewRaw(outShape, cpu.device)
	ad, bd, od := a.Data(), b.Data(), result.Data()

	if !needsBroadcast {
		parallel.ForRange(len(od), func(start, end int) {
			for i := start; i < end; i++ {
				od[i] = f(ad[i], bd[i])
			}
		}, cpu.par)
		return result
	}

	ndim := len(outShape)
	if ndim == 0 {
		od[0] = f(ad[0], bd[0])
		return result
	}

	aStr := tensor.BroadcastStrides(a.Shape(), outShape)
	bStr := tensor.BroadcastStrides(b.Shape(), outShape)
	inner := outShape[ndim-1]
	outer := len(od) / inner
	as, bs := aStr[ndim-1], bStr[ndim-1]

	parallel.For(outer, func(o int) {
		aOff, bOff := 0, 0
		rem := o
		for d := ndim - 2; d >= 0; d-- {
			idx := rem % outShape[d]
			rem /= outShape[d]
			aOff += idx * aStr[d]
			bOff += idx * bStr[d]
		}
		base := o * inner
		for i := 0; i < inner; i++ {
			od[base+i] = f(ad[aOff+i*as], bd[bOff+i*bs])
		}
	}, cpu.rowConfig(inner))

	return result
}

// rowConfig scales the minimum chunk size for loops whose body already
// processes rowLen elements.
func (cpu *CPUBackend) rowConfig(rowLen int) parallel.Config {
	cfg := cpu.par
	if rowLen > 0 {
		cfg.MinChunkSize = max(1, cfg.MinChunkSize/rowLen)
	}
	return cfg
}
