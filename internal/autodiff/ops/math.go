package ops

import (
	"math"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// ExpOp represents output = exp(x); grad = outputGrad * output.
type ExpOp struct{ base }

// NewExpOp creates a new ExpOp.
func NewExpOp(x, output *tensor.RawTensor) *ExpOp { return &ExpOp{newBase(output, x)} }

// Backward computes the gradient for exp.
func (op *ExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return grads(backend.Mul(outputGrad, op.output))
}

// LogOp represents output = log(x); grad = outputGrad / x.
type LogOp struct{ base }

// NewLogOp creates a new LogOp.
func NewLogOp(x, output *tensor.RawTensor) *LogOp { return &LogOp{newBase(output, x)} }

// Backward computes the gradient for log.
func (op *LogOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return grads(backend.Div(outputGrad, op.inputs[0]))
}

// SqrtOp represents output = sqrt(x).
//
// The gradient is outputGrad / (2 * output), and zero where output is zero,
// matching the subgradient used for vector norms.
type SqrtOp struct{ base }

// NewSqrtOp creates a new SqrtOp.
func NewSqrtOp(x, output *tensor.RawTensor) *SqrtOp { return &SqrtOp{newBase(output, x)} }

// Backward computes the gradient for sqrt.
func (op *SqrtOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return grads(zip(outputGrad, op.output, func(g, y float32) float32 {
		if y == 0 {
			return 0
		}
		return g / (2 * y)
	}))
}

// AbsOp represents output = |x|; grad = outputGrad * sign(x).
type AbsOp struct{ base }

// NewAbsOp creates a new AbsOp.
func NewAbsOp(x, output *tensor.RawTensor) *AbsOp { return &AbsOp{newBase(output, x)} }

// Backward computes the gradient for abs.
func (op *AbsOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return grads(zip(outputGrad, op.inputs[0], func(g, x float32) float32 {
		switch {
		case x > 0:
			return g
		case x < 0:
			return -g
		default:
			return 0
		}
	}))
}

// SinOp represents output = sin(x); grad = outputGrad * cos(x).
type SinOp struct{ base }

// NewSinOp creates a new SinOp.
func NewSinOp(x, output *tensor.RawTensor) *SinOp { return &SinOp{newBase(output, x)} }

// Backward computes the gradient for sin.
func (op *SinOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return grads(zip(outputGrad, op.inputs[0], func(g, x float32) float32 {
		return g * float32(math.Cos(float64(x)))
	}))
}

// CosOp represents output = cos(x); grad = -outputGrad * sin(x).
type CosOp struct{ base }

// NewCosOp creates a new CosOp.
func NewCosOp(x, output *tensor.RawTensor) *CosOp { return &CosOp{newBase(output, x)} }

// Backward computes the gradient for cos.
func (op *CosOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return grads(zip(outputGrad, op.inputs[0], func(g, x float32) float32 {
		return -g * float32(math.Sin(float64(x)))
	}))
}

// SigmoidOp represents output = σ(x); grad = outputGrad * σ(x) * (1 - σ(x)).
type SigmoidOp struct{ base }

// NewSigmoidOp creates a new SigmoidOp.
func NewSigmoidOp(x, output *tensor.RawTensor) *SigmoidOp { return &SigmoidOp{newBase(output, x)} }

// Backward computes the gradient for sigmoid.
func (op *SigmoidOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return grads(zip(outputGrad, op.output, func(g, s float32) float32 {
		return g * s * (1 - s)
	}))
}

// ReLUOp represents output = max(0, x).
type ReLUOp struct{ base }

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(x, output *tensor.RawTensor) *ReLUOp { return &ReLUOp{newBase(output, x)} }

// Backward passes the gradient where x > 0.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return grads(zip(outputGrad, op.inputs[0], func(g, x float32) float32 {
		if x > 0 {
			return g
		}
		return 0
	}))
}

// ELUOp represents output = x for x > 0 and exp(x) - 1 otherwise.
type ELUOp struct{ base }

// NewELUOp creates a new ELUOp.
func NewELUOp(x, output *tensor.RawTensor) *ELUOp { return &ELUOp{newBase(output, x)} }

// Backward computes grad * 1 for x > 0 and grad * (output + 1) otherwise.
func (op *ELUOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	x, y := op.inputs[0].Data(), op.output.Data()
	result := tensor.MustNewRaw(outputGrad.Shape(), outputGrad.Device())
	gd, rd := outputGrad.Data(), result.Data()
	for i, g := range gd {
		if x[i] > 0 {
			rd[i] = g
		} else {
			rd[i] = g * (y[i] + 1)
		}
	}
	return grads(result)
}

// ClampOp represents output = min(max(x, lo), hi).
type ClampOp struct {
	base
	lo, hi float32
}

// NewClampOp creates a new ClampOp.
func NewClampOp(x, output *tensor.RawTensor, lo, hi float32) *ClampOp {
	return &ClampOp{base: newBase(output, x), lo: lo, hi: hi}
}

// Backward passes the gradient where lo <= x <= hi.
func (op *ClampOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return grads(zip(outputGrad, op.inputs[0], func(g, x float32) float32 {
		if x < op.lo || x > op.hi {
			return 0
		}
		return g
	}))
}
