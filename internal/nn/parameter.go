package nn

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// The parameter tensor is a graph leaf: its RawTensor identity stays fixed
// for the lifetime of the parameter, so gradients returned by
// autodiff.Backward can be looked up by it. Optimizers update its data in
// place.
//
// Example:
//
//	weight := nn.NewParameter("conv1.weight", weightTensor)
//	grads := autodiff.Backward(loss, backend)
//	weight.AccumulateGrad(grads.Of(weight.Tensor()))
type Parameter struct {
	name   string            // Parameter name (e.g., "encoder.conv1.weight")
	tensor *tensor.Tensor    // The parameter tensor
	grad   *tensor.RawTensor // Accumulated gradient, nil until the first backward pass
}

// NewParameter creates a new trainable parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Grad returns the accumulated gradient.
//
// Returns nil if no gradient has been accumulated since the last ZeroGrad.
func (p *Parameter) Grad() *tensor.RawTensor {
	return p.grad
}

// SetGrad replaces the accumulated gradient.
func (p *Parameter) SetGrad(grad *tensor.RawTensor) {
	p.grad = grad
}

// AccumulateGrad adds grad into the accumulated gradient.
//
// A nil grad (parameter not on the loss path) is ignored.
func (p *Parameter) AccumulateGrad(grad *tensor.RawTensor) {
	if grad == nil {
		return
	}
	if !grad.Shape().Equal(p.tensor.Shape()) {
		panic(fmt.Sprintf("parameter %s: gradient shape %v != parameter shape %v", p.name, grad.Shape(), p.tensor.Shape()))
	}
	if p.grad == nil {
		p.grad = grad.Clone()
		return
	}
	dst := p.grad.Data()
	for i, g := range grad.Data() {
		dst[i] += g
	}
}

// ZeroGrad clears the gradient.
//
// This should be called after each optimizer step so the next
// accumulation window starts from zero.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}
