package nn

import (
	"github.com/born-ml/cvodepth/internal/tensor"
)

// ELU is an Exponential Linear Unit activation module.
//
// Applies the element-wise function: f(x) = x if x > 0, exp(x) - 1 otherwise.
type ELU struct{}

// NewELU creates a new ELU activation module.
func NewELU() *ELU {
	return &ELU{}
}

// Forward applies ELU activation.
func (e *ELU) Forward(input *tensor.Tensor) *tensor.Tensor {
	return input.ELU()
}

// Parameters returns an empty slice (ELU has no trainable parameters).
func (e *ELU) Parameters() []*Parameter {
	return nil
}

// ReLU is a Rectified Linear Unit activation module.
//
// Applies the element-wise function: f(x) = max(0, x)
type ReLU struct{}

// NewReLU creates a new ReLU activation module.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward applies ReLU activation: f(x) = max(0, x).
func (r *ReLU) Forward(input *tensor.Tensor) *tensor.Tensor {
	return input.ReLU()
}

// Parameters returns an empty slice (ReLU has no trainable parameters).
func (r *ReLU) Parameters() []*Parameter {
	return nil
}

// Sigmoid is a sigmoid activation module.
//
// Applies the element-wise function: f(x) = 1 / (1 + exp(-x))
//
// Disparity and predictive-mask heads end with Sigmoid so their outputs lie
// in (0, 1).
type Sigmoid struct{}

// NewSigmoid creates a new Sigmoid activation module.
func NewSigmoid() *Sigmoid {
	return &Sigmoid{}
}

// Forward applies sigmoid activation.
func (s *Sigmoid) Forward(input *tensor.Tensor) *tensor.Tensor {
	return input.Sigmoid()
}

// Parameters returns an empty slice (Sigmoid has no trainable parameters).
func (s *Sigmoid) Parameters() []*Parameter {
	return nil
}
