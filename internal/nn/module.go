// Package nn implements the neural network building blocks used by the
// depth and pose networks.
//
// This package provides:
//   - Module and Layer interfaces
//   - Parameter: trainable tensors with accumulated gradients
//   - Conv2D, Conv3x3 and ConvBlock layers
//   - Activations: ELU, Sigmoid, ReLU
//   - Sequential: container for stacking layers
//   - State dictionaries and safetensors checkpoints
//
// Design inspired by PyTorch's nn.Module.
package nn

import (
	"github.com/born-ml/cvodepth/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Networks with structured outputs (feature pyramids, per-scale disparities)
// implement Module and expose their own Forward signature.
type Module interface {
	// Parameters returns all trainable parameters of this module,
	// including those of nested modules, in a stable order.
	Parameters() []*Parameter
}

// Layer is a Module mapping one tensor to one tensor.
type Layer interface {
	Module

	// Forward computes the output of the layer for input.
	Forward(input *tensor.Tensor) *tensor.Tensor
}

// CollectParameters concatenates the parameters of several modules.
func CollectParameters(modules ...Module) []*Parameter {
	var params []*Parameter
	for _, m := range modules {
		if m == nil {
			continue
		}
		params = append(params, m.Parameters()...)
	}
	return params
}

// ZeroGrad clears the accumulated gradients of every parameter.
func ZeroGrad(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
