// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the float32 tensor used by the depth and pose
// training stack.
//
// A Tensor pairs row-major storage with the Backend that computes on it.
// Wrapping a backend with autodiff records every operation for
// backpropagation.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros(tensor.Shape{2, 3}, backend)
//	y := tensor.Ones(tensor.Shape{2, 3}, backend)
//	z := x.Add(y)
package tensor

import (
	"github.com/born-ml/cvodepth/internal/tensor"
)

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// Device represents the device where tensor data resides.
type Device = tensor.Device

// CPU is the only device currently implemented.
const CPU Device = tensor.CPU

// RawTensor is the backend-level storage of a Tensor.
type RawTensor = tensor.RawTensor

// Backend computes tensor operations on one device.
type Backend = tensor.Backend

// Tensor is a float32 tensor bound to a backend.
type Tensor = tensor.Tensor

// Zeros creates a tensor filled with zeros.
func Zeros(shape Shape, b Backend) *Tensor {
	return tensor.Zeros(shape, b)
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape, b Backend) *Tensor {
	return tensor.Ones(shape, b)
}

// Full creates a tensor filled with v.
func Full(shape Shape, v float32, b Backend) *Tensor {
	return tensor.Full(shape, v, b)
}

// Scalar creates a 0-dimensional tensor.
func Scalar(v float32, b Backend) *Tensor {
	return tensor.Scalar(v, b)
}

// FromSlice creates a tensor from a row-major slice.
//
// Example:
//
//	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)
func FromSlice(data []float32, shape Shape, b Backend) (*Tensor, error) {
	return tensor.FromSlice(data, shape, b)
}

// Cat concatenates tensors along dim.
func Cat(tensors []*Tensor, dim int) *Tensor {
	return tensor.Cat(tensors, dim)
}
