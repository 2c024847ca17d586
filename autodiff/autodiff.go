// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode automatic differentiation.
//
// A Backend wraps any tensor backend and records the operations executed
// while its tape is recording. Backward walks the tape from a scalar loss.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.Ones(tensor.Shape{2, 3}, backend)
//	loss := x.Mul(x).Sum()
//	grads := autodiff.Backward(loss, backend)
//	dx := grads.Of(x)
package autodiff

import (
	"github.com/born-ml/cvodepth/internal/autodiff"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// Backend is the autodiff-enabled backend.
type Backend = autodiff.AutodiffBackend

// GradientTape records operations for automatic differentiation.
type GradientTape = autodiff.GradientTape

// Gradients maps raw tensors to their gradients.
type Gradients = autodiff.Gradients

// New wraps backend with gradient recording.
func New(backend tensor.Backend) *Backend {
	return autodiff.New(backend)
}

// Backward computes the gradients of a scalar loss.
func Backward(loss *tensor.Tensor, backend *Backend) Gradients {
	return autodiff.Backward(loss, backend)
}
