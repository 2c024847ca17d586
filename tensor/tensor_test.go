// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/born-ml/cvodepth/autodiff"
	"github.com/born-ml/cvodepth/backend/cpu"
	"github.com/born-ml/cvodepth/tensor"
)

// TestBackendInterface verifies that both backends implement tensor.Backend.
func TestBackendInterface(_ *testing.T) {
	var _ tensor.Backend = (*cpu.Backend)(nil)
	var _ tensor.Backend = (*autodiff.Backend)(nil)
}

func TestCreation(t *testing.T) {
	backend := cpu.New()

	x := tensor.Full(tensor.Shape{2, 3}, 1.5, backend)
	if !x.Shape().Equal(tensor.Shape{2, 3}) {
		t.Errorf("Shape() = %v, want [2 3]", x.Shape())
	}
	for i, v := range x.Data() {
		if v != 1.5 {
			t.Fatalf("Data()[%d] = %v, want 1.5", i, v)
		}
	}

	if got := tensor.Scalar(4, backend).Item(); got != 4 {
		t.Errorf("Scalar().Item() = %v, want 4", got)
	}

	if _, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{2, 2}, backend); err == nil {
		t.Error("FromSlice accepted 3 values for a 2x2 shape")
	}
}

func TestCat(t *testing.T) {
	backend := cpu.New()
	a := tensor.Ones(tensor.Shape{2, 3}, backend)
	b := tensor.Zeros(tensor.Shape{1, 3}, backend)

	c := tensor.Cat([]*tensor.Tensor{a, b}, 0)
	if !c.Shape().Equal(tensor.Shape{3, 3}) {
		t.Fatalf("Cat shape = %v, want [3 3]", c.Shape())
	}
	if c.At(1, 2) != 1 || c.At(2, 0) != 0 {
		t.Errorf("Cat values = %v", c.Data())
	}
}

func TestBackwardThroughFacade(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, backend)
	if err != nil {
		t.Fatal(err)
	}
	loss := x.Mul(x).Sum()
	grad := autodiff.Backward(loss, backend).Of(x)
	if grad == nil {
		t.Fatal("no gradient reached x")
	}
	for i, want := range []float32{2, 4, 6} {
		if got := grad.Data()[i]; got != want {
			t.Errorf("dL/dx[%d] = %v, want %v", i, got, want)
		}
	}
}
