package tensor

import (
	"fmt"
	"math"
)

// Tensor is a float32 tensor bound to a computation backend.
//
// Every operation is dispatched to the backend, so a tensor created on an
// autodiff backend records its operations on the backend's tape.
//
// Example:
//
//	backend := cpu.New()
//	t := tensor.Zeros(Shape{3, 4}, backend)
//	result := t.Add(t)
type Tensor struct {
	raw     *RawTensor
	backend Backend
}

// New creates a Tensor from a RawTensor and backend.
func New(raw *RawTensor, b Backend) *Tensor {
	return &Tensor{raw: raw, backend: b}
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float32, shape Shape, b Backend) (*Tensor, error) {
	raw, err := RawFromSlice(data, shape, b.Device())
	if err != nil {
		return nil, err
	}
	return New(raw, b), nil
}

// MustFromSlice is FromSlice that panics on a shape mismatch.
func MustFromSlice(data []float32, shape Shape, b Backend) *Tensor {
	t, err := FromSlice(data, shape, b)
	if err != nil {
		panic(err)
	}
	return t
}

// Zeros creates a zero-filled tensor.
func Zeros(shape Shape, b Backend) *Tensor {
	return New(MustNewRaw(shape, b.Device()), b)
}

// Full creates a tensor filled with v.
func Full(shape Shape, v float32, b Backend) *Tensor {
	raw := MustNewRaw(shape, b.Device())
	raw.Fill(v)
	return New(raw, b)
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape, b Backend) *Tensor {
	return Full(shape, 1, b)
}

// Scalar creates a 0-D tensor holding v.
func Scalar(v float32, b Backend) *Tensor {
	return Full(Shape{}, v, b)
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.raw.Shape()
}

// Dim returns the size of dimension d (negative values count from the end).
func (t *Tensor) Dim(d int) int {
	s := t.raw.Shape()
	return s[s.NormalizeDim(d)]
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.raw.NumElements()
}

// Raw returns the underlying RawTensor.
func (t *Tensor) Raw() *RawTensor {
	return t.raw
}

// Backend returns the computation backend.
func (t *Tensor) Backend() Backend {
	return t.backend
}

// Data returns the tensor's backing slice (zero-copy).
//
// WARNING: Modifications to the returned slice will modify the tensor.
func (t *Tensor) Data() []float32 {
	return t.raw.Data()
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() float32 {
	if t.NumElements() != 1 {
		panic(fmt.Sprintf("Item() only works for single-element tensors, got shape %v", t.Shape()))
	}
	return t.raw.Data()[0]
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	return t.raw.Data()[t.offset(indices)]
}

// Set sets the element at the given indices.
func (t *Tensor) Set(value float32, indices ...int) {
	t.raw.Data()[t.offset(indices)] = value
}

func (t *Tensor) offset(indices []int) int {
	shape := t.Shape()
	if len(indices) != len(shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(shape), len(indices)))
	}
	offset := 0
	strides := t.raw.Strides()
	for i, idx := range indices {
		if idx < 0 || idx >= shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, shape[i]))
		}
		offset += idx * strides[i]
	}
	return offset
}

// Detach returns a tensor sharing the same data that is disconnected from the
// gradient graph: operations on it never propagate gradients back to t.
func (t *Tensor) Detach() *Tensor {
	return New(t.raw.View(t.Shape()), t.backend)
}

// WithBackend returns t bound to backend b. The storage is shared and the
// graph identity kept, so an autodiff backend still tracks gradients through
// a tensor created elsewhere.
func (t *Tensor) WithBackend(b Backend) *Tensor {
	if t.backend == b {
		return t
	}
	return New(t.raw, b)
}

// Clone creates a deep copy of the tensor, disconnected from the graph.
func (t *Tensor) Clone() *Tensor {
	return New(t.raw.Clone(), t.backend)
}

// IsFinite reports whether every element is neither NaN nor infinite.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.raw.Data() {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// String returns a human-readable representation of the tensor.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor[float32]%v on %s", t.raw.Shape(), t.raw.Device())
}
