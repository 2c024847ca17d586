package autodiff

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// Gradients maps every tensor reached by the backward pass to dL/dtensor.
type Gradients map[*tensor.RawTensor]*tensor.RawTensor

// Of returns the gradient of t, or nil when no gradient reached it.
func (g Gradients) Of(t *tensor.Tensor) *tensor.RawTensor {
	return g[t.Raw()]
}

// Backward computes gradients of a single-element loss using the backend's
// tape. The tape is left intact; call Tape().Clear() before the next forward
// pass.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.Ones(tensor.Shape{2}, backend)
//	y := x.Mul(x).Sum()
//	grads := autodiff.Backward(y, backend)
//	grad := grads.Of(x)
func Backward(loss *tensor.Tensor, backend *AutodiffBackend) Gradients {
	if loss.NumElements() != 1 {
		panic(fmt.Sprintf("backward: loss must have a single element, got shape %v", loss.Shape()))
	}
	if backend.tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}

	seed := tensor.MustNewRaw(loss.Shape(), backend.Device())
	seed.Fill(1)
	return backend.tape.Backward(loss.Raw(), seed, backend.inner)
}
