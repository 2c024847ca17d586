// Package loss assembles the self-supervised training objective.
//
// The Orchestrator warps neighbor frames into the host view using predicted
// depth and pose, then runs a configured set of Terms over the batch. Terms
// contribute to the per-scale photometric objective and record diagnostics
// (disparity supervision, CVO similarities, pose alignment) keyed by tag:
//
//	loss/<s>                       per-scale objective
//	loss                           mean over scales
//	loss_disp/<s>                  masked L1 against ground-truth disparity
//	loss_cvo/<item>_True_s<s>_f<f> sparse CVO function distance
//	loss_pose/cos_sum              pose alignment cosine over frames and scales
//
// After all terms ran every value is checked; a non-finite value fails the
// whole computation with ErrNonFinite.
package loss

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// ErrNonFinite reports a NaN or infinite loss value.
var ErrNonFinite = errors.New("non-finite loss")

// Losses maps diagnostic tags to 0-D tensors.
type Losses map[string]*tensor.Tensor

// Add accumulates v into key.
func (l Losses) Add(key string, v *tensor.Tensor) {
	if prev, ok := l[key]; ok {
		l[key] = prev.Add(v)
		return
	}
	l[key] = v
}

// Value returns the scalar stored at key.
func (l Losses) Value(key string) (float32, bool) {
	t, ok := l[key]
	if !ok {
		return 0, false
	}
	return t.Item(), true
}

// Keys returns the tags in lexical order.
func (l Losses) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scalars copies every value out of the tensors.
func (l Losses) Scalars() map[string]float32 {
	out := make(map[string]float32, len(l))
	for k, t := range l {
		out[k] = t.Item()
	}
	return out
}

func (l Losses) checkFinite() error {
	for _, k := range l.Keys() {
		if !l[k].IsFinite() {
			return errors.Wrapf(ErrNonFinite, "%s = %v", k, l[k].Data())
		}
	}
	return nil
}

// Outputs carries the network predictions for one batch.
type Outputs struct {
	// Disp maps scale to the host disparity (B×1×h×w, sigmoid output).
	Disp map[int]*tensor.Tensor
	// NeighborDisp holds disparities predicted on neighbor frames. Only the
	// CVO terms need them.
	NeighborDisp map[dataset.FrameID]map[int]*tensor.Tensor
	// PredictiveMask maps scale to a B×(F-1)×h×w mask when enabled.
	PredictiveMask map[int]*tensor.Tensor
	// Axisangle and Translation are the raw pose outputs (B×1×3).
	Axisangle   map[dataset.FrameID]*tensor.Tensor
	Translation map[dataset.FrameID]*tensor.Tensor
	// CamTCam maps host points into each neighbor frame (B×4×4).
	CamTCam map[dataset.FrameID]*tensor.Tensor
}

// Result is the outcome of one orchestrated loss computation.
type Result struct {
	Losses Losses
	// Depth is the host depth each scale was warped with.
	Depth map[int]*tensor.Tensor
	// Warped holds the neighbor colors warped into the host view.
	Warped map[dataset.FrameScale]*tensor.Tensor
	// IdentitySelection flags, per scale, pixels where a warped frame beat
	// every unwarped one. Absent when automasking is off.
	IdentitySelection map[int]*tensor.Tensor
}

// Total returns the training objective.
func (r *Result) Total() *tensor.Tensor {
	return r.Losses["loss"]
}

// Term is one named contribution to the objective. A term reads the shared
// State, records diagnostics in State.Losses and may add to the per-scale
// objective with State.AddScaleLoss. Terms whose inputs are missing from the
// batch skip themselves without recording anything.
type Term interface {
	Name() string
	Compute(st *State) error
}

func scaleKey(prefix string, s int) string {
	return fmt.Sprintf("%s/%d", prefix, s)
}
