package loss

import (
	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// dispSupervisionTerm records the masked L1 distance between predicted and
// ground-truth disparity per scale, summed over frames. Frames without
// ground truth or without a labeled pixel are skipped.
type dispSupervisionTerm struct{}

func (dispSupervisionTerm) Name() string { return "disp_supervision" }

func (dispSupervisionTerm) Compute(st *State) error {
	for s := 0; s < st.Opts.NumScales; s++ {
		for _, f := range st.Opts.FrameIDs {
			fr := st.Batch.Frame(f, s)
			disp := st.disparity(f, s)
			if fr == nil || fr.DepthGT == nil || disp == nil {
				continue
			}
			dispGT := geometry.DepthToDisp(fr.DepthGT, st.Opts.MinDepth, st.Opts.MaxDepth)
			if l := MaskedL1(disp, dispGT); l != nil {
				st.Losses.Add(scaleKey("loss_disp", s), l)
			}
		}
	}
	return nil
}

// disparity returns the predicted disparity of frame f at scale s, or nil.
func (st *State) disparity(f dataset.FrameID, s int) *tensor.Tensor {
	if f == 0 {
		return st.Out.Disp[s]
	}
	return st.Out.NeighborDisp[f][s]
}

// MaskedL1 averages |pred - target| over the pixels where target is
// positive. It returns nil when no pixel qualifies.
func MaskedL1(pred, target *tensor.Tensor) *tensor.Tensor {
	mask := tensor.Zeros(target.Shape(), pred.Backend())
	md := mask.Data()
	var count int
	for i, v := range target.Data() {
		if v > 0 {
			md[i] = 1
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return pred.Sub(target).Abs().Mul(mask).Sum().MulScalar(1 / float32(count))
}
