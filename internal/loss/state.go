package loss

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// State is the per-batch workspace shared by the terms.
type State struct {
	Batch    *dataset.Batch
	Out      *Outputs
	Opts     Options
	Training bool
	Losses   Losses

	orch              *Orchestrator
	scaleLoss         map[int]*tensor.Tensor
	depth             map[int]*tensor.Tensor
	transforms        map[dataset.FrameScale]*tensor.Tensor
	warped            map[dataset.FrameScale]*tensor.Tensor
	identitySelection map[int]*tensor.Tensor
	clouds            *cloudSet
}

func newState(o *Orchestrator, batch *dataset.Batch, out *Outputs, training bool) *State {
	return &State{
		Batch:             batch,
		Out:               out,
		Opts:              o.opts,
		Training:          training,
		Losses:            make(Losses),
		orch:              o,
		scaleLoss:         make(map[int]*tensor.Tensor),
		depth:             make(map[int]*tensor.Tensor),
		transforms:        make(map[dataset.FrameScale]*tensor.Tensor),
		warped:            make(map[dataset.FrameScale]*tensor.Tensor),
		identitySelection: make(map[int]*tensor.Tensor),
	}
}

// Rand returns the orchestrator's random source.
func (st *State) Rand() *rand.Rand {
	return st.orch.rng
}

// AddScaleLoss adds v to the objective of scale s.
func (st *State) AddScaleLoss(s int, v *tensor.Tensor) {
	if prev, ok := st.scaleLoss[s]; ok {
		st.scaleLoss[s] = prev.Add(v)
		return
	}
	st.scaleLoss[s] = v
}

// SourceScale returns the resolution level images of scale s are compared
// at: s itself with v1 multiscale, full resolution otherwise.
func (st *State) SourceScale(s int) int {
	if st.Opts.V1Multiscale {
		return s
	}
	return 0
}

// Neighbors returns every frame id except the host.
func (st *State) Neighbors() []dataset.FrameID {
	return st.Opts.FrameIDs[1:]
}

// Warped returns the neighbor color warped into the host view at scale s.
func (st *State) Warped(f dataset.FrameID, s int) *tensor.Tensor {
	return st.warped[dataset.FrameScale{Frame: f, Scale: s}]
}

// warp converts disparities to depth and warps every neighbor frame into
// the host view at every scale.
func (st *State) warp() error {
	for s := 0; s < st.Opts.NumScales; s++ {
		src := st.SourceScale(s)
		disp := st.Out.Disp[s]
		if !st.Opts.V1Multiscale {
			disp = disp.Interpolate(st.Opts.Height, st.Opts.Width)
		}
		_, depth := geometry.DispToDepth(disp, st.Opts.MinDepth, st.Opts.MaxDepth)
		st.depth[s] = depth

		in := st.Batch.Scale(src).Intrinsics
		cam := st.orch.backproject[src].Dense(depth, in)
		for _, f := range st.Neighbors() {
			t, err := st.transform(f, s, depth)
			if err != nil {
				return err
			}
			fr := st.Batch.Frame(f, src)
			if fr == nil {
				return errors.Errorf("loss: frame %s missing at scale %d", f, src)
			}
			grid := st.orch.project[src].Forward(cam, in, t)
			st.warped[dataset.FrameScale{Frame: f, Scale: s}] = fr.Color.WithBackend(grid.Backend()).GridSample(grid)
		}
	}
	return nil
}

// transform returns the transform mapping host points into frame f. The
// PoseCNN variant rescales its translation by the mean inverse depth of
// scale s, so its transforms are cached per scale.
func (st *State) transform(f dataset.FrameID, s int, depth *tensor.Tensor) (*tensor.Tensor, error) {
	key := dataset.FrameScale{Frame: f, Scale: s}
	if t, ok := st.transforms[key]; ok {
		return t, nil
	}

	var t *tensor.Tensor
	switch {
	case f == dataset.Stereo:
		if st.Batch.StereoT == nil {
			return nil, errors.New("loss: stereo frame requested without a stereo transform")
		}
		t = st.Batch.StereoT
	case st.Opts.PoseModelType == PosePoseCNN:
		axis, trans := st.Out.Axisangle[f], st.Out.Translation[f]
		if axis == nil || trans == nil {
			return nil, errors.Errorf("loss: missing pose parameters for frame %s", f)
		}
		if depth == nil {
			depth = st.depth[s]
		}
		batch := depth.Dim(0)
		meanInvDepth := depth.Reciprocal().MeanDim(3, false).MeanDim(2, false).Reshape(batch, 1, 1)
		t = geometry.TransformationFromParameters(axis, trans.Mul(meanInvDepth), f < 0)
	default:
		t = st.Out.CamTCam[f]
		if t == nil {
			return nil, errors.Errorf("loss: missing cam_T_cam for frame %s", f)
		}
	}
	st.transforms[key] = t
	return t, nil
}
