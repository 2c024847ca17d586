package trainer

import (
	"math/rand"

	"github.com/born-ml/cvodepth/internal/config"
	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/internal/loss"
	"github.com/born-ml/cvodepth/internal/networks"
	"github.com/born-ml/cvodepth/internal/nn"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// Models holds the networks of a run. Pose networks depend on the pose model
// type: separate uses PoseEncoder and Pose, shared reuses Encoder with Pose,
// posecnn uses PoseCNN only.
type Models struct {
	Encoder        *networks.Encoder
	Depth          *networks.DepthDecoder
	PoseEncoder    *networks.Encoder
	Pose           *networks.PoseDecoder
	PoseCNN        *networks.PoseCNN
	PredictiveMask *networks.DepthDecoder

	poseType string
	frameIDs []dataset.FrameID
}

// NewModels builds every network cfg needs on backend. encChannels selects
// the encoder widths; nil uses the ResNet-18 widths.
func NewModels(cfg config.Config, encChannels []int, rng *rand.Rand, backend tensor.Backend) *Models {
	m := &Models{
		poseType: cfg.PoseModelType,
		frameIDs: cfg.AllFrameIDs(),
	}
	m.Encoder = networks.NewEncoder("encoder", encChannels, 1, rng, backend)
	m.Depth = networks.NewDepthDecoder("depth", m.Encoder.Channels(), cfg.Scales, 1, rng, backend)

	switch cfg.PoseModelType {
	case loss.PoseSeparate:
		m.PoseEncoder = networks.NewEncoder("pose_encoder", encChannels, 2, rng, backend)
		m.Pose = networks.NewPoseDecoder("pose", m.PoseEncoder.Channels(), 1, 2, rng, backend)
	case loss.PoseShared:
		m.Pose = networks.NewPoseDecoder("pose", m.Encoder.Channels(), 2, 1, rng, backend)
	case loss.PosePoseCNN:
		m.PoseCNN = networks.NewPoseCNN("pose", 2, rng, backend)
	}
	if cfg.PredictiveMask {
		m.PredictiveMask = networks.NewDepthDecoder("predictive_mask", m.Encoder.Channels(), cfg.Scales, len(m.frameIDs)-1, rng, backend)
	}
	return m
}

// Named returns the checkpointable components keyed by file name.
func (m *Models) Named() map[string]nn.Module {
	out := map[string]nn.Module{
		config.ModelEncoder: m.Encoder,
		config.ModelDepth:   m.Depth,
	}
	if m.PoseEncoder != nil {
		out[config.ModelPoseEncoder] = m.PoseEncoder
	}
	switch {
	case m.Pose != nil:
		out[config.ModelPose] = m.Pose
	case m.PoseCNN != nil:
		out[config.ModelPose] = m.PoseCNN
	}
	if m.PredictiveMask != nil {
		out[config.ModelPredictiveMask] = m.PredictiveMask
	}
	return out
}

// Parameters returns every trainable parameter in a stable order.
func (m *Models) Parameters() []*nn.Parameter {
	modules := []nn.Module{m.Encoder, m.Depth}
	if m.PoseEncoder != nil {
		modules = append(modules, m.PoseEncoder)
	}
	if m.Pose != nil {
		modules = append(modules, m.Pose)
	}
	if m.PoseCNN != nil {
		modules = append(modules, m.PoseCNN)
	}
	if m.PredictiveMask != nil {
		modules = append(modules, m.PredictiveMask)
	}
	return nn.CollectParameters(modules...)
}

// Forward runs the networks over a batch. withNeighborDisp also predicts
// disparities for every neighbor frame.
func (m *Models) Forward(batch *dataset.Batch, withNeighborDisp bool) *loss.Outputs {
	out := &loss.Outputs{
		NeighborDisp: make(map[dataset.FrameID]map[int]*tensor.Tensor),
		Axisangle:    make(map[dataset.FrameID]*tensor.Tensor),
		Translation:  make(map[dataset.FrameID]*tensor.Tensor),
		CamTCam:      make(map[dataset.FrameID]*tensor.Tensor),
	}

	features := map[dataset.FrameID][]*tensor.Tensor{
		0: m.Encoder.Forward(batch.Frame(0, 0).ColorAug),
	}
	encode := func(f dataset.FrameID) []*tensor.Tensor {
		if fs, ok := features[f]; ok {
			return fs
		}
		features[f] = m.Encoder.Forward(batch.Frame(f, 0).ColorAug)
		return features[f]
	}

	out.Disp = m.Depth.Forward(features[0])
	if m.PredictiveMask != nil {
		out.PredictiveMask = m.PredictiveMask.Forward(features[0])
	}
	if withNeighborDisp {
		for _, f := range m.frameIDs[1:] {
			out.NeighborDisp[f] = m.Depth.Forward(encode(f))
		}
	}

	for _, f := range m.frameIDs[1:] {
		if f == dataset.Stereo {
			continue
		}
		var axisangle, translation *tensor.Tensor
		switch m.poseType {
		case loss.PoseShared:
			pair := [][]*tensor.Tensor{encode(f), features[0]}
			if f > 0 {
				pair[0], pair[1] = pair[1], pair[0]
			}
			axisangle, translation = m.Pose.Forward(pair)
		case loss.PosePoseCNN:
			axisangle, translation = m.PoseCNN.Forward(posePair(batch, f))
		default:
			axisangle, translation = m.Pose.Forward([][]*tensor.Tensor{m.PoseEncoder.Forward(posePair(batch, f))})
		}
		axisangle, translation = axisangle.Narrow(1, 0, 1), translation.Narrow(1, 0, 1)
		out.Axisangle[f], out.Translation[f] = axisangle, translation
		if m.poseType != loss.PosePoseCNN {
			out.CamTCam[f] = geometry.TransformationFromParameters(axisangle, translation, f < 0)
		}
	}
	return out
}

// posePair stacks the augmented images of f and the host in temporal order.
func posePair(batch *dataset.Batch, f dataset.FrameID) *tensor.Tensor {
	host, other := batch.Frame(0, 0).ColorAug, batch.Frame(f, 0).ColorAug
	if f < 0 {
		return tensor.Cat([]*tensor.Tensor{other, host}, 1)
	}
	return tensor.Cat([]*tensor.Tensor{host, other}, 1)
}
