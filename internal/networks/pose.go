package networks

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/cvodepth/internal/nn"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// poseScale damps the raw pose regression at initialization.
const poseScale = 0.01

const poseWidth = 256

// PoseDecoder regresses relative poses from the coarsest encoder features of
// numInputFeatures frames.
type PoseDecoder struct {
	numFrames int
	squeeze   *nn.Conv2D
	convs     []*nn.Conv2D
}

// NewPoseDecoder creates a decoder predicting numFrames poses.
func NewPoseDecoder(name string, encChannels []int, numInputFeatures, numFrames int, rng *rand.Rand, backend tensor.Backend) *PoseDecoder {
	return &PoseDecoder{
		numFrames: numFrames,
		squeeze:   nn.NewConv2D(name+".squeeze", encChannels[len(encChannels)-1], poseWidth, 1, 1, 0, true, rng, backend),
		convs: []*nn.Conv2D{
			nn.NewConv2D(name+".pose_0", numInputFeatures*poseWidth, poseWidth, 3, 1, 1, true, rng, backend),
			nn.NewConv2D(name+".pose_1", poseWidth, poseWidth, 3, 1, 1, true, rng, backend),
			nn.NewConv2D(name+".pose_2", poseWidth, 6*numFrames, 1, 1, 0, true, rng, backend),
		},
	}
}

// Forward takes one feature pyramid per input frame and returns axis-angle
// and translation tensors of shape B×numFrames×1×3.
func (p *PoseDecoder) Forward(features [][]*tensor.Tensor) (axisangle, translation *tensor.Tensor) {
	last := make([]*tensor.Tensor, len(features))
	for i, f := range features {
		last[i] = p.squeeze.Forward(f[len(f)-1]).ReLU()
	}
	x := tensor.Cat(last, 1)
	for i, c := range p.convs {
		x = c.Forward(x)
		if i < len(p.convs)-1 {
			x = x.ReLU()
		}
	}
	return splitPose(x, p.numFrames)
}

// Parameters returns every trainable parameter.
func (p *PoseDecoder) Parameters() []*nn.Parameter {
	params := p.squeeze.Parameters()
	for _, c := range p.convs {
		params = append(params, c.Parameters()...)
	}
	return params
}

// PoseCNN regresses relative poses directly from stacked images.
type PoseCNN struct {
	numInputFrames int
	convs          []*nn.Conv2D
	head           *nn.Conv2D
}

var poseCNNLayers = []struct{ channels, kernel int }{
	{16, 7}, {32, 5}, {64, 3}, {128, 3}, {256, 3}, {256, 3}, {256, 3},
}

// NewPoseCNN creates a network over numInputFrames stacked RGB frames that
// predicts numInputFrames-1 poses.
func NewPoseCNN(name string, numInputFrames int, rng *rand.Rand, backend tensor.Backend) *PoseCNN {
	p := &PoseCNN{numInputFrames: numInputFrames}
	in := 3 * numInputFrames
	for i, l := range poseCNNLayers {
		p.convs = append(p.convs, nn.NewConv2D(fmt.Sprintf("%s.conv%d", name, i), in, l.channels, l.kernel, 2, (l.kernel-1)/2, true, rng, backend))
		in = l.channels
	}
	p.head = nn.NewConv2D(name+".pose_conv", in, 6*(numInputFrames-1), 1, 1, 0, true, rng, backend)
	return p
}

// Forward returns axis-angle and translation tensors of shape
// B×(numInputFrames-1)×1×3.
func (p *PoseCNN) Forward(images *tensor.Tensor) (axisangle, translation *tensor.Tensor) {
	x := images
	for _, c := range p.convs {
		x = c.Forward(x).ReLU()
	}
	return splitPose(p.head.Forward(x), p.numInputFrames-1)
}

// Parameters returns every trainable parameter.
func (p *PoseCNN) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, c := range p.convs {
		params = append(params, c.Parameters()...)
	}
	return append(params, p.head.Parameters()...)
}

// splitPose averages a B×6n×h×w map spatially, scales it and splits it into
// rotation and translation parts.
func splitPose(x *tensor.Tensor, n int) (axisangle, translation *tensor.Tensor) {
	batch := x.Dim(0)
	out := x.MeanDim(3, false).MeanDim(2, false).MulScalar(poseScale).Reshape(batch, n, 1, 6)
	return out.Narrow(3, 0, 3), out.Narrow(3, 3, 3)
}
