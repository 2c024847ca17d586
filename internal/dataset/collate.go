package dataset

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// Layout describes the frames and pyramid a batch is collated into.
type Layout struct {
	FrameIDs  []FrameID
	NumScales int
	Height    int
	Width     int
}

// Collate stacks samples into a validated Batch whose tensors live on
// backend. Ground truth is kept only when every sample carries it.
func Collate(samples []*Sample, layout Layout, backend tensor.Backend) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("dataset: nothing to collate")
	}
	for i, s := range samples {
		if err := s.Validate(layout.FrameIDs, layout.NumScales, layout.Height, layout.Width); err != nil {
			return nil, errors.Wrapf(err, "sample %d", i)
		}
	}

	n := len(samples)
	batch := &Batch{Size: n, FrameIDs: append([]FrameID(nil), layout.FrameIDs...)}
	bases := make([]geometry.Matrix4, n)
	for i, s := range samples {
		bases[i] = s.K
	}

	for sc := 0; sc < layout.NumScales; sc++ {
		h, w := layout.Height>>sc, layout.Width>>sc
		in, err := geometry.NewBatchIntrinsics(bases, h, w, backend)
		if err != nil {
			return nil, errors.Wrapf(err, "scale %d", sc)
		}
		sr := &ScaleRecord{Scale: sc, Height: h, Width: w, Intrinsics: in, Frames: make(map[FrameID]*FrameRecord)}
		for _, f := range layout.FrameIDs {
			pick := func(get func(*FrameSample) []*Plane) []*Plane {
				out := make([]*Plane, n)
				for i, s := range samples {
					levels := get(s.Frames[f])
					if levels == nil {
						return nil
					}
					out[i] = levels[sc]
				}
				return out
			}
			rec := &FrameRecord{
				Color:    stack(pick(func(fs *FrameSample) []*Plane { return fs.Color }), backend),
				ColorAug: stack(pick(func(fs *FrameSample) []*Plane { return fs.ColorAug }), backend),
			}
			if gt := pick(func(fs *FrameSample) []*Plane { return fs.DepthGT }); gt != nil {
				rec.DepthGT = stack(gt, backend)
				rec.DepthMask = stack(pick(func(fs *FrameSample) []*Plane { return fs.DepthMask }), backend)
				rec.DepthMaskGT = stack(pick(func(fs *FrameSample) []*Plane { return fs.DepthMaskGT }), backend)
			}
			sr.Frames[f] = rec
		}
		batch.Scales = append(batch.Scales, sr)
	}

	full := make([]*Plane, n)
	velo := make([][]r3.Vector, n)
	stereo := make([]geometry.Matrix4, 0, n)
	for i, s := range samples {
		full[i] = s.DepthGT
		velo[i] = s.Velo
		if s.StereoT != nil {
			stereo = append(stereo, *s.StereoT)
		}
	}
	if full[0] != nil && !containsNil(full) {
		batch.DepthGT = stack(full, backend)
	}
	batch.Velo = velo
	if len(stereo) == n {
		batch.StereoT = geometry.StackMatrices(stereo, backend)
	}

	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return batch, nil
}

func containsNil(planes []*Plane) bool {
	for _, p := range planes {
		if p == nil {
			return true
		}
	}
	return false
}

// stack copies same-sized planes into a B×C×H×W tensor. It returns nil when
// any plane is missing.
func stack(planes []*Plane, backend tensor.Backend) *tensor.Tensor {
	if planes == nil || containsNil(planes) {
		return nil
	}
	p0 := planes[0]
	per := p0.Channels * p0.Height * p0.Width
	data := make([]float32, 0, per*len(planes))
	for _, p := range planes {
		data = append(data, p.Pix[:per]...)
	}
	return tensor.MustFromSlice(data, tensor.Shape{len(planes), p0.Channels, p0.Height, p0.Width}, backend)
}
