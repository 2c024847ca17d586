package dataset

import (
	"fmt"
	"math"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// FrameID identifies a frame relative to the host frame 0: temporal
// neighbors are negative or positive offsets, Stereo is the other camera of
// the host's stereo pair.
type FrameID int

// Stereo is the stereo counterpart of the host frame.
const Stereo FrameID = math.MaxInt16

// String returns "s" for Stereo and the signed offset otherwise.
func (f FrameID) String() string {
	if f == Stereo {
		return "s"
	}
	return strconv.Itoa(int(f))
}

// ParseFrameID parses "s" or a signed integer offset.
func ParseFrameID(s string) (FrameID, error) {
	if s == "s" {
		return Stereo, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid frame id %q", s)
	}
	return FrameID(v), nil
}

// FrameScale keys per-frame, per-scale tensors.
type FrameScale struct {
	Frame FrameID
	Scale int
}

// FrameRecord holds the tensors of one frame at one scale. Image tensors are
// B×3×h×w, depth and masks B×1×h×w. Masks hold 0/1 values.
type FrameRecord struct {
	Color    *tensor.Tensor
	ColorAug *tensor.Tensor
	// DepthGT is nil when the source has no ground truth for the frame.
	DepthGT *tensor.Tensor
	// DepthMask flags pixels trusted for predicted-depth clouds.
	DepthMask *tensor.Tensor
	// DepthMaskGT flags pixels with a ground-truth measurement.
	DepthMaskGT *tensor.Tensor
}

// ScaleRecord groups every frame of one pyramid level with the intrinsics
// scaled for that level's resolution.
type ScaleRecord struct {
	Scale      int
	Height     int
	Width      int
	Intrinsics geometry.Intrinsics
	Frames     map[FrameID]*FrameRecord
}

// Batch is a collated set of samples indexed by (frame, scale).
type Batch struct {
	Size     int
	FrameIDs []FrameID
	Scales   []*ScaleRecord
	// DepthGT is the full-resolution ground truth used for depth metrics.
	DepthGT *tensor.Tensor
	// StereoT is the B×4×4 stereo baseline transform, nil without stereo.
	StereoT *tensor.Tensor
	// Velo holds each sample's raw LiDAR scan of the host frame.
	Velo [][]r3.Vector
}

// Scale returns the record of pyramid level s.
func (b *Batch) Scale(s int) *ScaleRecord {
	if s < 0 || s >= len(b.Scales) {
		panic(fmt.Sprintf("dataset: scale %d out of range [0, %d)", s, len(b.Scales)))
	}
	return b.Scales[s]
}

// Frame returns the record of frame f at scale s, or nil when absent.
func (b *Batch) Frame(f FrameID, s int) *FrameRecord {
	return b.Scale(s).Frames[f]
}

// HasDepthGT reports whether every scale of frame f carries ground truth.
func (b *Batch) HasDepthGT(f FrameID) bool {
	for _, sr := range b.Scales {
		fr := sr.Frames[f]
		if fr == nil || fr.DepthGT == nil {
			return false
		}
	}
	return len(b.Scales) > 0
}

// Validate checks that every frame exists at every scale with tensors of
// the scale's resolution.
func (b *Batch) Validate() error {
	if b.Size <= 0 {
		return errors.New("dataset: empty batch")
	}
	if len(b.FrameIDs) == 0 || b.FrameIDs[0] != 0 {
		return errors.Errorf("dataset: frame ids %v must start with the host frame 0", b.FrameIDs)
	}
	for s, sr := range b.Scales {
		if sr.Scale != s {
			return errors.Errorf("dataset: scale record %d labeled %d", s, sr.Scale)
		}
		if sr.Intrinsics.Height != sr.Height || sr.Intrinsics.Width != sr.Width {
			return errors.Errorf("dataset: scale %d intrinsics for %dx%d, images %dx%d",
				s, sr.Intrinsics.Width, sr.Intrinsics.Height, sr.Width, sr.Height)
		}
		for _, f := range b.FrameIDs {
			fr, ok := sr.Frames[f]
			if !ok {
				return errors.Errorf("dataset: frame %s missing at scale %d", f, s)
			}
			if err := checkImage(fr.Color, b.Size, 3, sr.Height, sr.Width); err != nil {
				return errors.Wrapf(err, "color %s/%d", f, s)
			}
			if err := checkImage(fr.ColorAug, b.Size, 3, sr.Height, sr.Width); err != nil {
				return errors.Wrapf(err, "color_aug %s/%d", f, s)
			}
			for name, t := range map[string]*tensor.Tensor{
				"depth_gt":      fr.DepthGT,
				"depth_mask":    fr.DepthMask,
				"depth_mask_gt": fr.DepthMaskGT,
			} {
				if t == nil {
					continue
				}
				if err := checkImage(t, b.Size, 1, sr.Height, sr.Width); err != nil {
					return errors.Wrapf(err, "%s %s/%d", name, f, s)
				}
			}
		}
	}
	return nil
}

func checkImage(t *tensor.Tensor, batch, channels, height, width int) error {
	if t == nil {
		return errors.New("missing")
	}
	want := tensor.Shape{batch, channels, height, width}
	if !t.Shape().Equal(want) {
		return errors.Errorf("shape %v, want %v", t.Shape(), want)
	}
	return nil
}
