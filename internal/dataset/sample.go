package dataset

import (
	"image"
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/geometry"
)

// Plane is a channel-major float image.
type Plane struct {
	Channels int
	Height   int
	Width    int
	Pix      []float32
}

// NewPlane allocates a zero plane.
func NewPlane(channels, height, width int) *Plane {
	return &Plane{Channels: channels, Height: height, Width: width, Pix: make([]float32, channels*height*width)}
}

// At returns the value of channel c at (y, x).
func (p *Plane) At(c, y, x int) float32 {
	return p.Pix[(c*p.Height+y)*p.Width+x]
}

// Set stores v in channel c at (y, x).
func (p *Plane) Set(c, y, x int, v float32) {
	p.Pix[(c*p.Height+y)*p.Width+x] = v
}

// FlipH mirrors the plane horizontally in place.
func (p *Plane) FlipH() {
	for c := 0; c < p.Channels; c++ {
		for y := 0; y < p.Height; y++ {
			row := p.Pix[(c*p.Height+y)*p.Width : (c*p.Height+y+1)*p.Width]
			for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	}
}

// PlaneFromImage converts an image to a 3-channel plane in [0, 1].
func PlaneFromImage(img image.Image) *Plane {
	b := img.Bounds()
	p := NewPlane(3, b.Dy(), b.Dx())
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			p.Set(0, y, x, float32(c.R)/255)
			p.Set(1, y, x, float32(c.G)/255)
			p.Set(2, y, x, float32(c.B)/255)
		}
	}
	return p
}

// Image converts a 3-channel plane in [0, 1] back to an 8-bit image.
func (p *Plane) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.Width, p.Height))
	to8 := func(v float32) uint8 {
		switch {
		case v <= 0:
			return 0
		case v >= 1:
			return 255
		}
		return uint8(v*255 + 0.5)
	}
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: to8(p.At(0, y, x)),
				G: to8(p.At(min(1, p.Channels-1), y, x)),
				B: to8(p.At(min(2, p.Channels-1), y, x)),
				A: 255,
			})
		}
	}
	return img
}

// FrameSample holds one frame of a sample, one entry per scale.
type FrameSample struct {
	Color    []*Plane
	ColorAug []*Plane
	// DepthGT, DepthMask and DepthMaskGT are nil when the source has no
	// ground truth.
	DepthGT     []*Plane
	DepthMask   []*Plane
	DepthMaskGT []*Plane
}

// Sample is one uncollated training example.
type Sample struct {
	Frames map[FrameID]*FrameSample
	// K is the normalized base intrinsic matrix.
	K geometry.Matrix4
	// DepthGT is the full-resolution ground truth, nil without one.
	DepthGT *Plane
	// StereoT is the host-to-stereo transform when the stereo frame is used.
	StereoT *geometry.Matrix4
	// Velo is the host LiDAR scan in camera coordinates.
	Velo []r3.Vector
}

// Validate checks that every requested frame has numScales levels.
func (s *Sample) Validate(frameIDs []FrameID, numScales, height, width int) error {
	for _, f := range frameIDs {
		fs, ok := s.Frames[f]
		if !ok {
			return errors.Errorf("frame %s missing", f)
		}
		if len(fs.Color) != numScales || len(fs.ColorAug) != numScales {
			return errors.Errorf("frame %s: %d color scales, want %d", f, len(fs.Color), numScales)
		}
		for sc := 0; sc < numScales; sc++ {
			h, w := height>>sc, width>>sc
			if c := fs.Color[sc]; c.Height != h || c.Width != w {
				return errors.Errorf("frame %s scale %d: color %dx%d, want %dx%d", f, sc, c.Width, c.Height, w, h)
			}
		}
	}
	return nil
}
