package dataset

import (
	"context"
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"

	"github.com/born-ml/cvodepth/internal/geometry"
)

// SyntheticOptions configures a SyntheticSource.
type SyntheticOptions struct {
	Layout Layout
	Length int
	// Speed is the forward motion per frame in meters.
	Speed float64
	// CameraHeight is the distance from the camera to the ground plane.
	CameraHeight float64
	// LidarRowStride keeps every n-th image row as a LiDAR scan line.
	LidarRowStride int
	Augment        bool
}

// SyntheticSource renders a textured ground plane and a back wall seen by
// a camera driving forward. Ground truth depth comes from a simulated
// LiDAR, so it is sparse like the real thing.
type SyntheticSource struct {
	opts  SyntheticOptions
	base  geometry.Matrix4
	wallZ float64
}

// NewSyntheticSource fills defaults into opts.
func NewSyntheticSource(opts SyntheticOptions) *SyntheticSource {
	if opts.Length <= 0 {
		opts.Length = 64
	}
	if opts.Speed == 0 {
		opts.Speed = 0.5
	}
	if opts.CameraHeight == 0 {
		opts.CameraHeight = 1.5
	}
	if opts.LidarRowStride <= 0 {
		opts.LidarRowStride = 2
	}
	return &SyntheticSource{
		opts:  opts,
		base:  geometry.KITTIIntrinsics,
		wallZ: 20 + opts.Speed*float64(opts.Length+2),
	}
}

// Len returns the configured number of samples.
func (s *SyntheticSource) Len() int { return s.opts.Length }

// CameraZ returns the forward position of frame f of sample index.
func (s *SyntheticSource) CameraZ(index int, f FrameID) float64 {
	if f == Stereo {
		f = 0
	}
	return s.opts.Speed * float64(index+int(f))
}

// Sample renders every frame of sample index.
func (s *SyntheticSource) Sample(ctx context.Context, index int, rng *rand.Rand) (*Sample, error) {
	layout := s.opts.Layout
	var jitter *ColorJitter
	if s.opts.Augment && rng.Float64() > 0.5 {
		j := NewColorJitter(rng)
		jitter = &j
	}

	out := &Sample{Frames: make(map[FrameID]*FrameSample), K: s.base}
	for _, f := range layout.FrameIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		camX := 0.0
		if f == Stereo {
			camX = stereoBaseline
		}
		img, depth := s.render(r3.Vector{X: camX, Z: s.CameraZ(index, f)}, layout.Height, layout.Width)
		scan := s.lidar(depth)

		fs := &FrameSample{}
		fs.Color, fs.ColorAug = Pyramid(img, layout.NumScales, layout.Height, layout.Width, jitter)
		if fs.ColorAug == nil {
			fs.ColorAug = fs.Color
		}
		for sc := 0; sc < layout.NumScales; sc++ {
			d := ProjectLiDAR(scan, s.base, layout.Height>>sc, layout.Width>>sc)
			mask, maskGT := DepthMasks(d, sc)
			fs.DepthGT = append(fs.DepthGT, d)
			fs.DepthMask = append(fs.DepthMask, mask)
			fs.DepthMaskGT = append(fs.DepthMaskGT, maskGT)
		}
		if f == 0 {
			out.DepthGT = ProjectLiDAR(scan, s.base, layout.Height, layout.Width)
			out.Velo = scan
		}
		out.Frames[f] = fs
	}
	if _, ok := out.Frames[Stereo]; ok {
		out.StereoT = stereoTransform("l", false)
	}
	return out, nil
}

// render ray-casts the scene from a camera at pos looking down +z and
// returns the image with its dense depth.
func (s *SyntheticSource) render(pos r3.Vector, height, width int) (*image.NRGBA, *Plane) {
	fx, cx := s.base[0][0]*float64(width), s.base[0][2]*float64(width)
	fy, cy := s.base[1][1]*float64(height), s.base[1][2]*float64(height)
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	depth := NewPlane(1, height, width)
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			ray := r3.Vector{X: (float64(u) + 1 - cx) / fx, Y: (float64(v) + 1 - cy) / fy, Z: 1}
			z := s.wallZ - pos.Z
			if ray.Y > 0 {
				z = math.Min(z, s.opts.CameraHeight/ray.Y)
			}
			world := pos.Add(ray.Mul(z))
			img.SetNRGBA(u, v, s.texture(world))
			depth.Set(0, v, u, float32(z))
		}
	}
	return img, depth
}

// texture colors a world point with smooth stripes and a coarse checker so
// every region has photometric gradients.
func (s *SyntheticSource) texture(p r3.Vector) color.NRGBA {
	a, b := p.X, p.Z
	if math.Abs(p.Z-s.wallZ) < 1e-6 {
		b = p.Y
	}
	checker := 0.0
	if (int(math.Floor(a))+int(math.Floor(b)))%2 == 0 {
		checker = 0.25
	}
	ch := func(v float64) uint8 { return uint8(255 * math.Max(0, math.Min(1, v))) }
	return color.NRGBA{
		R: ch(0.4 + 0.3*math.Sin(3*a) + checker),
		G: ch(0.4 + 0.3*math.Cos(2*b)),
		B: ch(0.5 + 0.3*math.Sin(a+b) - checker),
		A: 255,
	}
}

// lidar turns every LidarRowStride-th row of the dense depth into camera
// frame points.
func (s *SyntheticSource) lidar(depth *Plane) []r3.Vector {
	h, w := depth.Height, depth.Width
	fx, cx := s.base[0][0]*float64(w), s.base[0][2]*float64(w)
	fy, cy := s.base[1][1]*float64(h), s.base[1][2]*float64(h)
	var pts []r3.Vector
	for v := 0; v < h; v += s.opts.LidarRowStride {
		for u := 0; u < w; u++ {
			z := float64(depth.At(0, v, u))
			pts = append(pts, r3.Vector{
				X: (float64(u) + 1 - cx) / fx * z,
				Y: (float64(v) + 1 - cy) / fy * z,
				Z: z,
			})
		}
	}
	return pts
}

// GroundTruthPose returns the transform mapping host points into frame f.
func (s *SyntheticSource) GroundTruthPose(index int, f FrameID) geometry.Matrix4 {
	t := geometry.Matrix4{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	if f == Stereo {
		t[0][3] = -stereoBaseline
		return t
	}
	t[2][3] = s.CameraZ(index, 0) - s.CameraZ(index, f)
	return t
}
