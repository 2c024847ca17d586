package dataset

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/nfnt/resize"

	"github.com/born-ml/cvodepth/internal/geometry"
)

// PNG depth encodings.
const (
	KITTIDepthScale = 256
	TUMDepthScale   = 5000
)

// ProjectLiDAR renders camera-frame points into a height×width depth map
// using the normalized intrinsics base. Points behind the camera or outside
// the image are dropped; when several points hit a pixel the nearest wins.
func ProjectLiDAR(points []r3.Vector, base geometry.Matrix4, height, width int) *Plane {
	fx, cx := base[0][0]*float64(width), base[0][2]*float64(width)
	fy, cy := base[1][1]*float64(height), base[1][2]*float64(height)
	depth := NewPlane(1, height, width)
	for _, p := range points {
		if p.Z <= 0 {
			continue
		}
		u := int(math.Round(fx*p.X/p.Z+cx)) - 1
		v := int(math.Round(fy*p.Y/p.Z+cy)) - 1
		if u < 0 || v < 0 || u >= width || v >= height {
			continue
		}
		z := float32(p.Z)
		if cur := depth.At(0, v, u); cur == 0 || z < cur {
			depth.Set(0, v, u, z)
		}
	}
	return depth
}

// FlipLiDAR mirrors points so they project onto the horizontally flipped
// image: x' = z·(1-2·cx)/fx - x with the normalized fx and cx of base.
func FlipLiDAR(points []r3.Vector, base geometry.Matrix4) []r3.Vector {
	fx, cx := base[0][0], base[0][2]
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = r3.Vector{X: (1-2*cx)*p.Z/fx - p.X, Y: p.Y, Z: p.Z}
	}
	return out
}

// DepthFromPNG decodes a 16-bit depth image divided by scale and resized to
// height×width with nearest-neighbor sampling.
func DepthFromPNG(img image.Image, scale float32, height, width int) *Plane {
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.NearestNeighbor)
		b = img.Bounds()
	}
	depth := NewPlane(1, height, width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y
			depth.Set(0, y, x, float32(v)/scale)
		}
	}
	return depth
}

// ResizeNearest resamples a single-channel plane with nearest-neighbor
// lookups, the same sampling DepthFromPNG applies to encoded depth.
func ResizeNearest(p *Plane, height, width int) *Plane {
	if p.Height == height && p.Width == width {
		out := NewPlane(1, height, width)
		copy(out.Pix, p.Pix[:height*width])
		return out
	}
	img := image.NewGray16(image.Rect(0, 0, p.Width, p.Height))
	// Depth is stored with the KITTI encoding to survive the 16-bit round trip.
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			v := math.Round(float64(p.At(0, y, x)) * KITTIDepthScale)
			img.SetGray16(x, y, color.Gray16{Y: uint16(min(v, math.MaxUint16))})
		}
	}
	return DepthFromPNG(img, KITTIDepthScale, height, width)
}

// DepthMasks derives the two masks of a ground-truth depth map at scale s.
// mask flags measured pixels plus the lower image half, closed with a
// square structuring element of side 2·(4>>s)+1 so gaps between scan lines
// are filled. maskGT flags measured pixels only.
func DepthMasks(depth *Plane, s int) (mask, maskGT *Plane) {
	h, w := depth.Height, depth.Width
	raw := make([]bool, h*w)
	maskGT = NewPlane(1, h, w)
	for i, v := range depth.Pix[:h*w] {
		if v > 0 {
			raw[i] = true
			maskGT.Pix[i] = 1
		}
	}
	for i := (h / 2) * w; i < h*w; i++ {
		raw[i] = true
	}

	radius := 4 >> s
	closed := erode(dilate(raw, h, w, radius), h, w, radius)
	mask = NewPlane(1, h, w)
	for i, ok := range closed {
		if ok {
			mask.Pix[i] = 1
		}
	}
	return mask, maskGT
}

// dilate sets every pixel within radius (Chebyshev) of a set pixel. Pixels
// outside the image count as unset.
func dilate(in []bool, h, w, radius int) []bool {
	return morph(in, h, w, radius, true)
}

// erode keeps pixels whose whole neighborhood is set. Pixels outside the
// image count as set.
func erode(in []bool, h, w, radius int) []bool {
	return morph(in, h, w, radius, false)
}

func morph(in []bool, h, w, radius int, dilating bool) []bool {
	// Separable: rows, then columns.
	tmp := make([]bool, len(in))
	out := make([]bool, len(in))
	pass := func(src, dst []bool, n, stride, lines, lineStride int) {
		for l := 0; l < lines; l++ {
			for i := 0; i < n; i++ {
				v := !dilating
				for d := -radius; d <= radius; d++ {
					j := i + d
					if j < 0 || j >= n {
						continue
					}
					if src[l*lineStride+j*stride] == dilating {
						v = dilating
						break
					}
				}
				dst[l*lineStride+i*stride] = v
			}
		}
	}
	pass(in, tmp, w, 1, h, w)
	pass(tmp, out, h, w, w, 1)
	return out
}
