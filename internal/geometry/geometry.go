// Package geometry implements the camera geometry used to warp images and
// depth maps between frames.
//
// BackprojectDepth lifts a depth map to homogeneous camera-space points,
// Project3D maps points through a rigid transform and the pinhole intrinsics
// back to GridSample coordinates, and TransformationFromParameters turns the
// pose network's axis-angle/translation output into 4×4 transforms.
//
// All functions are differentiable through the tensor backend of their
// inputs. Constant inputs (pixel grids, intrinsics) are rebound onto the
// backend of the differentiable operand so gradients are never lost when the
// two were created on different backends.
package geometry

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// projectionEps floors the homogeneous depth before the perspective divide.
const projectionEps = 1e-7

// BackprojectDepth lifts depth maps of a fixed resolution to camera space.
type BackprojectDepth struct {
	height int
	width  int
	pix    *tensor.Tensor // 1×3×(H·W) rows u, v, 1
}

// NewBackprojectDepth precomputes the pixel grid for height×width depth maps.
func NewBackprojectDepth(height, width int, b tensor.Backend) *BackprojectDepth {
	n := height * width
	data := make([]float32, 3*n)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			data[i] = float32(x)
			data[n+i] = float32(y)
			data[2*n+i] = 1
		}
	}
	return &BackprojectDepth{
		height: height,
		width:  width,
		pix:    tensor.MustFromSlice(data, tensor.Shape{1, 3, n}, b),
	}
}

// Height returns the depth map height this kernel accepts.
func (bp *BackprojectDepth) Height() int { return bp.height }

// Width returns the depth map width this kernel accepts.
func (bp *BackprojectDepth) Width() int { return bp.width }

// PixelCoords returns the canonical 1×3×(H·W) pixel grid.
func (bp *BackprojectDepth) PixelCoords() *tensor.Tensor { return bp.pix }

// Dense back-projects every pixel of a B×1×H×W depth map and returns
// B×4×(H·W) homogeneous points depth·(K⁻¹[u v 1]ᵀ) with a trailing 1.
func (bp *BackprojectDepth) Dense(depth *tensor.Tensor, in Intrinsics) *tensor.Tensor {
	bp.check(depth, in)
	return bp.WithCoords(depth, in, bp.pix)
}

// Image is Dense reshaped to B×4×H×W.
func (bp *BackprojectDepth) Image(depth *tensor.Tensor, in Intrinsics) *tensor.Tensor {
	return bp.Dense(depth, in).Reshape(depth.Dim(0), 4, bp.height, bp.width)
}

// WithCoords back-projects depth using caller-supplied pixel coordinates
// pix (B×3×(H·W) or 1×3×(H·W), rows u, v, 1) instead of the canonical grid.
func (bp *BackprojectDepth) WithCoords(depth *tensor.Tensor, in Intrinsics, pix *tensor.Tensor) *tensor.Tensor {
	in.Check(bp.height, bp.width)
	batch, n := depth.Dim(0), bp.height*bp.width
	if pix.Dim(1) != 3 || pix.Dim(2) != n {
		panic(fmt.Sprintf("geometry: pixel coordinates %v do not match %dx%d", pix.Shape(), bp.width, bp.height))
	}

	b := depth.Backend()
	invK := in.InvK.WithBackend(b).Narrow(1, 0, 3).Narrow(2, 0, 3)
	rays := invK.MatMul(pix.WithBackend(b))
	cam := depth.Reshape(batch, 1, n).Mul(rays)
	ones := tensor.Ones(tensor.Shape{batch, 1, n}, b)
	return tensor.Cat([]*tensor.Tensor{cam, ones}, 1)
}

// Ragged back-projects only pixels with positive depth. Each sample's points
// come back as a 1×4×N tensor keyed by batch index together with the
// validity mask that selected them. Samples without a valid pixel are absent
// from the cloud.
func (bp *BackprojectDepth) Ragged(depth *tensor.Tensor, in Intrinsics) (RaggedCloud, []Mask) {
	masks := PositiveMasks(depth)
	return SelectMasked(bp.Dense(depth, in), masks), masks
}

func (bp *BackprojectDepth) check(depth *tensor.Tensor, in Intrinsics) {
	s := depth.Shape()
	if len(s) != 4 || s[1] != 1 || s[2] != bp.height || s[3] != bp.width {
		panic(fmt.Sprintf("geometry: depth %v does not match Bx1x%dx%d", s, bp.height, bp.width))
	}
	in.Check(bp.height, bp.width)
}

// Project3D projects camera-space points into GridSample coordinates.
type Project3D struct {
	height int
	width  int
}

// NewProject3D creates a projector for a height×width target image.
func NewProject3D(height, width int) *Project3D {
	return &Project3D{height: height, width: width}
}

// Pixels applies T and the intrinsics to B×4×N points and returns the
// B×2×N pixel coordinates after the perspective divide. The computation runs
// on the backend of points.
func (p *Project3D) Pixels(points, k, t *tensor.Tensor) *tensor.Tensor {
	b := points.Backend()
	proj := k.WithBackend(b).MatMul(t.WithBackend(b)).Narrow(1, 0, 3)
	cam := proj.MatMul(points)
	return cam.Narrow(1, 0, 2).Div(cam.Narrow(1, 2, 1).AddScalar(projectionEps))
}

// Forward projects B×4×(H·W) points through T and K and returns a
// B×H×W×2 sampling grid normalized to [-1, 1].
func (p *Project3D) Forward(points *tensor.Tensor, in Intrinsics, t *tensor.Tensor) *tensor.Tensor {
	in.Check(p.height, p.width)
	batch := points.Dim(0)
	if points.Dim(2) != p.height*p.width {
		panic(fmt.Sprintf("geometry: %d points cannot form a %dx%d grid", points.Dim(2), p.width, p.height))
	}

	pix := p.Pixels(points, in.K, t).Reshape(batch, 2, p.height, p.width).Transpose(0, 2, 3, 1)
	norm := tensor.MustFromSlice([]float32{
		2 / float32(p.width-1),
		2 / float32(p.height-1),
	}, tensor.Shape{2}, pix.Backend())
	return pix.Mul(norm).AddScalar(-1)
}
