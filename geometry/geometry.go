// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package geometry exposes the differentiable camera geometry used to warp
// frames during depth and pose training.
//
// Example:
//
//	backend := cpu.New()
//	in, _ := geometry.NewIntrinsics(geometry.KITTIIntrinsics, 192, 640, 1, backend)
//	points := geometry.NewBackprojectDepth(192, 640, backend).Dense(depth, in)
//	T := geometry.TransformationFromParameters(axisangle, translation, false)
//	grid := geometry.NewProject3D(192, 640).Forward(points, in, T)
//	warped := image.GridSample(grid)
package geometry

import (
	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/tensor"
)

// Matrix4 is a row-major 4×4 matrix.
type Matrix4 = geometry.Matrix4

// Intrinsics holds batched camera matrices scaled for one resolution.
type Intrinsics = geometry.Intrinsics

// BackprojectDepth lifts depth maps to homogeneous camera-space points.
type BackprojectDepth = geometry.BackprojectDepth

// Project3D maps camera-space points to GridSample coordinates.
type Project3D = geometry.Project3D

// Normalized base intrinsics.
var (
	KITTIIntrinsics = geometry.KITTIIntrinsics
	TUMIntrinsics   = geometry.TUMIntrinsics
)

// NewIntrinsics scales base to height×width and replicates it batch times.
func NewIntrinsics(base Matrix4, height, width, batch int, b tensor.Backend) (Intrinsics, error) {
	return geometry.NewIntrinsics(base, height, width, batch, b)
}

// NewBackprojectDepth creates a back-projector for height×width depth maps.
func NewBackprojectDepth(height, width int, b tensor.Backend) *BackprojectDepth {
	return geometry.NewBackprojectDepth(height, width, b)
}

// NewProject3D creates a projector for a height×width target image.
func NewProject3D(height, width int) *Project3D {
	return geometry.NewProject3D(height, width)
}

// TransformationFromParameters converts axis-angle rotations and
// translations into B×4×4 rigid transforms.
func TransformationFromParameters(axisangle, translation *tensor.Tensor, invert bool) *tensor.Tensor {
	return geometry.TransformationFromParameters(axisangle, translation, invert)
}

// InverseRigid inverts B×4×4 rigid transforms.
func InverseRigid(t *tensor.Tensor) *tensor.Tensor {
	return geometry.InverseRigid(t)
}

// DispToDepth maps sigmoid disparity to depth in [minDepth, maxDepth].
func DispToDepth(disp *tensor.Tensor, minDepth, maxDepth float32) (scaledDisp, depth *tensor.Tensor) {
	return geometry.DispToDepth(disp, minDepth, maxDepth)
}
