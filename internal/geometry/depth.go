package geometry

import "github.com/born-ml/cvodepth/internal/tensor"

// DispToDepth maps sigmoid disparity to depth in [minDepth, maxDepth].
// It returns the rescaled disparity and its reciprocal.
func DispToDepth(disp *tensor.Tensor, minDepth, maxDepth float32) (scaledDisp, depth *tensor.Tensor) {
	minDisp, maxDisp := 1/maxDepth, 1/minDepth
	scaledDisp = disp.MulScalar(maxDisp - minDisp).AddScalar(minDisp)
	return scaledDisp, scaledDisp.Reciprocal()
}

// DepthToDisp inverts DispToDepth for ground-truth depth. Pixels without
// depth (≤ 0) map to disparity 0. The result is a new constant tensor.
func DepthToDisp(depth *tensor.Tensor, minDepth, maxDepth float32) *tensor.Tensor {
	minDisp, maxDisp := 1/maxDepth, 1/minDepth
	out := tensor.Zeros(depth.Shape(), depth.Backend())
	od := out.Data()
	for i, d := range depth.Data() {
		if d > 0 {
			od[i] = (1/d - minDisp) / (maxDisp - minDisp)
		}
	}
	return out
}
