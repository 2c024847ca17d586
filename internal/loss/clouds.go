package loss

import (
	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// cloudSet holds the ragged point clouds the sparse CVO terms compare. Host
// clouds are expressed in the host camera frame: for the host itself they
// come from the predicted depth, for a neighbor from its predicted depth
// sampled at the pixels the host points project to.
type cloudSet struct {
	gt      map[dataset.FrameScale]geometry.RaggedCloud
	gtRGB   map[dataset.FrameScale]geometry.RaggedCloud
	host    map[dataset.FrameScale]geometry.RaggedCloud
	hostRGB map[dataset.FrameScale]geometry.RaggedCloud

	gtReady   bool
	hostReady bool
}

func (st *State) cloudSet() *cloudSet {
	if st.clouds == nil {
		st.clouds = &cloudSet{
			gt:      make(map[dataset.FrameScale]geometry.RaggedCloud),
			gtRGB:   make(map[dataset.FrameScale]geometry.RaggedCloud),
			host:    make(map[dataset.FrameScale]geometry.RaggedCloud),
			hostRGB: make(map[dataset.FrameScale]geometry.RaggedCloud),
		}
	}
	return st.clouds
}

// gtClouds back-projects the valid ground-truth depth of every frame and
// scale.
func (st *State) gtClouds() *cloudSet {
	cs := st.cloudSet()
	if cs.gtReady {
		return cs
	}
	for s := 0; s < st.Opts.NumScales; s++ {
		sr := st.Batch.Scale(s)
		for _, f := range st.Opts.FrameIDs {
			fr := sr.Frames[f]
			if fr == nil || fr.DepthGT == nil {
				continue
			}
			key := dataset.FrameScale{Frame: f, Scale: s}
			cloud, masks := st.orch.backproject[s].Ragged(fr.DepthGT, sr.Intrinsics)
			cs.gt[key] = cloud
			cs.gtRGB[key] = geometry.SelectMasked(fr.Color, masks)
		}
	}
	cs.gtReady = true
	return cs
}

// hostClouds back-projects predicted depth at each scale's own resolution
// and keeps the pixels flagged by the host depth mask.
func (st *State) hostClouds() (*cloudSet, error) {
	cs := st.cloudSet()
	if cs.hostReady {
		return cs, nil
	}
	for s := 0; s < st.Opts.NumScales; s++ {
		sr := st.Batch.Scale(s)
		host := sr.Frames[0]
		if host == nil || host.DepthMask == nil {
			continue
		}
		bp, in := st.orch.backproject[s], sr.Intrinsics
		masks := geometry.PositiveMasks(host.DepthMask)

		_, depth0 := geometry.DispToDepth(st.Out.Disp[s], st.Opts.MinDepth, st.Opts.MaxDepth)
		cam := bp.Dense(depth0, in)
		key := dataset.FrameScale{Frame: 0, Scale: s}
		cs.host[key] = geometry.SelectMasked(cam, masks)
		cs.hostRGB[key] = geometry.SelectMasked(host.Color, masks)

		for _, f := range st.Neighbors() {
			disp, fr := st.disparity(f, s), sr.Frames[f]
			if disp == nil || fr == nil {
				continue
			}
			t, err := st.transform(f, s, nil)
			if err != nil {
				return nil, err
			}
			_, depthF := geometry.DispToDepth(disp, st.Opts.MinDepth, st.Opts.MaxDepth)
			grid := st.orch.project[s].Forward(cam, in, t)
			gb := grid.Backend()

			depthW := depthF.GridSample(grid)
			colorW := fr.Color.WithBackend(gb).GridSample(grid)
			uvW := st.pixelImage(s, depth0.Dim(0)).WithBackend(gb).GridSample(grid)

			batch, n := depthW.Dim(0), bp.Height()*bp.Width()
			uvW3 := tensor.Cat([]*tensor.Tensor{
				uvW.Reshape(batch, 2, n),
				tensor.Ones(tensor.Shape{batch, 1, n}, gb),
			}, 1)
			pts := bp.WithCoords(depthW, in, uvW3)
			ptsHost := geometry.InverseRigid(t).MatMul(pts)

			key := dataset.FrameScale{Frame: f, Scale: s}
			cs.host[key] = geometry.SelectMasked(ptsHost, masks)
			cs.hostRGB[key] = geometry.SelectMasked(colorW, masks)
		}
	}
	cs.hostReady = true
	return cs, nil
}

// pixelImage returns the B×2×h×w image of pixel coordinates (u, v) at
// scale s.
func (st *State) pixelImage(s, batch int) *tensor.Tensor {
	bp := st.orch.backproject[s]
	uv := bp.PixelCoords().Narrow(1, 0, 2).Reshape(1, 2, bp.Height(), bp.Width())
	copies := make([]*tensor.Tensor, batch)
	for i := range copies {
		copies[i] = uv
	}
	return tensor.Cat(copies, 0)
}

// denseCloud returns the B×4×(h·w) homogeneous points of frame f at scale s
// together with its validity mask, from ground-truth depth when gt is set
// and from predicted depth otherwise. ok is false when the inputs are
// missing.
func (st *State) denseCloud(f dataset.FrameID, s int, gt bool) (pts, mask *tensor.Tensor, ok bool) {
	sr := st.Batch.Scale(s)
	fr := sr.Frames[f]
	if fr == nil {
		return nil, nil, false
	}
	var depth *tensor.Tensor
	if gt {
		depth, mask = fr.DepthGT, fr.DepthMaskGT
	} else {
		mask = fr.DepthMask
		if disp := st.disparity(f, s); disp != nil {
			_, depth = geometry.DispToDepth(disp, st.Opts.MinDepth, st.Opts.MaxDepth)
		}
	}
	if depth == nil || mask == nil {
		return nil, nil, false
	}
	return st.orch.backproject[s].Dense(depth, sr.Intrinsics), mask, true
}

// alignPair expresses the points of the first frame of pair in the camera
// of the second. Only pairs anchored at the host are defined.
func (st *State) alignPair(pair [2]dataset.FrameID, s int, pts *tensor.Tensor) (*tensor.Tensor, error) {
	i, j := pair[0], pair[1]
	switch {
	case i == j:
		return pts, nil
	case i == 0:
		t, err := st.transform(j, s, nil)
		if err != nil {
			return nil, err
		}
		return t.MatMul(pts.WithBackend(t.Backend())), nil
	default:
		return nil, errors.Errorf("id_pair [%s, %s] not recognized", i, j)
	}
}
