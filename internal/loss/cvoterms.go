package loss

import (
	"fmt"

	"github.com/born-ml/cvodepth/internal/cvo"
	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// denseItem names the dense variant in per-scale inner product keys.
const denseItem = "dense_"

// InpScaleKey returns the key of the per-scale inner product sum that the
// cvo_as_loss objective is built from.
func (o *Orchestrator) InpScaleKey(s int) string {
	item := denseItem
	if !o.opts.CVOLossDense {
		item = o.depthCVO.Options().Item()
	}
	return fmt.Sprintf("loss_inp/%s%d", item, s)
}

// accum sums per-sample CVO results.
type accum struct {
	cvo, cos, inp *tensor.Tensor
}

func (a *accum) add(r cvo.Result, weight float32) {
	add := func(dst **tensor.Tensor, v *tensor.Tensor) {
		v = v.MulScalar(weight)
		if *dst == nil {
			*dst = v
			return
		}
		*dst = (*dst).Add(v)
	}
	add(&a.cvo, r.FDist)
	add(&a.cos, r.Cos)
	add(&a.inp, r.NegInp())
}

func (a *accum) empty() bool { return a.cvo == nil }

// raggedCloud pairs the xyz rows and HSV features of sample b.
func raggedCloud(xyz, rgb geometry.RaggedCloud, b int, backend tensor.Backend) (cvo.Cloud, bool) {
	p, ok := xyz[b]
	if !ok {
		return cvo.Cloud{}, false
	}
	c, ok := rgb[b]
	if !ok {
		return cvo.Cloud{}, false
	}
	return cvo.Cloud{
		XYZ: p.Narrow(1, 0, 3).WithBackend(backend),
		HSV: cvo.HSV(c).WithBackend(backend),
	}, true
}

// sparseCVOTerm compares the predicted host clouds of every frame against
// the ground-truth host cloud.
type sparseCVOTerm struct{}

func (sparseCVOTerm) Name() string { return "cvo_sparse" }

func (sparseCVOTerm) Compute(st *State) error {
	if st.Training && !st.Opts.SupervisedByGTDepth && !st.Opts.CVOAsLoss {
		return nil
	}
	gt := st.gtClouds()
	cs, err := st.hostClouds()
	if err != nil {
		return err
	}
	engine := st.orch.depthCVO
	item := engine.Options().Item()
	weight := 1 / float32(st.Opts.BatchSize)

	for s := 0; s < st.Opts.NumScales; s++ {
		gtKey := dataset.FrameScale{Frame: 0, Scale: s}
		gt0, ok := gt.gt[gtKey]
		if !ok {
			continue
		}
		for _, f := range st.Opts.FrameIDs {
			key := dataset.FrameScale{Frame: f, Scale: s}
			host, ok := cs.host[key]
			if !ok {
				continue
			}
			var a accum
			for _, b := range host.Samples() {
				c0, ok0 := raggedCloud(host, cs.hostRGB[key], b, host[b].Backend())
				c1, ok1 := raggedCloud(gt0, gt.gtRGB[gtKey], b, host[b].Backend())
				if !ok0 || !ok1 {
					continue
				}
				a.add(engine.Sparse(c0, c1), weight)
			}
			if a.empty() {
				continue
			}
			suffix := fmt.Sprintf("%sTrue_s%d_f%s", item, s, f)
			st.recordCVO(suffix, a)
			st.Losses.Add(st.orch.InpScaleKey(s), a.inp)
		}
	}
	return nil
}

func (st *State) recordCVO(suffix string, a accum) {
	st.Losses["loss_cvo/"+suffix] = a.cvo
	st.Losses["loss_cos/"+suffix] = a.cos
	st.Losses["loss_inp/"+suffix] = a.inp
	st.Losses.Add("loss_cvo/sum", a.cvo)
	st.Losses.Add("loss_cos/sum", a.cos)
	st.Losses.Add("loss_inp/sum", a.inp)
}

func (st *State) recordPose(suffix string, a accum) {
	st.Losses["loss_pose/cvo_"+suffix] = a.cvo
	st.Losses["loss_pose/cos_"+suffix] = a.cos
	st.Losses["loss_pose/inp_"+suffix] = a.inp
	st.Losses.Add("loss_pose/cvo_sum", a.cvo)
	st.Losses.Add("loss_pose/cos_sum", a.cos)
}

// sparsePoseTerm moves the host LiDAR cloud into each neighbor frame with the
// predicted pose and compares it with the neighbor's own LiDAR cloud.
type sparsePoseTerm struct{}

func (sparsePoseTerm) Name() string { return "cvo_pose_sparse" }

func (sparsePoseTerm) Compute(st *State) error {
	if st.Training && !st.Opts.SupCVOPoseLidar {
		return nil
	}
	gt := st.gtClouds()
	engine := st.orch.poseCVO
	item := engine.Options().Item()
	weight := 1 / float32((len(st.Opts.FrameIDs)-1)*st.Opts.BatchSize)

	for _, f := range st.Neighbors() {
		for s := 0; s < st.Opts.NumScales; s++ {
			hostKey := dataset.FrameScale{Frame: 0, Scale: s}
			key := dataset.FrameScale{Frame: f, Scale: s}
			gt0, ok0 := gt.gt[hostKey]
			gtF, okF := gt.gt[key]
			if !ok0 || !okF {
				continue
			}
			t, err := st.transform(f, s, nil)
			if err != nil {
				return err
			}
			moved := gt0.Transform(t)

			var a accum
			for _, b := range moved.Samples() {
				c0, ok0 := raggedCloud(moved, gt.gtRGB[hostKey], b, t.Backend())
				c1, ok1 := raggedCloud(gtF, gt.gtRGB[key], b, t.Backend())
				if !ok0 || !ok1 {
					continue
				}
				a.add(engine.Sparse(c0, c1), weight)
			}
			if a.empty() {
				continue
			}
			st.recordPose(fmt.Sprintf("%ss%d_f%s", item, s, f), a)
		}
	}
	return nil
}

// denseCVOTerm compares image-layout clouds of the host and each neighbor
// with windowed inner products. The host cloud comes from ground-truth
// depth, the neighbor cloud from predicted depth.
type denseCVOTerm struct{}

func (denseCVOTerm) Name() string { return "cvo_dense" }

func (denseCVOTerm) Compute(st *State) error {
	if st.Training && !st.Opts.SupervisedByGTDepth && !st.Opts.CVOAsLoss {
		return nil
	}
	for s := 0; s < st.Opts.NumScales; s++ {
		for _, f := range st.Neighbors() {
			a, ok, err := st.densePair(s, [2]dataset.FrameID{0, f}, [2]bool{true, false})
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			st.recordCVO(fmt.Sprintf("True_s%d_f%s", s, f), a)
			st.Losses.Add(st.orch.InpScaleKey(s), a.inp)
		}
	}
	return nil
}

// densePoseTerm compares the ground-truth clouds of the host and each
// neighbor after moving the host cloud with the predicted pose.
type densePoseTerm struct{}

func (densePoseTerm) Name() string { return "cvo_pose_dense" }

func (densePoseTerm) Compute(st *State) error {
	if st.Training && !st.Opts.SupCVOPoseLidar {
		return nil
	}
	for s := 0; s < st.Opts.NumScales; s++ {
		for _, f := range st.Neighbors() {
			a, ok, err := st.densePair(s, [2]dataset.FrameID{0, f}, [2]bool{true, true})
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			st.recordPose(fmt.Sprintf("s%d_f%s", s, f), a)
		}
	}
	return nil
}

// densePair evaluates the dense CVO result of one frame pair at scale s.
// gt selects, per side, ground-truth or predicted depth.
func (st *State) densePair(s int, pair [2]dataset.FrameID, gt [2]bool) (accum, bool, error) {
	pts0, mask0, ok0 := st.denseCloud(pair[0], s, gt[0])
	pts1, mask1, ok1 := st.denseCloud(pair[1], s, gt[1])
	if !ok0 || !ok1 {
		return accum{}, false, nil
	}
	if pair[0] == pair[1] {
		var a accum
		a.add(st.orch.denseCVO.Dense(cvo.DenseCloud{XYZ: pts0}, cvo.DenseCloud{XYZ: pts0}), 1)
		return a, true, nil
	}
	aligned, err := st.alignPair(pair, s, pts0)
	if err != nil {
		return accum{}, false, err
	}

	sr := st.Batch.Scale(s)
	batch, h, w := pts0.Dim(0), sr.Height, sr.Width
	image := func(pts *tensor.Tensor) *tensor.Tensor {
		return pts.Narrow(1, 0, 3).Reshape(batch, 3, h, w)
	}
	b := aligned.Backend()
	c0 := cvo.DenseCloud{
		XYZ:  image(aligned),
		HSV:  cvo.HSV(sr.Frames[pair[0]].Color).WithBackend(b),
		Mask: mask0.WithBackend(b),
	}
	c1 := cvo.DenseCloud{
		XYZ:  image(pts1).WithBackend(b),
		HSV:  cvo.HSV(sr.Frames[pair[1]].Color).WithBackend(b),
		Mask: mask1.WithBackend(b),
	}
	var a accum
	a.add(st.orch.denseCVO.Dense(c0, c1), 1)
	return a, true, nil
}
