package loss

import (
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/born-ml/cvodepth/internal/cvo"
	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// Pose model variants that change how transforms are derived.
const (
	PoseSeparate = "separate"
	PoseShared   = "shared"
	PosePoseCNN  = "posecnn"
)

// Default sampling caps of the sparse CVO terms.
const (
	DefaultSampPt     = 3500
	DefaultPoseSampPt = 5000
)

// Options configures the Orchestrator.
type Options struct {
	Height    int
	Width     int
	NumScales int
	FrameIDs  []dataset.FrameID
	MinDepth  float32
	MaxDepth  float32
	// BatchSize is the configured batch size used to normalize per-sample
	// sums, independent of the runtime batch.
	BatchSize int

	DisparitySmoothness float32
	NoSSIM              bool
	AvgReprojection     bool
	DisableAutomasking  bool
	PredictiveMask      bool
	V1Multiscale        bool
	PoseModelType       string

	CVOLoss             bool
	CVOLossDense        bool
	SupervisedByGTDepth bool
	SupCVOPoseLidar     bool
	CVOAsLoss           bool
	GeoScale            float32
	NormalizeInprod     bool
	SampPt              int
	PoseSampPt          int
}

// Validate reports option combinations the orchestrator cannot honor.
func (o Options) Validate() error {
	switch {
	case o.NumScales <= 0:
		return errors.New("loss: at least one scale is required")
	case len(o.FrameIDs) == 0 || o.FrameIDs[0] != 0:
		return errors.Errorf("loss: frame ids %v must start with 0", o.FrameIDs)
	case o.PredictiveMask && !o.DisableAutomasking:
		return errors.New("loss: the predictive mask requires automasking to be disabled")
	case o.MinDepth <= 0 || o.MaxDepth <= o.MinDepth:
		return errors.Errorf("loss: invalid depth range [%v, %v]", o.MinDepth, o.MaxDepth)
	case o.BatchSize <= 0:
		return errors.New("loss: batch size must be positive")
	}
	return nil
}

// Terms returns the terms selected by the options, in evaluation order.
func (o Options) Terms() []Term {
	terms := []Term{photometricTerm{}, smoothnessTerm{}, dispSupervisionTerm{}}
	switch {
	case o.CVOLossDense:
		terms = append(terms, denseCVOTerm{}, densePoseTerm{})
	case o.CVOLoss:
		terms = append(terms, sparseCVOTerm{}, sparsePoseTerm{})
	}
	return terms
}

// Orchestrator computes the training objective and its diagnostics.
type Orchestrator struct {
	opts   Options
	terms  []Term
	rng    *rand.Rand
	logger *zap.Logger

	backproject []*geometry.BackprojectDepth
	project     []*geometry.Project3D
	depthCVO    *cvo.Engine
	poseCVO     *cvo.Engine
	denseCVO    *cvo.Engine
}

// NewOrchestrator validates opts and precomputes the per-scale pixel grids
// on backend. rng drives tie-breaking noise and CVO subsampling.
func NewOrchestrator(opts Options, backend tensor.Backend, rng *rand.Rand, logger *zap.Logger) (*Orchestrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.SampPt == 0 {
		opts.SampPt = DefaultSampPt
	}
	if opts.PoseSampPt == 0 {
		opts.PoseSampPt = DefaultPoseSampPt
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		opts:   opts,
		terms:  opts.Terms(),
		rng:    rng,
		logger: logger,
	}
	for s := 0; s < opts.NumScales; s++ {
		h, w := opts.Height>>s, opts.Width>>s
		o.backproject = append(o.backproject, geometry.NewBackprojectDepth(h, w, backend))
		o.project = append(o.project, geometry.NewProject3D(h, w))
	}

	cvoOpts := cvo.Options{
		GeoScale:            opts.GeoScale,
		UseHSV:              true,
		NormalizeOverPoints: opts.NormalizeInprod,
	}
	depthOpts, poseOpts := cvoOpts, cvoOpts
	depthOpts.Cap = opts.SampPt
	poseOpts.Cap = opts.PoseSampPt
	o.depthCVO = cvo.New(depthOpts, rng)
	o.poseCVO = cvo.New(poseOpts, rng)
	o.denseCVO = cvo.New(cvoOpts, rng)

	names := make([]string, len(o.terms))
	for i, t := range o.terms {
		names[i] = t.Name()
	}
	logger.Debug("loss terms selected", zap.Strings("terms", names))
	return o, nil
}

// Options returns the options with defaults applied.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Compute runs every selected term over the batch. training selects the
// training-time subset of diagnostics; validation computes all of them.
func (o *Orchestrator) Compute(batch *dataset.Batch, out *Outputs, training bool) (*Result, error) {
	if len(batch.Scales) < o.opts.NumScales {
		return nil, errors.Errorf("loss: batch has %d scales, need %d", len(batch.Scales), o.opts.NumScales)
	}
	for s := 0; s < o.opts.NumScales; s++ {
		if out.Disp[s] == nil {
			return nil, errors.Errorf("loss: missing disparity at scale %d", s)
		}
	}

	st := newState(o, batch, out, training)
	if err := st.warp(); err != nil {
		return nil, err
	}
	for _, t := range o.terms {
		if err := t.Compute(st); err != nil {
			return nil, errors.Wrapf(err, "loss term %s", t.Name())
		}
	}

	var total *tensor.Tensor
	for s := 0; s < o.opts.NumScales; s++ {
		l, ok := st.scaleLoss[s]
		if !ok {
			continue
		}
		st.Losses[scaleKey("loss", s)] = l
		if total == nil {
			total = l
		} else {
			total = total.Add(l)
		}
	}
	if total == nil {
		return nil, errors.New("loss: no term contributed to the objective")
	}
	st.Losses["loss"] = total.MulScalar(1 / float32(o.opts.NumScales))

	if err := st.Losses.checkFinite(); err != nil {
		return nil, err
	}
	return &Result{
		Losses:            st.Losses,
		Depth:             st.depth,
		Warped:            st.warped,
		IdentitySelection: st.identitySelection,
	}, nil
}
