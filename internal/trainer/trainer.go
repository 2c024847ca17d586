// Package trainer runs self-supervised depth and pose training.
//
// One Trainer owns the networks, the Adam optimizer with its StepLR
// schedule, the loss orchestrator and the data loaders. Run drives the
// epoch loop:
//
//	for each epoch:
//	    for each batch: forward, loss, backward, accumulate gradients
//	        every iters_per_update steps: optimizer step, zero grad
//	        at the log cadence: timing line, scalars, images, one val batch
//	    step the LR schedule
//	    every save_frequency epochs: checkpoint
package trainer

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/born-ml/cvodepth/internal/autodiff"
	"github.com/born-ml/cvodepth/internal/backend/cpu"
	"github.com/born-ml/cvodepth/internal/config"
	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/loss"
	"github.com/born-ml/cvodepth/internal/nn"
	"github.com/born-ml/cvodepth/internal/optim"
	"github.com/born-ml/cvodepth/internal/telemetry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// Extra objective weights.
const (
	dispLossWeight    = 0.1
	inpLossWeight     = 1e-6
	poseCosLossWeight = 0.1
	lrGamma           = 0.1
)

// Log cadence: every log_frequency batches of an epoch while the global
// step is below lateLogStep, and every lateLogStep steps.
const lateLogStep = 2000

func shouldLog(batchIdx, step, logFrequency int) bool {
	early := batchIdx%logFrequency == 0 && step < lateLogStep
	late := step%lateLogStep == 0
	return early || late
}

// Options injects dependencies into New. Zero values select the defaults
// derived from the configuration.
type Options struct {
	Train  dataset.Source
	Val    dataset.Source
	Logger *zap.Logger
	// EncoderChannels overrides the ResNet-18 encoder widths.
	EncoderChannels []int
	Now             func() time.Time
}

// Trainer runs training for one configuration.
type Trainer struct {
	cfg     config.Config
	record  config.RunRecord
	logger  *zap.Logger
	backend *autodiff.AutodiffBackend

	models *Models
	params []*nn.Parameter
	adam   *optim.Adam
	sched  *optim.StepLR
	orch   *loss.Orchestrator

	train    *dataset.Loader
	val      *dataset.Loader
	valCycle *dataset.Cycle

	sink   telemetry.Sink
	images *telemetry.ImageWriter
	now    func() time.Time

	epoch     int
	step      int
	numSteps  int
	startTime time.Time
}

// New validates cfg and builds a trainer. Weights named by models_to_load
// are restored from load_weights_folder when set.
func New(cfg config.Config, opts Options) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	train, val := opts.Train, opts.Val
	if train == nil {
		var err error
		if train, val, err = OpenSources(cfg); err != nil {
			return nil, err
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	backend := autodiff.New(cpu.New())
	t := &Trainer{
		cfg:     cfg,
		record:  config.NewRunRecord(cfg, now()),
		logger:  logger,
		backend: backend,
		now:     now,
	}
	t.models = NewModels(cfg, opts.EncoderChannels, rng, backend)
	t.params = t.models.Parameters()
	t.adam = optim.NewAdam(t.params, optim.AdamConfig{LR: cfg.LearningRate})

	if cfg.LoadWeightsFolder != "" {
		if err := t.LoadWeights(cfg.LoadWeightsFolder); err != nil {
			return nil, err
		}
	}
	t.sched = optim.NewStepLR(t.adam, cfg.SchedulerStepSize, lrGamma)

	orch, err := loss.NewOrchestrator(cfg.LossOptions(), backend, rng, logger.Named("loss"))
	if err != nil {
		return nil, err
	}
	t.orch = orch

	layout := cfg.Layout()
	t.train, err = dataset.NewLoader(train, layout, dataset.LoaderOptions{
		BatchSize:  cfg.BatchSize,
		Shuffle:    true,
		DropLast:   true,
		NumWorkers: cfg.NumWorkers,
		Prefetch:   2,
		Seed:       cfg.Seed,
	}, backend, logger.Named("train_loader"))
	if err != nil {
		return nil, errors.Wrap(err, "train loader")
	}
	if val != nil {
		t.val, err = dataset.NewLoader(val, layout, dataset.LoaderOptions{
			BatchSize:  cfg.BatchSize,
			Shuffle:    true,
			DropLast:   true,
			NumWorkers: cfg.NumWorkers,
			Prefetch:   1,
			Seed:       cfg.Seed + 1,
		}, backend, logger.Named("val_loader"))
		if err != nil {
			return nil, errors.Wrap(err, "val loader")
		}
	}
	t.numSteps = t.train.Len() * cfg.NumEpochs

	if err := t.openTelemetry(); err != nil {
		return nil, err
	}

	logger.Info("trainer ready",
		zap.String("model_name", cfg.ModelName),
		zap.String("run_id", t.record.RunID.String()),
		zap.String("models_dir", t.record.ModelsDir()),
		zap.Int("parameters", countParameters(t.params)),
		zap.Int("train_batches", t.train.Len()))
	return t, nil
}

func (t *Trainer) openTelemetry() error {
	sinks := telemetry.Multi{telemetry.LogSink{Logger: t.logger.Named("scalars")}}
	if name := t.cfg.Telemetry.SQLite; name != "" {
		path := filepath.Join(t.record.LogPath(), name)
		if err := ensureDir(filepath.Dir(path)); err != nil {
			return err
		}
		db, err := telemetry.NewSQLiteSink(path, t.record.RunID.String())
		if err != nil {
			return err
		}
		sinks = append(sinks, db)
	}
	t.sink = sinks
	if dir := t.cfg.Telemetry.ImageDir; dir != "" {
		w, err := telemetry.NewImageWriter(filepath.Join(t.record.LogPath(), dir), t.cfg.Height, t.cfg.Width)
		if err != nil {
			return err
		}
		t.images = w
	}
	return nil
}

// Record returns the run record.
func (t *Trainer) Record() config.RunRecord { return t.record }

// Models returns the networks being trained.
func (t *Trainer) Models() *Models { return t.models }

// Step returns the number of training steps taken.
func (t *Trainer) Step() int { return t.step }

// LR returns the current learning rate.
func (t *Trainer) LR() float32 { return t.adam.GetLR() }

// Close releases telemetry sinks and background loaders.
func (t *Trainer) Close() error {
	if t.valCycle != nil {
		t.valCycle.Close()
	}
	return t.sink.Close()
}

// Run trains for num_epochs epochs or until ctx is done.
func (t *Trainer) Run(ctx context.Context) error {
	path, err := t.record.Save()
	if err != nil {
		return err
	}
	t.logger.Info("training", zap.String("options", path), zap.Int("steps", t.numSteps))

	t.startTime = t.now()
	if t.val != nil {
		t.valCycle = t.val.Cycle(ctx)
	}
	t.backend.Tape().StartRecording()
	defer t.backend.Tape().StopRecording()

	for t.epoch = 0; t.epoch < t.cfg.NumEpochs; t.epoch++ {
		if err := t.runEpoch(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		t.sched.Step()
		if (t.epoch+1)%t.cfg.SaveFrequency == 0 {
			if _, err := t.SaveModel(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Trainer) runEpoch(ctx context.Context) error {
	t.logger.Info("epoch", zap.Int("epoch", t.epoch), zap.Float32("lr", t.adam.GetLR()))
	epoch := t.train.Epoch(ctx)
	defer epoch.Close()

	for batchIdx := 0; ; batchIdx++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := epoch.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return errors.Wrapf(err, "epoch %d batch %d", t.epoch, batchIdx)
		}

		before := t.now()
		out, res, err := t.TrainStep(batch)
		if err != nil {
			return errors.Wrapf(err, "epoch %d batch %d", t.epoch, batchIdx)
		}
		duration := t.now().Sub(before)

		if shouldLog(batchIdx, t.step, t.cfg.LogFrequency) {
			t.logTime(batchIdx, duration, res.Losses)
			t.backend.NoGrad(func() {
				scalars := res.Losses.Scalars()
				t.addDepthMetrics(batch, res, scalars)
				t.log(telemetry.ModeTrain, batch, out, res, scalars)
			})
			if err := t.validate(); err != nil {
				return err
			}
		}
		t.step++
	}
}

// TrainStep runs forward and backward passes for one batch and, every
// iters_per_update steps, an optimizer update. The batch must live on the
// trainer's backend.
func (t *Trainer) TrainStep(batch *dataset.Batch) (*loss.Outputs, *loss.Result, error) {
	tape := t.backend.Tape()
	if !tape.IsRecording() {
		tape.StartRecording()
		defer tape.StopRecording()
	}
	defer tape.Clear()

	out, res, err := t.processBatch(batch, true)
	if err != nil {
		return nil, nil, err
	}
	objective, err := t.objective(res.Losses)
	if err != nil {
		return nil, nil, err
	}

	grads := autodiff.Backward(objective, t.backend)
	for _, p := range t.params {
		p.AccumulateGrad(grads.Of(p.Tensor()))
	}
	if (t.step+1)%t.cfg.ItersPerUpdate == 0 {
		t.adam.Step()
		t.adam.ZeroGrad()
	}
	return out, res, nil
}

func (t *Trainer) processBatch(batch *dataset.Batch, training bool) (*loss.Outputs, *loss.Result, error) {
	out := t.models.Forward(batch, t.needsNeighborDisp())
	res, err := t.orch.Compute(batch, out, training)
	if err != nil {
		return nil, nil, err
	}
	return out, res, nil
}

// needsNeighborDisp reports whether any loss consumes the disparities of
// the non-host frames.
func (t *Trainer) needsNeighborDisp() bool {
	return t.cfg.CVOLoss || t.cfg.CVOLossDense || t.cfg.DispInLoss
}

// objective scales the loss for gradient accumulation and adds the
// configured extra terms. The result is recorded as "step_loss".
func (t *Trainer) objective(losses loss.Losses) (*tensor.Tensor, error) {
	ipu := float32(t.cfg.ItersPerUpdate)
	scales := float32(len(t.cfg.Scales))

	var total *tensor.Tensor
	if t.cfg.CVOAsLoss {
		for s := range t.cfg.Scales {
			v, ok := losses[t.orch.InpScaleKey(s)]
			if !ok {
				continue
			}
			total = addTo(total, v)
		}
		if total == nil {
			return nil, errors.New("cvo_as_loss: no inner product term was recorded")
		}
	} else {
		total = losses["loss"]
	}
	total = total.DivScalar(ipu)

	if t.cfg.DispInLoss {
		for s := range t.cfg.Scales {
			if v, ok := losses[scaleKey("loss_disp", s)]; ok {
				total = total.Add(v.MulScalar(dispLossWeight / scales / ipu))
			}
		}
	}
	if t.cfg.SupervisedByGTDepth {
		if v, ok := losses["loss_inp/sum"]; ok {
			total = total.Add(v.MulScalar(inpLossWeight / scales / ipu))
		}
	}
	if t.cfg.SupCVOPoseLidar {
		if v, ok := losses["loss_pose/cos_sum"]; ok {
			total = total.Add(v.MulScalar(poseCosLossWeight / scales / ipu))
		}
	}
	losses["step_loss"] = total
	return total, nil
}

// validate evaluates one validation batch without recording gradients.
func (t *Trainer) validate() error {
	if t.valCycle == nil {
		return nil
	}
	batch, err := t.valCycle.Next()
	if err != nil {
		return errors.Wrap(err, "validation batch")
	}
	t.backend.NoGrad(func() {
		var out *loss.Outputs
		var res *loss.Result
		out, res, err = t.processBatch(batch, false)
		if err != nil {
			return
		}
		scalars := res.Losses.Scalars()
		t.addDepthMetrics(batch, res, scalars)
		t.log(telemetry.ModeVal, batch, out, res, scalars)
	})
	return errors.Wrap(err, "validation")
}

// addDepthMetrics adds depth error metrics against the full-resolution
// ground truth when the batch carries it.
func (t *Trainer) addDepthMetrics(batch *dataset.Batch, res *loss.Result, scalars map[string]float32) {
	if batch.DepthGT == nil {
		return
	}
	crop := t.cfg.Dataset != config.DatasetTUM
	metrics, err := loss.DepthMetrics(res.Depth[0].Detach(), batch.DepthGT, crop)
	if err != nil {
		if !errors.Is(err, loss.ErrNoValidDepth) {
			t.logger.Warn("depth metrics", zap.Error(err))
		}
		return
	}
	for k, v := range metrics {
		scalars[k] = float32(v)
	}
}

func (t *Trainer) logTime(batchIdx int, duration time.Duration, losses loss.Losses) {
	elapsed := t.now().Sub(t.startTime)
	var remaining time.Duration
	if t.step > 0 {
		remaining = time.Duration((float64(t.numSteps)/float64(t.step) - 1) * float64(elapsed))
	}
	examplesPerSec := 0.0
	if duration > 0 {
		examplesPerSec = float64(t.cfg.BatchSize) / duration.Seconds()
	}
	lossValue, _ := losses.Value("loss")
	t.logger.Info("step",
		zap.Int("epoch", t.epoch),
		zap.Int("batch", batchIdx),
		zap.Float64("examples_per_sec", examplesPerSec),
		zap.Float32("loss", lossValue),
		zap.Duration("elapsed", elapsed.Round(time.Second)),
		zap.Duration("remaining", remaining.Round(time.Second)))
}

// log writes scalars and up to Telemetry.MaxImages sample images.
func (t *Trainer) log(mode string, batch *dataset.Batch, out *loss.Outputs, res *loss.Result, scalars map[string]float32) {
	if err := t.sink.WriteScalars(mode, t.step, scalars); err != nil {
		t.logger.Warn("write scalars", zap.String("mode", mode), zap.Error(err))
	}
	if t.images == nil {
		return
	}
	var errs error
	write := func(tag string, j int, v *tensor.Tensor, normalize bool) {
		if v == nil {
			return
		}
		_, err := t.images.Write(mode, tag, t.step, j, v, normalize)
		errs = multierr.Append(errs, err)
	}
	for j := 0; j < min(t.cfg.Telemetry.MaxImages, batch.Size); j++ {
		for s := range t.cfg.Scales {
			for _, f := range batch.FrameIDs {
				write(tagFS("color", f, s), j, batch.Frame(f, s).Color, false)
				if s == 0 && f != 0 {
					write(tagFS("color_pred", f, s), j, res.Warped[dataset.FrameScale{Frame: f, Scale: s}], false)
				}
			}
			write(scaleKey("disp", s), j, out.Disp[s], true)
			if gt := batch.Frame(0, s).DepthGT; gt != nil {
				write(scaleKey("depth_gt", s), j, gt, true)
				write(scaleKey("depth_mask", s), j, batch.Frame(0, s).DepthMask, false)
			}
			switch {
			case out.PredictiveMask != nil:
				if mask := out.PredictiveMask[s]; mask != nil {
					for i, f := range batch.FrameIDs[1:] {
						write(tagFS("predictive_mask", f, s), j, mask.Narrow(1, i, 1), false)
					}
				}
			case res.IdentitySelection[s] != nil:
				write(scaleKey("automask", s), j, res.IdentitySelection[s].Unsqueeze(1), false)
			}
		}
	}
	if errs != nil {
		t.logger.Warn("write images", zap.String("mode", mode), zap.Error(errs))
	}
}

func scaleKey(prefix string, s int) string {
	return fmt.Sprintf("%s/%d", prefix, s)
}

func tagFS(prefix string, f dataset.FrameID, s int) string {
	return fmt.Sprintf("%s_%s/%d", prefix, f, s)
}

func countParameters(params []*nn.Parameter) int {
	n := 0
	for _, p := range params {
		n += p.Tensor().NumElements()
	}
	return n
}

func addTo(total, v *tensor.Tensor) *tensor.Tensor {
	if total == nil {
		return v
	}
	return total.Add(v)
}
