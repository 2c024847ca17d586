// Package config holds the training options, their YAML encoding and
// validation, and the per-run options record.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/loss"
)

// Dataset kinds.
const (
	DatasetSynthetic = "synthetic"
	DatasetKITTI     = dataset.KindKITTI
	DatasetTUM       = dataset.KindTUM
)

// Model components that can be restored from a weights folder.
const (
	ModelEncoder        = "encoder"
	ModelDepth          = "depth"
	ModelPoseEncoder    = "pose_encoder"
	ModelPose           = "pose"
	ModelPredictiveMask = "predictive_mask"
)

// ModelNames lists every checkpointable component.
var ModelNames = []string{ModelEncoder, ModelDepth, ModelPoseEncoder, ModelPose, ModelPredictiveMask}

// FrameIDs is a list of frame ids encoded in YAML as integers.
type FrameIDs []dataset.FrameID

// UnmarshalYAML parses a sequence of integer offsets.
func (f *FrameIDs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return errors.Errorf("line %d: frame_ids must be a sequence", value.Line)
	}
	ids := make(FrameIDs, 0, len(value.Content))
	for _, n := range value.Content {
		id, err := dataset.ParseFrameID(n.Value)
		if err != nil {
			return errors.Wrapf(err, "line %d", n.Line)
		}
		ids = append(ids, id)
	}
	*f = ids
	return nil
}

// MarshalYAML writes integer offsets, and "s" for the stereo frame.
func (f FrameIDs) MarshalYAML() (any, error) {
	out := make([]any, len(f))
	for i, id := range f {
		if id == dataset.Stereo {
			out[i] = id.String()
			continue
		}
		out[i] = int(id)
	}
	return out, nil
}

// Telemetry selects the optional telemetry sinks.
type Telemetry struct {
	// SQLite is the scalar database path, relative to the run directory.
	SQLite string `yaml:"sqlite"`
	// ImageDir receives sample images, relative to the run directory.
	ImageDir string `yaml:"image_dir"`
	// MaxImages caps the samples written per log event.
	MaxImages int `yaml:"max_images"`
}

// Logging configures the process logger.
type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config holds every training option.
type Config struct {
	ModelName  string `yaml:"model_name"`
	LogDir     string `yaml:"log_dir"`
	DataPath   string `yaml:"data_path"`
	Dataset    string `yaml:"dataset"`
	TrainSplit string `yaml:"train_split"`
	ValSplit   string `yaml:"val_split"`
	ImageExt   string `yaml:"image_ext"`
	// SyntheticLength is the number of samples of the synthetic dataset.
	SyntheticLength int `yaml:"synthetic_length"`

	Height    int      `yaml:"height"`
	Width     int      `yaml:"width"`
	Scales    []int    `yaml:"scales"`
	FrameIDs  FrameIDs `yaml:"frame_ids"`
	UseStereo bool     `yaml:"use_stereo"`
	MinDepth  float32  `yaml:"min_depth"`
	MaxDepth  float32  `yaml:"max_depth"`

	BatchSize         int     `yaml:"batch_size"`
	LearningRate      float32 `yaml:"learning_rate"`
	NumEpochs         int     `yaml:"num_epochs"`
	SchedulerStepSize int     `yaml:"scheduler_step_size"`
	ItersPerUpdate    int     `yaml:"iters_per_update"`
	SaveFrequency     int     `yaml:"save_frequency"`
	LogFrequency      int     `yaml:"log_frequency"`
	NumWorkers        int     `yaml:"num_workers"`
	Seed              int64   `yaml:"seed"`

	DisparitySmoothness float32 `yaml:"disparity_smoothness"`
	NoSSIM              bool    `yaml:"no_ssim"`
	AvgReprojection     bool    `yaml:"avg_reprojection"`
	DisableAutomasking  bool    `yaml:"disable_automasking"`
	PredictiveMask      bool    `yaml:"predictive_mask"`
	V1Multiscale        bool    `yaml:"v1_multiscale"`
	PoseModelType       string  `yaml:"pose_model_type"`

	CVOLoss                bool    `yaml:"cvo_loss"`
	CVOLossDense           bool    `yaml:"cvo_loss_dense"`
	SupervisedByGTDepth    bool    `yaml:"supervised_by_gt_depth"`
	SupCVOPoseLidar        bool    `yaml:"sup_cvo_pose_lidar"`
	DispInLoss             bool    `yaml:"disp_in_loss"`
	CVOAsLoss              bool    `yaml:"cvo_as_loss"`
	NormalizeInprodOverPts bool    `yaml:"normalize_inprod_over_pts"`
	GeoScale               float32 `yaml:"geo_scale"`
	SampPt                 int     `yaml:"samp_pt"`
	PoseSampPt             int     `yaml:"pose_samp_pt"`

	LoadWeightsFolder string   `yaml:"load_weights_folder"`
	ModelsToLoad      []string `yaml:"models_to_load"`

	Telemetry Telemetry `yaml:"telemetry"`
	Log       Logging   `yaml:"log"`
}

// Default returns the options of a monocular KITTI-sized run.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		ModelName:       "mdp",
		LogDir:          filepath.Join(home, "tmp"),
		Dataset:         DatasetSynthetic,
		ImageExt:        ".png",
		SyntheticLength: 64,

		Height:   192,
		Width:    640,
		Scales:   []int{0, 1, 2, 3},
		FrameIDs: FrameIDs{0, -1, 1},
		MinDepth: 0.1,
		MaxDepth: 100,

		BatchSize:         12,
		LearningRate:      1e-4,
		NumEpochs:         20,
		SchedulerStepSize: 15,
		ItersPerUpdate:    1,
		SaveFrequency:     1,
		LogFrequency:      250,
		NumWorkers:        12,

		DisparitySmoothness: 1e-3,
		PoseModelType:       loss.PoseSeparate,

		GeoScale:   0.1,
		SampPt:     loss.DefaultSampPt,
		PoseSampPt: loss.DefaultPoseSampPt,

		ModelsToLoad: []string{ModelEncoder, ModelDepth, ModelPoseEncoder, ModelPose},

		Telemetry: Telemetry{SQLite: "scalars.db", ImageDir: "images", MaxImages: 4},
		Log:       Logging{Level: "info"},
	}
}

// Load decodes the YAML file at path over the defaults. Unknown keys are
// errors. The result is not validated.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// Validate reports every invalid option at once.
func (c Config) Validate() error {
	var err error
	fail := func(format string, args ...any) {
		err = multierr.Append(err, errors.Errorf(format, args...))
	}

	if c.Height <= 0 || c.Height%32 != 0 {
		fail("height %d must be a positive multiple of 32", c.Height)
	}
	if c.Width <= 0 || c.Width%32 != 0 {
		fail("width %d must be a positive multiple of 32", c.Width)
	}
	if len(c.Scales) == 0 {
		fail("at least one scale is required")
	}
	for i, s := range c.Scales {
		if s != i {
			fail("scales %v must be 0..n-1 in order", c.Scales)
			break
		}
	}
	if len(c.FrameIDs) == 0 || c.FrameIDs[0] != 0 {
		fail("frame_ids %v must start with 0", []dataset.FrameID(c.FrameIDs))
	}
	seen := make(map[dataset.FrameID]bool)
	for _, f := range c.FrameIDs {
		if f == dataset.Stereo {
			fail("the stereo frame is added by use_stereo, not frame_ids")
		}
		if seen[f] {
			fail("duplicate frame id %s", f)
		}
		seen[f] = true
	}
	if len(c.AllFrameIDs()) < 2 {
		fail("at least one neighbor frame or use_stereo is required")
	}
	if c.MinDepth <= 0 || c.MaxDepth <= c.MinDepth {
		fail("invalid depth range [%v, %v]", c.MinDepth, c.MaxDepth)
	}

	if c.BatchSize <= 0 {
		fail("batch_size must be positive")
	}
	if c.LearningRate <= 0 {
		fail("learning_rate must be positive")
	}
	if c.NumEpochs <= 0 {
		fail("num_epochs must be positive")
	}
	if c.SchedulerStepSize <= 0 {
		fail("scheduler_step_size must be positive")
	}
	if c.ItersPerUpdate <= 0 {
		fail("iters_per_update must be positive")
	}
	if c.SaveFrequency <= 0 || c.LogFrequency <= 0 {
		fail("save_frequency and log_frequency must be positive")
	}

	if c.PredictiveMask && !c.DisableAutomasking {
		fail("predictive_mask requires disable_automasking")
	}
	if !slices.Contains([]string{loss.PoseSeparate, loss.PoseShared, loss.PosePoseCNN}, c.PoseModelType) {
		fail("unknown pose_model_type %q", c.PoseModelType)
	}
	cvoEnabled := c.CVOLoss || c.CVOLossDense
	for _, opt := range []struct {
		name string
		on   bool
	}{
		{"supervised_by_gt_depth", c.SupervisedByGTDepth},
		{"sup_cvo_pose_lidar", c.SupCVOPoseLidar},
		{"cvo_as_loss", c.CVOAsLoss},
	} {
		if opt.on && !cvoEnabled {
			fail("%s requires cvo_loss or cvo_loss_dense", opt.name)
		}
	}
	if c.GeoScale <= 0 {
		fail("geo_scale must be positive")
	}
	if c.SampPt < 0 || c.PoseSampPt < 0 {
		fail("samp_pt and pose_samp_pt must not be negative")
	}

	switch c.Dataset {
	case DatasetSynthetic:
		if c.SyntheticLength < c.BatchSize {
			fail("synthetic_length %d cannot fill a batch of %d", c.SyntheticLength, c.BatchSize)
		}
	case DatasetKITTI, DatasetTUM:
		if c.DataPath == "" || c.TrainSplit == "" {
			fail("dataset %s requires data_path and train_split", c.Dataset)
		}
	default:
		fail("unknown dataset %q", c.Dataset)
	}
	for _, m := range c.ModelsToLoad {
		if !slices.Contains(ModelNames, m) {
			fail("unknown model %q in models_to_load", m)
		}
	}
	return err
}

// AllFrameIDs returns frame_ids followed by the stereo frame when enabled.
func (c Config) AllFrameIDs() []dataset.FrameID {
	ids := slices.Clone([]dataset.FrameID(c.FrameIDs))
	if c.UseStereo {
		ids = append(ids, dataset.Stereo)
	}
	return ids
}

// Layout returns the batch layout implied by the options.
func (c Config) Layout() dataset.Layout {
	return dataset.Layout{
		FrameIDs:  c.AllFrameIDs(),
		NumScales: len(c.Scales),
		Height:    c.Height,
		Width:     c.Width,
	}
}

// LossOptions maps the options onto the loss orchestrator.
func (c Config) LossOptions() loss.Options {
	return loss.Options{
		Height:              c.Height,
		Width:               c.Width,
		NumScales:           len(c.Scales),
		FrameIDs:            c.AllFrameIDs(),
		MinDepth:            c.MinDepth,
		MaxDepth:            c.MaxDepth,
		BatchSize:           c.BatchSize,
		DisparitySmoothness: c.DisparitySmoothness,
		NoSSIM:              c.NoSSIM,
		AvgReprojection:     c.AvgReprojection,
		DisableAutomasking:  c.DisableAutomasking,
		PredictiveMask:      c.PredictiveMask,
		V1Multiscale:        c.V1Multiscale,
		PoseModelType:       c.PoseModelType,
		CVOLoss:             c.CVOLoss,
		CVOLossDense:        c.CVOLossDense,
		SupervisedByGTDepth: c.SupervisedByGTDepth,
		SupCVOPoseLidar:     c.SupCVOPoseLidar,
		CVOAsLoss:           c.CVOAsLoss,
		GeoScale:            c.GeoScale,
		NormalizeInprod:     c.NormalizeInprodOverPts,
		SampPt:              c.SampPt,
		PoseSampPt:          c.PoseSampPt,
	}
}

// Marshal encodes the options as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	return buf.Bytes(), nil
}
