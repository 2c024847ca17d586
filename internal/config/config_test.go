package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/born-ml/cvodepth/internal/config"
	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/loss"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.LossOptions().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
height: 64
width: 128
frame_ids: [0, -1, 1]
use_stereo: true
cvo_loss: true
cvo_as_loss: true
telemetry:
  sqlite: ""
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	want := config.Default()
	want.Height, want.Width = 64, 128
	want.UseStereo = true
	want.CVOLoss, want.CVOAsLoss = true, true
	want.Telemetry.SQLite = ""
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []dataset.FrameID{0, -1, 1, dataset.Stereo}, cfg.AllFrameIDs())
	layout := cfg.Layout()
	assert.Equal(t, 4, layout.NumScales)
	assert.Equal(t, cfg.AllFrameIDs(), cfg.LossOptions().FrameIDs)
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(config.Default(), cfg))
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := config.Parse([]byte("num_layers: 18\n"))
	assert.Error(t, err)

	_, err = config.Parse([]byte("frame_ids: [0, x]\n"))
	assert.Error(t, err)
}

func TestValidateCollectsEveryError(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*config.Config)
		errs   int
	}{
		{"height not multiple of 32", func(c *config.Config) { c.Height = 100 }, 1},
		{"host frame first", func(c *config.Config) { c.FrameIDs = config.FrameIDs{-1, 0, 1} }, 1},
		{"predictive mask with automasking", func(c *config.Config) { c.PredictiveMask = true }, 1},
		{"unknown enums", func(c *config.Config) {
			c.PoseModelType = "resnet"
			c.Dataset = "nyu"
		}, 2},
		{"cvo extras need a cvo term", func(c *config.Config) {
			c.SupervisedByGTDepth = true
			c.CVOAsLoss = true
		}, 2},
		{"several at once", func(c *config.Config) {
			c.Height, c.Width = 33, 65
			c.BatchSize = 0
			c.ModelsToLoad = []string{"decoder"}
		}, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Len(t, multierr.Errors(err), tc.errs, err.Error())
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.UseStereo = true
	cfg.PoseModelType = loss.PosePoseCNN
	cfg.FrameIDs = config.FrameIDs{0, -2, 2}

	data, err := cfg.Marshal()
	require.NoError(t, err)
	back, err := config.Parse(data)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRecordSaveLoad(t *testing.T) {
	cfg := config.Default()
	cfg.LogDir = t.TempDir()
	started := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	rec := config.NewRunRecord(cfg, started)

	path, err := rec.Save()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.LogDir, "mdp", "models_20240301_123005", config.OptionsFile), path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	back, err := config.LoadRunRecord(path)
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, back.RunID)
	assert.True(t, rec.Started.Equal(back.Started))
	assert.Empty(t, cmp.Diff(rec.Options, back.Options))

	other := config.NewRunRecord(cfg, started)
	assert.NotEqual(t, rec.RunID, other.RunID)
}
