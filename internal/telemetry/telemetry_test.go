package telemetry_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/born-ml/cvodepth/internal/backend/cpu"
	"github.com/born-ml/cvodepth/internal/telemetry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

func TestSQLiteSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalars.db")
	sink, err := telemetry.NewSQLiteSink(path, "run-a")
	require.NoError(t, err)

	for step := 0; step < 3; step++ {
		require.NoError(t, sink.WriteScalars(telemetry.ModeTrain, step*10, map[string]float32{
			"loss":          float32(3 - step),
			"loss_disp/0":   0.5,
			"loss_pose/cos": 0.25,
		}))
	}
	require.NoError(t, sink.WriteScalars(telemetry.ModeVal, 0, map[string]float32{"loss": 9}))
	require.NoError(t, sink.Close())

	points, err := telemetry.ReadSeries(path, "run-a", telemetry.ModeTrain, "loss")
	require.NoError(t, err)
	assert.Equal(t, []telemetry.Point{{Step: 0, Value: 3}, {Step: 10, Value: 2}, {Step: 20, Value: 1}}, points)

	none, err := telemetry.ReadSeries(path, "run-b", telemetry.ModeTrain, "loss")
	require.NoError(t, err)
	assert.Empty(t, none)

	tags, err := telemetry.Tags(path, telemetry.ModeTrain)
	require.NoError(t, err)
	assert.Equal(t, []string{"loss", "loss_disp/0", "loss_pose/cos"}, tags)

	out := filepath.Join(t.TempDir(), "losses.png")
	require.NoError(t, telemetry.PlotDatabase(path, "", telemetry.ModeTrain, tags, out))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestPlotLossesRejectsEmptySeries(t *testing.T) {
	err := telemetry.PlotLosses(filepath.Join(t.TempDir(), "x.png"), "empty", []telemetry.Series{{Name: "loss"}})
	assert.Error(t, err)
}

func TestImageWriterUpscales(t *testing.T) {
	dir := t.TempDir()
	w, err := telemetry.NewImageWriter(dir, 8, 16)
	require.NoError(t, err)

	disp := tensor.Zeros(tensor.Shape{2, 1, 4, 8}, cpu.New())
	d := disp.Data()
	for i := range d {
		d[i] = float32(i % 32)
	}
	path, err := w.Write(telemetry.ModeTrain, "disp/0", 5, 1, disp, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "train", "00000005", "disp_0_1.png"), path)

	img, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	_, err = w.Write(telemetry.ModeTrain, "bad", 0, 2, disp, false)
	assert.Error(t, err)
}

func TestTensorImageColor(t *testing.T) {
	rgb := tensor.Zeros(tensor.Shape{1, 3, 1, 2}, cpu.New())
	copy(rgb.Data(), []float32{1, 0, 0, 2, 0.5, -1})
	img, err := telemetry.TensorImage(rgb, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 0, 128, 255, 0, 255, 0, 255}, img.Pix)
}

type failingSink struct{ err error }

func (f failingSink) WriteScalars(string, int, map[string]float32) error { return f.err }
func (f failingSink) Close() error                                       { return f.err }

func TestMultiCombinesErrors(t *testing.T) {
	a, b := errors.New("a"), errors.New("b")
	m := telemetry.Multi{
		failingSink{a},
		telemetry.LogSink{Logger: zaptest.NewLogger(t)},
		failingSink{b},
	}
	err := m.WriteScalars(telemetry.ModeTrain, 1, map[string]float32{"loss": 1})
	assert.Equal(t, []error{a, b}, multierr.Errors(err))
	assert.Len(t, multierr.Errors(m.Close()), 2)
}
