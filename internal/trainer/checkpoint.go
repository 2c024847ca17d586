package trainer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/born-ml/cvodepth/internal/config"
	"github.com/born-ml/cvodepth/internal/nn"
)

// Checkpoint file names.
const (
	checkpointExt  = ".safetensors"
	optimizerName  = "adam"
	metaHeight     = "height"
	metaWidth      = "width"
	metaUseStereo  = "use_stereo"
	weightsDirBase = "weights_"
)

// SaveModel writes every network and the optimizer state to
// <models_dir>/weights_<epoch>. The encoder file records the training
// resolution and stereo flag.
func (t *Trainer) SaveModel() (string, error) {
	dir := filepath.Join(t.record.ModelsDir(), fmt.Sprintf("%s%d", weightsDirBase, t.epoch))
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	for name, m := range t.models.Named() {
		var meta map[string]string
		if name == config.ModelEncoder {
			meta = map[string]string{
				metaHeight:    strconv.Itoa(t.cfg.Height),
				metaWidth:     strconv.Itoa(t.cfg.Width),
				metaUseStereo: strconv.FormatBool(t.cfg.UseStereo),
			}
		}
		if err := nn.SaveModule(filepath.Join(dir, name+checkpointExt), m, meta); err != nil {
			return "", err
		}
	}
	if err := nn.SaveOptimizer(filepath.Join(dir, optimizerName+checkpointExt), t.adam); err != nil {
		return "", err
	}
	t.logger.Info("saved checkpoint", zap.String("dir", dir), zap.Int("epoch", t.epoch))
	return dir, nil
}

// LoadWeights restores the networks named by models_to_load from folder.
// Loading is partial: parameters missing on either side keep their values.
// Optimizer state is restored when folder holds it.
func (t *Trainer) LoadWeights(folder string) error {
	info, err := os.Stat(folder)
	if err != nil {
		return errors.Wrap(err, "load weights")
	}
	if !info.IsDir() {
		return errors.Errorf("load weights: %s is not a directory", folder)
	}
	t.logger.Info("loading weights", zap.String("folder", folder))

	named := t.models.Named()
	toLoad := append([]string(nil), t.cfg.ModelsToLoad...)
	sort.Strings(toLoad)
	for _, name := range toLoad {
		m, ok := named[name]
		if !ok {
			t.logger.Warn("model not part of this configuration", zap.String("model", name))
			continue
		}
		meta, applied, err := nn.LoadModule(filepath.Join(folder, name+checkpointExt), m)
		if err != nil {
			return err
		}
		t.logger.Info("loaded model",
			zap.String("model", name),
			zap.Int("applied", len(applied)),
			zap.Int("parameters", len(m.Parameters())))
		if name == config.ModelEncoder {
			t.checkEncoderMetadata(meta)
		}
	}

	adamPath := filepath.Join(folder, optimizerName+checkpointExt)
	if _, err := os.Stat(adamPath); err != nil {
		t.logger.Info("no optimizer state found, Adam starts fresh")
		return nil
	}
	return nn.LoadOptimizer(adamPath, t.adam)
}

func (t *Trainer) checkEncoderMetadata(meta map[string]string) {
	for key, want := range map[string]string{
		metaHeight: strconv.Itoa(t.cfg.Height),
		metaWidth:  strconv.Itoa(t.cfg.Width),
	} {
		if got, ok := meta[key]; ok && got != want {
			t.logger.Warn("encoder was trained at a different resolution",
				zap.String("key", key), zap.String("checkpoint", got), zap.String("config", want))
		}
	}
}

// ensureDir creates dir and its parents.
func ensureDir(dir string) error {
	return errors.Wrapf(os.MkdirAll(dir, 0o755), "create %s", dir)
}
