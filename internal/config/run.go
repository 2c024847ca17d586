package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// OptionsFile is the name of the options record in a models directory.
const OptionsFile = "opt.yaml"

// RunRecord identifies one training run and the options it started with.
type RunRecord struct {
	RunID   uuid.UUID `yaml:"run_id"`
	Started time.Time `yaml:"started"`
	Options Config    `yaml:"options"`
}

// NewRunRecord assigns a fresh run id.
func NewRunRecord(cfg Config, started time.Time) RunRecord {
	return RunRecord{RunID: uuid.New(), Started: started.UTC(), Options: cfg}
}

// LogPath is the directory holding everything the run writes:
// <log_dir>/<model_name>.
func (r RunRecord) LogPath() string {
	return filepath.Join(r.Options.LogDir, r.Options.ModelName)
}

// ModelsDir is the timestamped directory receiving checkpoints and the
// options record.
func (r RunRecord) ModelsDir() string {
	return filepath.Join(r.LogPath(), "models_"+r.Started.Format("20060102_150405"))
}

// Save writes the record to ModelsDir/opt.yaml, creating the directory.
func (r RunRecord) Save() (string, error) {
	dir := r.ModelsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create models dir")
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", errors.Wrap(err, "encode run record")
	}
	path := filepath.Join(dir, OptionsFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write run record")
	}
	return path, nil
}

// LoadRunRecord reads a record written by Save.
func LoadRunRecord(path string) (RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunRecord{}, errors.Wrap(err, "read run record")
	}
	var r RunRecord
	if err := yaml.Unmarshal(data, &r); err != nil {
		return RunRecord{}, errors.Wrapf(err, "decode %s", path)
	}
	return r, nil
}
