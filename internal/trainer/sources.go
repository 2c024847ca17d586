package trainer

import (
	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/config"
	"github.com/born-ml/cvodepth/internal/dataset"
)

// OpenSources returns the training and validation sources cfg describes.
// val is nil when no validation split is configured for a directory dataset.
func OpenSources(cfg config.Config) (train, val dataset.Source, err error) {
	layout := cfg.Layout()
	if cfg.Dataset == config.DatasetSynthetic {
		train = dataset.NewSyntheticSource(dataset.SyntheticOptions{
			Layout:  layout,
			Length:  cfg.SyntheticLength,
			Augment: true,
		})
		val = dataset.NewSyntheticSource(dataset.SyntheticOptions{
			Layout: layout,
			Length: max(cfg.SyntheticLength/4, cfg.BatchSize),
			// A different speed keeps validation frames off the training set.
			Speed: 0.35,
		})
		return train, val, nil
	}

	open := func(split string, augment bool) (dataset.Source, error) {
		lines, err := dataset.ReadSplit(split)
		if err != nil {
			return nil, err
		}
		return dataset.NewDirectorySource(dataset.DirectoryOptions{
			Root:     cfg.DataPath,
			Kind:     cfg.Dataset,
			ImageExt: cfg.ImageExt,
			Lines:    lines,
			Layout:   layout,
			Augment:  augment,
		})
	}
	if train, err = open(cfg.TrainSplit, true); err != nil {
		return nil, nil, errors.Wrap(err, "train split")
	}
	if cfg.ValSplit == "" {
		return train, nil, nil
	}
	if val, err = open(cfg.ValSplit, false); err != nil {
		return nil, nil, errors.Wrap(err, "val split")
	}
	return train, val, nil
}
