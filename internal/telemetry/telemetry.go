// Package telemetry records training scalars and sample images.
//
// Scalars are keyed by mode ("train" or "val"), step and tag, where the tag
// encodes the loss name, frame id and scale (for example
// "loss_cvo/dense_True_s0_f-1"). Sinks are combined with Multi.
package telemetry

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Modes.
const (
	ModeTrain = "train"
	ModeVal   = "val"
)

// Sink receives scalar telemetry.
type Sink interface {
	WriteScalars(mode string, step int, scalars map[string]float32) error
	Close() error
}

// Multi fans out to several sinks. Errors from every sink are combined.
type Multi []Sink

// WriteScalars writes to every sink.
func (m Multi) WriteScalars(mode string, step int, scalars map[string]float32) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.WriteScalars(mode, step, scalars))
	}
	return err
}

// Close closes every sink.
func (m Multi) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// LogSink writes the objective of each scalar batch to a logger at debug
// level.
type LogSink struct {
	Logger *zap.Logger
}

// WriteScalars logs the "loss" scalar with the number of tags written.
func (l LogSink) WriteScalars(mode string, step int, scalars map[string]float32) error {
	l.Logger.Debug("scalars",
		zap.String("mode", mode),
		zap.Int("step", step),
		zap.Float32("loss", scalars["loss"]),
		zap.Int("tags", len(scalars)))
	return nil
}

// Close implements Sink.
func (LogSink) Close() error { return nil }
