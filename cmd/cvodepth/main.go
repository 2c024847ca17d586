// Package main is the cvodepth command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/born-ml/cvodepth/internal/config"
	"github.com/born-ml/cvodepth/internal/logging"
	"github.com/born-ml/cvodepth/internal/telemetry"
	"github.com/born-ml/cvodepth/internal/trainer"
)

const version = "v0.1.0-dev"

const (
	// Flags.
	flagConfig      = "config"
	flagEpochs      = "epochs"
	flagBatchSize   = "batch-size"
	flagLR          = "learning-rate"
	flagLogDir      = "log-dir"
	flagModelName   = "model-name"
	flagDataPath    = "data-path"
	flagLoadWeights = "load-weights"
	flagSeed        = "seed"
	flagLogLevel    = "log-level"
	flagLogFile     = "log-file"
	flagDebug       = "debug"

	flagDB     = "db"
	flagRunID  = "run-id"
	flagMode   = "mode"
	flagTags   = "tags"
	flagOutput = "output"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "cvodepth",
		Usage: "self-supervised monocular depth and pose training",
		Commands: []*cli.Command{
			{
				Name:  "train",
				Usage: "train the depth and pose networks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagConfig,
						Aliases: []string{"c"},
						Usage:   "YAML options `FILE`; unset options keep their defaults",
					},
					&cli.IntFlag{Name: flagEpochs, Usage: "override num_epochs"},
					&cli.IntFlag{Name: flagBatchSize, Usage: "override batch_size"},
					&cli.Float64Flag{Name: flagLR, Usage: "override learning_rate"},
					&cli.StringFlag{Name: flagLogDir, Usage: "override log_dir"},
					&cli.StringFlag{Name: flagModelName, Usage: "override model_name"},
					&cli.StringFlag{Name: flagDataPath, Usage: "override data_path"},
					&cli.StringFlag{Name: flagLoadWeights, Usage: "override load_weights_folder"},
					&cli.Int64Flag{Name: flagSeed, Usage: "override seed"},
					&cli.StringFlag{Name: flagLogLevel, Usage: "override log.level"},
					&cli.StringFlag{Name: flagLogFile, Usage: "also write logs to `FILE`"},
					&cli.BoolFlag{Name: flagDebug, Usage: "development logging"},
				},
				Action: trainAction,
			},
			{
				Name:  "plot",
				Usage: "plot loss curves from a scalar database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDB, Required: true, Usage: "scalar database `FILE`"},
					&cli.StringFlag{Name: flagRunID, Usage: "restrict to one run"},
					&cli.StringFlag{Name: flagMode, Value: telemetry.ModeTrain, Usage: "train or val"},
					&cli.StringSliceFlag{Name: flagTags, Usage: "tags to plot; all tags when unset"},
					&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Value: "losses.png", Usage: "output image `FILE`"},
				},
				Action: plotAction,
			},
			{
				Name:  "defaults",
				Usage: "print the default options as YAML",
				Action: func(c *cli.Context) error {
					data, err := config.Default().Marshal()
					if err != nil {
						return err
					}
					_, err = c.App.Writer.Write(data)
					return err
				},
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.Writer, "cvodepth %s\n", version)
					return nil
				},
			},
		},
	}
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	if c.IsSet(flagEpochs) {
		cfg.NumEpochs = c.Int(flagEpochs)
	}
	if c.IsSet(flagBatchSize) {
		cfg.BatchSize = c.Int(flagBatchSize)
	}
	if c.IsSet(flagLR) {
		cfg.LearningRate = float32(c.Float64(flagLR))
	}
	if c.IsSet(flagLogDir) {
		cfg.LogDir = c.String(flagLogDir)
	}
	if c.IsSet(flagModelName) {
		cfg.ModelName = c.String(flagModelName)
	}
	if c.IsSet(flagDataPath) {
		cfg.DataPath = c.String(flagDataPath)
	}
	if c.IsSet(flagLoadWeights) {
		cfg.LoadWeightsFolder = c.String(flagLoadWeights)
	}
	if c.IsSet(flagSeed) {
		cfg.Seed = c.Int64(flagSeed)
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if c.Bool(flagDebug) {
		cfg.Log.Development = true
	}
	return cfg, nil
}

func trainAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development, c.String(flagLogFile))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tr, err := trainer.New(cfg, trainer.Options{Logger: logger})
	if err != nil {
		return err
	}
	runErr := tr.Run(c.Context)
	if err := tr.Close(); err != nil {
		logger.Warn("closing trainer", zap.Error(err))
	}
	if errors.Is(runErr, context.Canceled) {
		logger.Info("training interrupted", zap.Int("step", tr.Step()))
		return nil
	}
	return runErr
}

func plotAction(c *cli.Context) error {
	db, mode := c.String(flagDB), c.String(flagMode)
	if _, err := os.Stat(db); err != nil {
		return errors.Wrap(err, "scalar database")
	}
	tags := c.StringSlice(flagTags)
	if len(tags) == 0 {
		var err error
		if tags, err = telemetry.Tags(db, mode); err != nil {
			return err
		}
	}
	out := c.String(flagOutput)
	if err := telemetry.PlotDatabase(db, c.String(flagRunID), mode, tags, out); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", out)
	return nil
}
