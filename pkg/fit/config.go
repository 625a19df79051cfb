// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fit

import (
	"flag"
	"time"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
)

// Config holds the Trainer options.
type Config struct {
	MaxEpochs int

	// MaxSteps limits the number of training steps when > 0. When both MaxEpochs and MaxSteps
	// are set, training stops at whichever comes first.
	MaxSteps int

	// DefaultRootDir under which the run directories are created. "~" is expanded.
	DefaultRootDir string

	// Backend configuration, e.g. "xla:cpu" or "go". If empty, GOMLX_BACKEND or the default
	// backend is used.
	Backend string

	EnableCheckpointing bool
	NumCheckpoints      int
	CheckpointPeriod    time.Duration

	EnableProgressBar bool

	// LogEveryNSteps is the period, in steps, of the loss_step metric.
	LogEveryNSteps int

	// CheckValEveryNEpoch is the period, in epochs, of the validation loss.
	CheckValEveryNEpoch int

	// FastDevRun > 0 runs that many batches once, without checkpoints, as a smoke test.
	FastDevRun int

	EnableModelSummary bool

	// UpdateBatchNormAverages recomputes the batch normalization averages over one epoch of
	// the training data at the end of training.
	UpdateBatchNormAverages bool

	// Plots collects plot points of the metrics, saved with the checkpoints and displayed
	// when running in a notebook.
	Plots bool
}

// DefaultConfig returns the default Trainer options.
func DefaultConfig() Config {
	return Config{
		MaxEpochs:           1000,
		MaxSteps:            -1,
		DefaultRootDir:      ".",
		EnableCheckpointing: true,
		NumCheckpoints:      3,
		CheckpointPeriod:    3 * time.Minute,
		EnableProgressBar:   true,
		LogEveryNSteps:      50,
		CheckValEveryNEpoch: 1,
		EnableModelSummary:  true,
	}
}

// AddFlags registers the Trainer options in fs, using the current values as defaults.
func (c *Config) AddFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.MaxEpochs, "max_epochs", c.MaxEpochs, "Number of epochs to train.")
	fs.IntVar(&c.MaxSteps, "max_steps", c.MaxSteps, "If > 0, maximum number of training steps.")
	fs.StringVar(&c.DefaultRootDir, "default_root_dir", c.DefaultRootDir,
		"Directory under which lightning_logs/version_<N> run directories are created.")
	fs.StringVar(&c.Backend, "backend", c.Backend,
		"GoMLX backend configuration (e.g. \"xla:cpu\", \"go\"). Defaults to $GOMLX_BACKEND or the default backend.")
	fs.BoolVar(&c.EnableCheckpointing, "enable_checkpointing", c.EnableCheckpointing, "Save checkpoints in the run directory.")
	fs.IntVar(&c.NumCheckpoints, "num_checkpoints", c.NumCheckpoints, "Number of checkpoints to keep.")
	fs.DurationVar(&c.CheckpointPeriod, "checkpoint_period", c.CheckpointPeriod, "Period of time between checkpoints.")
	fs.BoolVar(&c.EnableProgressBar, "enable_progress_bar", c.EnableProgressBar, "Display a progress bar while training.")
	fs.IntVar(&c.LogEveryNSteps, "log_every_n_steps", c.LogEveryNSteps, "Period, in steps, of the logged step loss.")
	fs.IntVar(&c.CheckValEveryNEpoch, "check_val_every_n_epoch", c.CheckValEveryNEpoch,
		"Period, in epochs, of the validation loss.")
	fs.IntVar(&c.FastDevRun, "fast_dev_run", c.FastDevRun,
		"If > 0, runs only that many training batches, without checkpoints.")
	fs.BoolVar(&c.EnableModelSummary, "enable_model_summary", c.EnableModelSummary,
		"Print a summary of the model parameters before training.")
	fs.BoolVar(&c.UpdateBatchNormAverages, "update_batch_norm_averages", c.UpdateBatchNormAverages,
		"Recompute the batch normalization averages over the training data at the end of training.")
	fs.BoolVar(&c.Plots, "plots", c.Plots, "Collect plot points of the metrics during training.")
}

// Validate the options.
func (c *Config) Validate() error {
	switch {
	case c.MaxEpochs <= 0 && c.MaxSteps <= 0:
		return errors.Errorf("either max_epochs or max_steps must be > 0, got %d and %d", c.MaxEpochs, c.MaxSteps)
	case c.LogEveryNSteps <= 0:
		return errors.Errorf("log_every_n_steps must be > 0, got %d", c.LogEveryNSteps)
	case c.CheckValEveryNEpoch <= 0:
		return errors.Errorf("check_val_every_n_epoch must be > 0, got %d", c.CheckValEveryNEpoch)
	case c.EnableCheckpointing && c.NumCheckpoints <= 0:
		return errors.Errorf("num_checkpoints must be > 0, got %d", c.NumCheckpoints)
	}
	return nil
}

// RootDir returns DefaultRootDir with "~" expanded.
func (c *Config) RootDir() string {
	return fsutil.MustReplaceTildeInDir(c.DefaultRootDir)
}

// ArgumentParser is a flag.FlagSet assembled from option groups, plus a "-set" flag for free
// form context hyperparameters ("name=value;scope/name=value").
type ArgumentParser struct {
	*flag.FlagSet
	settings string
}

// NewArgumentParser creates an empty parser; errors are returned by Parse.
func NewArgumentParser(name string) *ArgumentParser {
	p := &ArgumentParser{FlagSet: flag.NewFlagSet(name, flag.ContinueOnError)}
	p.StringVar(&p.settings, "set", "",
		`Context hyperparameters, as a list of "param=value" separated by ";". Scoped parameters use "/". `+
			`Only parameters already defined in the model context can be set.`)
	return p
}

// Add the flags of each option group.
func (p *ArgumentParser) Add(groups ...FlagContributor) *ArgumentParser {
	for _, group := range groups {
		group.AddFlags(p.FlagSet)
	}
	return p
}

// Settings returns the value given to "-set".
func (p *ArgumentParser) Settings() string { return p.settings }

// ApplySettings sets the "-set" hyperparameters in ctx. It returns the paths of the parameters
// set, and an error if a parameter is not already defined in ctx or has a value of the wrong type.
func (p *ArgumentParser) ApplySettings(ctx *context.Context) ([]string, error) {
	paramsSet, err := commandline.ParseContextSettings(ctx, p.settings)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid -set")
	}
	return paramsSet, nil
}
