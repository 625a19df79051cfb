// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fit fits a Module (a model with its training step and optimizer) to the data of a
// datamodule.DataModule, on top of the GoMLX train.Loop.
//
// The Trainer creates a versioned run directory under Config.DefaultRootDir, where metrics
// (metrics.csv), checkpoints and any callback output are written:
//
//	<default_root_dir>/lightning_logs/version_<N>/
//
// Example:
//
//	cfg := fit.DefaultConfig()
//	parser := fit.NewArgumentParser("train").Add(&cfg, dm, &hp)
//	if err := parser.Parse(args); err != nil { ... }
//	trainer := fit.NewTrainer(cfg)
//	if err := trainer.Fit(model, dm); err != nil { ... }
package fit

import (
	"flag"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

// Module is a model that can be fitted by the Trainer.
type Module interface {
	// Context holds the hyperparameters (as context parameters) and the model variables.
	Context() *context.Context

	// Forward builds the inference graph.
	Forward(ctx *context.Context, x *Node) *Node

	// TrainingStep returns the scalar loss for one batch: the inputs yielded by the
	// datamodule datasets, followed by the labels, if any.
	TrainingStep(ctx *context.Context, batch []*Node) *Node

	// ConfigureOptimizers returns the optimizer used to minimize the TrainingStep loss.
	ConfigureOptimizers() optimizers.Interface
}

// Builder is implemented by modules that can create their variables ahead of training.
// The Trainer calls Build before training, so even a run with no batches ends with a
// complete model.
type Builder interface {
	Build(backend backends.Backend) error
}

// ValidationStepper is implemented by modules whose validation loss differs from the
// training loss. Modules that don't implement it are validated with TrainingStep.
type ValidationStepper interface {
	ValidationStep(ctx *context.Context, batch []*Node) *Node
}

// Callback is attached to the training loop by Trainer.Fit, after the Trainer own hooks.
type Callback interface {
	Attach(trainer *Trainer, loop *train.Loop) error
}

// FlagContributor is any option group that can register its flags, like Config, the
// datamodules and the model hyperparameters.
type FlagContributor interface {
	AddFlags(fs *flag.FlagSet)
}
