// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// srresnet trains SRResNet on pairs of STL-10 crops and their downscaled versions, and saves
// the trained network in the working directory (or -artifact_dir).
//
// Usage:
//
//	srresnet [flags]
//
// Run "srresnet -help" for the list of flags. Hyperparameters of the model can also be given
// with -set, e.g. -set="learning_rate=3e-4;num_res_blocks=8".
package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"

	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/bolts/pkg/datamodules/srdata"
	"github.com/gomlx/bolts/pkg/fit"
	"github.com/gomlx/bolts/pkg/models/srgan"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// seed of the model random number generator, and default -seed of the datamodule.
const seed = 1234

// pairsDataModule serves [hr, lr] image pairs.
type pairsDataModule interface {
	datamodule.DataModule

	// LRDims are the dimensions of the low resolution images.
	LRDims() []int

	// Validate the image sizes configured with flags.
	Validate() error
}

var newDataModule = func(cfg datamodule.Config) pairsDataModule {
	return srdata.NewSTL10(cfg)
}

// usageError is returned by run for invalid command lines.
type usageError struct {
	error
}

func main() {
	err := run(os.Args[1:])
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case errors.As(err, new(usageError)):
		// The flag package already printed the error and usage.
		os.Exit(2)
	default:
		klog.Exitf("srresnet: %+v", err)
	}
}

func run(args []string) error {
	ctx := context.New()
	ctx.RngStateFromSeed(seed)

	dmConfig := datamodule.DefaultConfig()
	dmConfig.Seed = seed
	dm := newDataModule(dmConfig)
	if closer, ok := dm.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	cfg := fit.DefaultConfig()
	hp := srgan.DefaultHParams()
	parser := fit.NewArgumentParser("srresnet").Add(dm, &cfg, &hp)
	logInterval := parser.Int("log_interval", 1000, "Period, in training steps, of the upscaled sample images.")
	artifactDir := parser.String("artifact_dir", ".", "Directory where the trained network is saved.")
	klog.InitFlags(parser.FlagSet)
	if err := parser.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err}
	}
	if parser.NArg() > 0 {
		err := errors.Errorf("unexpected arguments %q", parser.Args())
		parser.Usage()
		return usageError{err}
	}

	if err := dm.Validate(); err != nil {
		parser.Usage()
		return usageError{err}
	}
	// The scale factor is owned by the datamodule.
	hp.ScaleFactor = dm.Dims()[0] / dm.LRDims()[0]
	hp.SetContext(ctx)
	if _, err := parser.ApplySettings(ctx); err != nil {
		return usageError{err}
	}
	hp = srgan.HParamsFromContext(ctx)
	if hp.ScaleFactor*dm.LRDims()[0] != dm.Dims()[0] {
		return usageError{errors.Errorf("-set %s=%d doesn't match the datamodule images (%v from %v), use -%s instead",
			srgan.ParamScaleFactor, hp.ScaleFactor, dm.Dims(), dm.LRDims(), srgan.ParamScaleFactor)}
	}
	model, err := srgan.New(ctx, hp)
	if err != nil {
		return usageError{err}
	}
	klog.V(1).Infof("hyperparameters: %+v", hp)

	trainer := fit.NewTrainer(cfg, srgan.NewImageLogger(*logInterval, hp.ScaleFactor))
	if err = trainer.Fit(model, dm); err != nil {
		return err
	}

	dir := fsutil.MustReplaceTildeInDir(*artifactDir)
	if err = os.MkdirAll(dir, 0777); err != nil {
		return errors.Wrapf(err, "failed to create %q", dir)
	}
	path := filepath.Join(dir, srgan.ArtifactName(cfg.MaxEpochs, trainer.GlobalStep()))
	if err = model.Save(path); err != nil {
		return err
	}
	klog.Infof("saved trained network to %s", path)
	return nil
}
