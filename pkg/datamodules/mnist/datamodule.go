// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mnist

import (
	"flag"

	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DataModule serves MNIST. Inputs are `[images]`, labels are `[digit]` (Int64, shaped `[batch, 1]`).
type DataModule struct {
	datamodule.Config
	datamodule.InMemorySplits
}

var _ datamodule.DataModule = (*DataModule)(nil)

// New creates the MNIST datamodule with the given options.
func New(cfg datamodule.Config) *DataModule {
	dm := &DataModule{Config: cfg}
	dm.InMemorySplits = datamodule.NewInMemorySplits(&dm.Config)
	return dm
}

// Name implements datamodule.DataModule.
func (dm *DataModule) Name() string { return "mnist" }

// Dims implements datamodule.DataModule.
func (dm *DataModule) Dims() []int { return []int{Height, Width, 1} }

// NumClasses in MNIST.
func (dm *DataModule) NumClasses() int { return NumClasses }

// AddFlags implements datamodule.DataModule.
func (dm *DataModule) AddFlags(fs *flag.FlagSet) { dm.Config.AddFlags(fs) }

// PrepareData implements datamodule.DataModule: it downloads the files.
func (dm *DataModule) PrepareData() error {
	return Download(dm.Dir())
}

// Setup implements datamodule.DataModule.
func (dm *DataModule) Setup(backend backends.Backend, stage datamodule.Stage) error {
	dataDir := dm.Dir()
	if stage == datamodule.StageFit || stage == datamodule.StageValidate {
		images, labels, err := LoadPartition(dataDir, TrainFiles, datamodule.DType)
		if err != nil {
			return err
		}
		if err = dm.normalize(images); err != nil {
			return err
		}
		err = dm.SplitTrainVal(backend, "MNIST", []*tensors.Tensor{images, labels}, 1, dm.ValSplit, dm.Seed)
		if err != nil {
			return err
		}
		klog.V(1).Infof("MNIST: %d training and %d validation examples", dm.Train.NumExamples(), numExamples(dm))
	}
	if stage == datamodule.StageTest {
		images, labels, err := LoadPartition(dataDir, TestFiles, datamodule.DType)
		if err != nil {
			return err
		}
		if err = dm.normalize(images); err != nil {
			return err
		}
		dm.Test, err = datamodule.FromTensors(backend, "MNIST test", []*tensors.Tensor{images, labels}, 1, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

func (dm *DataModule) normalize(images *tensors.Tensor) error {
	if !dm.Normalize {
		return nil
	}
	return errors.WithMessage(datamodule.NormalizeChannels(images, Mean, StdDev), "normalizing MNIST")
}

func numExamples(dm *DataModule) int {
	if dm.Val == nil {
		return 0
	}
	return dm.Val.NumExamples()
}
