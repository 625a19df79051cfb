// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cifar10

import (
	"flag"
	"path/filepath"

	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// DataModule serves CIFAR-10: 50,000 training images split into train and validation
// (Config.ValSplit), and 10,000 test images.
type DataModule struct {
	datamodule.Config
	datamodule.InMemorySplits
}

var _ datamodule.DataModule = (*DataModule)(nil)

// New creates the CIFAR-10 datamodule with the given options.
func New(cfg datamodule.Config) *DataModule {
	dm := &DataModule{Config: cfg}
	dm.InMemorySplits = datamodule.NewInMemorySplits(&dm.Config)
	return dm
}

func (dm *DataModule) Name() string { return "cifar10" }

func (dm *DataModule) Dims() []int { return []int{Height, Width, Depth} }

func (dm *DataModule) NumClasses() int { return NumClasses }

func (dm *DataModule) AddFlags(fs *flag.FlagSet) { dm.Config.AddFlags(fs) }

// PrepareData downloads and untars the dataset.
func (dm *DataModule) PrepareData() error { return Download(dm.Dir()) }

func (dm *DataModule) load(files []string) (images, labels *tensors.Tensor, err error) {
	images, labels, err = Load(filepath.Join(dm.Dir(), Resource.ExtractedDir), files, datamodule.DType)
	if err == nil && dm.Normalize {
		err = errors.WithMessage(datamodule.NormalizeChannels(images, Mean, StdDev), "normalizing CIFAR-10")
	}
	return
}

// Setup implements datamodule.DataModule.
func (dm *DataModule) Setup(backend backends.Backend, stage datamodule.Stage) error {
	switch stage {
	case datamodule.StageFit, datamodule.StageValidate:
		images, labels, err := dm.load(TrainFiles)
		if err != nil {
			return err
		}
		return dm.SplitTrainVal(backend, "CIFAR-10", []*tensors.Tensor{images, labels}, 1, dm.ValSplit, dm.Seed)
	case datamodule.StageTest:
		images, labels, err := dm.load(TestFiles)
		if err != nil {
			return err
		}
		dm.Test, err = datamodule.FromTensors(backend, "CIFAR-10 test", []*tensors.Tensor{images, labels}, 1, nil)
		return err
	}
	return nil
}
