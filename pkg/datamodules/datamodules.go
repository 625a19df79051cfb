// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datamodules gathers the datamodules under one import: the DataModule contract
// and every dataset adapter, each available by name.
//
// Example:
//
//	dm := datamodules.NewCIFAR10DataModule(datamodules.DefaultConfig())
//	if err := dm.PrepareData(); err != nil { ... }
//	if err := dm.Setup(backend, datamodules.StageFit); err != nil { ... }
//	ds := dm.TrainDataset()
package datamodules

import (
	"sort"

	"github.com/gomlx/bolts/pkg/datamodules/cifar10"
	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/bolts/pkg/datamodules/imagenet"
	"github.com/gomlx/bolts/pkg/datamodules/mnist"
	"github.com/gomlx/bolts/pkg/datamodules/sklearn"
	"github.com/gomlx/bolts/pkg/datamodules/srdata"
	"github.com/gomlx/bolts/pkg/datamodules/stl10"
	"github.com/pkg/errors"
)

type (
	// LightningDataModule is the contract every datamodule implements.
	LightningDataModule = datamodule.DataModule

	// Config holds the options shared by the datamodules.
	Config = datamodule.Config

	// Stage of training a datamodule is set up for.
	Stage = datamodule.Stage

	ImagenetDataModule = imagenet.DataModule
	CIFAR10DataModule  = cifar10.DataModule
	MNISTDataModule    = mnist.DataModule
	STL10DataModule    = stl10.DataModule
	STL10SRDataModule  = srdata.STL10DataModule
	SklearnDataset     = sklearn.Dataset
	SklearnDataModule  = sklearn.DataModule
)

const (
	StageFit      = datamodule.StageFit
	StageValidate = datamodule.StageValidate
	StageTest     = datamodule.StageTest
	StagePredict  = datamodule.StagePredict
)

// Constructors of the datamodules.
var (
	DefaultConfig = datamodule.DefaultConfig

	NewImagenetDataModule = imagenet.New
	NewCIFAR10DataModule  = cifar10.New
	NewMNISTDataModule    = mnist.New
	NewSTL10DataModule    = stl10.New
	NewSTL10SRDataModule  = srdata.NewSTL10
	NewSklearnDataset     = sklearn.NewDataset
	NewSklearnDataModule  = sklearn.New
)

// registry of the datamodules that can be created from a Config alone.
var registry = map[string]func(cfg Config) LightningDataModule{
	"imagenet": func(cfg Config) LightningDataModule { return imagenet.New(cfg) },
	"cifar10":  func(cfg Config) LightningDataModule { return cifar10.New(cfg) },
	"mnist":    func(cfg Config) LightningDataModule { return mnist.New(cfg) },
	"stl10":    func(cfg Config) LightningDataModule { return stl10.New(cfg) },
	"stl10_sr": func(cfg Config) LightningDataModule { return srdata.NewSTL10(cfg) },
}

// Names of the datamodules that can be created with New, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the datamodule with the given name. The sklearn datamodule is not available
// by name, since it needs the data.
func New(name string, cfg Config) (LightningDataModule, error) {
	ctor, found := registry[name]
	if !found {
		return nil, errors.Errorf("unknown datamodule %q, valid values are %q", name, Names())
	}
	return ctor(cfg), nil
}
