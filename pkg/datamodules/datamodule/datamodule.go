// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datamodule defines the DataModule contract: a dataset bundled with its download,
// split and batching logic, exposed as train.Dataset values for each stage of training.
//
// It also holds the options shared by every datamodule (Config) and the helpers used to
// split and batch examples.
package datamodule

import (
	"flag"
	"math/rand"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gopjrt/dtypes"
)

// Stage for which a DataModule is being set up.
type Stage string

const (
	StageFit      Stage = "fit"
	StageValidate Stage = "validate"
	StageTest     Stage = "test"
	StagePredict  Stage = "predict"
)

// DataModule bundles the loading, splitting and batching of a dataset.
//
// PrepareData is called once to download or generate whatever is needed on disk. Setup then
// loads the splits needed for the stage. The *Dataset methods return nil for splits that are
// not available.
type DataModule interface {
	// Name of the datamodule, used in logs and dataset names.
	Name() string

	// PrepareData downloads and caches the raw files. It must be idempotent.
	PrepareData() error

	// Setup loads the splits for the given stage. Tensors are created with backend.
	Setup(backend backends.Backend, stage Stage) error

	TrainDataset() train.Dataset
	ValDataset() train.Dataset
	TestDataset() train.Dataset

	// Dims returns the shape of one example (for images `[height, width, channels]`).
	Dims() []int

	// AddFlags registers the datamodule options in fs.
	AddFlags(fs *flag.FlagSet)
}

// DType used by all datamodules for the generated float tensors.
var DType = dtypes.Float32

// Config holds the options shared by the datamodules.
type Config struct {
	// DataDir where datasets are downloaded and cached. "~" is expanded.
	DataDir string

	BatchSize int

	// ValSplit is the number of training examples held out for validation.
	ValSplit int

	// Seed used for the train/validation split and for shuffling.
	Seed int64

	// NumWorkers > 0 prefetches/generates batches in that many goroutines.
	NumWorkers int

	// Shuffle the training split every epoch.
	Shuffle bool

	// DropLast drops the last incomplete training batch.
	DropLast bool

	// Normalize images with the dataset's per-channel mean and standard deviation.
	Normalize bool
}

// DefaultConfig returns the default shared options.
func DefaultConfig() Config {
	return Config{
		DataDir:   "~/work/bolts",
		BatchSize: 32,
		ValSplit:  5000,
		Seed:      42,
		Shuffle:   true,
	}
}

// AddFlags registers the shared options in fs, using the current values as defaults.
func (c *Config) AddFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DataDir, "data_dir", c.DataDir, "Directory where datasets are downloaded and cached.")
	fs.IntVar(&c.BatchSize, "batch_size", c.BatchSize, "Number of examples per batch.")
	fs.IntVar(&c.ValSplit, "val_split", c.ValSplit, "Number of training examples held out for validation.")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "Seed for the validation split and shuffling.")
	fs.IntVar(&c.NumWorkers, "num_workers", c.NumWorkers,
		"Number of goroutines preparing batches in the background. 0 prepares them synchronously.")
	fs.BoolVar(&c.Shuffle, "shuffle", c.Shuffle, "Shuffle the training data every epoch.")
	fs.BoolVar(&c.DropLast, "drop_last", c.DropLast, "Drop the last incomplete training batch.")
	fs.BoolVar(&c.Normalize, "normalize", c.Normalize, "Normalize images with the dataset mean and standard deviation.")
}

// Dir returns DataDir with "~" expanded.
func (c *Config) Dir() string {
	return fsutil.MustReplaceTildeInDir(c.DataDir)
}

// Rand returns a new random number generator seeded with c.Seed plus offset, so different
// uses of the seed don't share a stream.
func (c *Config) Rand(offset int64) *rand.Rand {
	return rand.New(rand.NewSource(c.Seed + offset))
}

// TrainLoader configures a copy of mds for training: batched, optionally shuffled, and
// read ahead when NumWorkers > 0.
func (c *Config) TrainLoader(mds *datasets.InMemoryDataset) train.Dataset {
	ds := mds.Copy().BatchSize(c.BatchSize, c.DropLast)
	if c.Shuffle {
		ds.WithRand(c.Rand(1)).Shuffle()
	}
	return c.readAhead(ds)
}

// EvalLoader configures a copy of mds for evaluation: batched in order, keeping the last
// incomplete batch.
func (c *Config) EvalLoader(mds *datasets.InMemoryDataset) train.Dataset {
	return c.readAhead(mds.Copy().BatchSize(c.BatchSize, false))
}

func (c *Config) readAhead(ds train.Dataset) train.Dataset {
	if c.NumWorkers <= 0 {
		return ds
	}
	return datasets.ReadAhead(ds, c.NumWorkers)
}

// Parallel wraps a thread-safe dataset that does per-example work in Go (decoding, cropping)
// so batches are generated by NumWorkers goroutines.
func (c *Config) Parallel(ds train.Dataset) train.Dataset {
	if c.NumWorkers <= 0 {
		return ds
	}
	return datasets.CustomParallel(ds).Parallelism(c.NumWorkers).Buffer(c.NumWorkers).Start()
}
