// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sklearn

import (
	"flag"
	"math"
	"math/rand"

	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DataModule serves a Dataset split in train, validation and test. Inputs are `[x]` and
// labels `[y]`.
//
// Explicitly given validation or test datasets are used as is. Otherwise, after an optional
// shuffle, the first ValSplit+TestSplit fraction of the examples are held out: validation
// first, test after.
type DataModule struct {
	datamodule.Config
	datamodule.InMemorySplits

	// ValSplit and TestSplit are the fractions of the data held out, if no explicit
	// validation or test datasets are given.
	ValSplit, TestSplit float64

	// RandomState seeds the shuffling of the data.
	RandomState int64

	data, valData, testData *Dataset
}

var _ datamodule.DataModule = (*DataModule)(nil)

// New creates a datamodule for data. valData and testData are optional (nil) explicit
// validation and test datasets.
func New(data, valData, testData *Dataset) *DataModule {
	dm := &DataModule{
		Config:      datamodule.DefaultConfig(),
		ValSplit:    0.2,
		TestSplit:   0.1,
		RandomState: 1234,
		data:        data,
		valData:     valData,
		testData:    testData,
	}
	dm.BatchSize = 16
	dm.InMemorySplits = datamodule.NewInMemorySplits(&dm.Config)
	return dm
}

// Name implements datamodule.DataModule.
func (dm *DataModule) Name() string { return "sklearn" }

// Dims implements datamodule.DataModule: the number of features.
func (dm *DataModule) Dims() []int { return []int{dm.data.NumFeatures()} }

// PrepareData implements datamodule.DataModule: data is already in memory.
func (dm *DataModule) PrepareData() error { return nil }

// AddFlags implements datamodule.DataModule.
func (dm *DataModule) AddFlags(fs *flag.FlagSet) {
	fs.IntVar(&dm.BatchSize, "batch_size", dm.BatchSize, "Number of examples per batch.")
	fs.Float64Var(&dm.ValSplit, "val_split", dm.ValSplit, "Fraction of the examples held out for validation.")
	fs.Float64Var(&dm.TestSplit, "test_split", dm.TestSplit, "Fraction of the examples held out for test.")
	fs.Int64Var(&dm.RandomState, "random_state", dm.RandomState, "Seed for shuffling the data.")
	fs.BoolVar(&dm.Shuffle, "shuffle", dm.Shuffle, "Shuffle the data before splitting, and the train split every epoch.")
	fs.BoolVar(&dm.DropLast, "drop_last", dm.DropLast, "Drop the last incomplete training batch.")
	fs.IntVar(&dm.NumWorkers, "num_workers", dm.NumWorkers, "Number of goroutines preparing batches in the background.")
}

// SplitIndices returns the indices of the train, validation and test examples of the data.
func (dm *DataModule) SplitIndices() (trainIdx, valIdx, testIdx []int, err error) {
	valSplit, testSplit := dm.ValSplit, dm.TestSplit
	if dm.valData != nil {
		valSplit = 0
	}
	if dm.testData != nil {
		testSplit = 0
	}
	if valSplit < 0 || testSplit < 0 || valSplit+testSplit >= 1 {
		return nil, nil, nil, errors.Errorf("invalid val_split=%g and test_split=%g: they must be >= 0 and sum < 1",
			valSplit, testSplit)
	}
	n := dm.data.Len()
	order := make([]int, n)
	for ii := range order {
		order[ii] = ii
	}
	if dm.Shuffle {
		rand.New(rand.NewSource(dm.RandomState)).Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	holdOut := valSplit + testSplit
	if holdOut == 0 {
		return order, []int{}, []int{}, nil
	}
	holdOutSize := int(math.Floor(float64(n) * holdOut))
	testStart := int(math.Round(valSplit / holdOut * float64(holdOutSize)))
	return order[holdOutSize:], order[:testStart], order[testStart:holdOutSize], nil
}

// build the split with the examples in indices, or all examples of ds if indices is nil.
// An empty split is returned as nil.
func (dm *DataModule) build(backend backends.Backend, name string, ds *Dataset, indices []int) (*datasets.InMemoryDataset, error) {
	if indices != nil && len(indices) == 0 {
		return nil, nil
	}
	x, y, err := ds.Tensors(indices)
	if err != nil {
		return nil, errors.WithMessagef(err, "building %s split", name)
	}
	return datamodule.FromTensors(backend, "sklearn "+name, []*tensors.Tensor{x, y}, 1, nil)
}

// Setup implements datamodule.DataModule. All splits are built at once, whatever the stage.
func (dm *DataModule) Setup(backend backends.Backend, _ datamodule.Stage) error {
	if dm.data == nil || dm.data.Len() == 0 {
		return errors.New("sklearn datamodule has no data")
	}
	dm.Seed = dm.RandomState
	trainIdx, valIdx, testIdx, err := dm.SplitIndices()
	if err != nil {
		return err
	}
	if dm.Train, err = dm.build(backend, "train", dm.data, trainIdx); err != nil {
		return err
	}
	if dm.valData != nil {
		dm.Val, err = dm.build(backend, "validation", dm.valData, nil)
	} else {
		dm.Val, err = dm.build(backend, "validation", dm.data, valIdx)
	}
	if err != nil {
		return err
	}
	if dm.testData != nil {
		dm.Test, err = dm.build(backend, "test", dm.testData, nil)
	} else {
		dm.Test, err = dm.build(backend, "test", dm.data, testIdx)
	}
	if err != nil {
		return err
	}
	klog.V(1).Infof("sklearn: %d train, %d validation and %d test examples",
		numExamples(dm.Train), numExamples(dm.Val), numExamples(dm.Test))
	return nil
}

func numExamples(mds *datasets.InMemoryDataset) int {
	if mds == nil {
		return 0
	}
	return mds.NumExamples()
}
