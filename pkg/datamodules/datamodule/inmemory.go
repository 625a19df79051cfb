// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datamodule

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// InMemorySplits holds the unbatched train/validation/test splits of a dataset that fits in
// memory, and serves them batched according to Config.
//
// Datamodules embed it to implement the TrainDataset, ValDataset and TestDataset methods.
type InMemorySplits struct {
	Train, Val, Test *datasets.InMemoryDataset
	cfg              *Config
}

// NewInMemorySplits returns empty splits that batch according to cfg.
func NewInMemorySplits(cfg *Config) InMemorySplits {
	return InMemorySplits{cfg: cfg}
}

// TrainDataset implements DataModule.
func (s *InMemorySplits) TrainDataset() train.Dataset {
	if s.Train == nil {
		return nil
	}
	return s.cfg.TrainLoader(s.Train)
}

// ValDataset implements DataModule.
func (s *InMemorySplits) ValDataset() train.Dataset {
	if s.Val == nil {
		return nil
	}
	return s.cfg.EvalLoader(s.Val)
}

// TestDataset implements DataModule.
func (s *InMemorySplits) TestDataset() train.Dataset {
	if s.Test == nil {
		return nil
	}
	return s.cfg.EvalLoader(s.Test)
}

// SplitTrainVal builds the Train and Val splits from the full training tensors: valSize
// examples, chosen by seed, go to validation. Tensors are not kept by the caller afterward.
func (s *InMemorySplits) SplitTrainVal(backend backends.Backend, name string, data []*tensors.Tensor,
	numInputs, valSize int, seed int64) error {
	if len(data) == 0 {
		return errors.Errorf("no data given to split %q", name)
	}
	n := data[0].Shape().Dimensions[0]
	trainIdx, valIdx, err := SplitIndices(n, valSize, seed)
	if err != nil {
		return errors.WithMessagef(err, "splitting %q", name)
	}
	s.Train, err = FromTensors(backend, name+" train", data, numInputs, trainIdx)
	if err != nil {
		return err
	}
	if len(valIdx) == 0 {
		s.Val = nil
		return nil
	}
	s.Val, err = FromTensors(backend, name+" validation", data, numInputs, valIdx)
	return err
}

// FromTensors creates an InMemoryDataset with the examples in indices (all if nil) of data.
// The first numInputs tensors are the inputs, the rest are labels.
func FromTensors(backend backends.Backend, name string, data []*tensors.Tensor, numInputs int,
	indices []int) (*datasets.InMemoryDataset, error) {
	parts := make([]any, len(data))
	for ii, t := range data {
		if indices == nil {
			parts[ii] = t
			continue
		}
		gathered, err := GatherExamples(t, indices)
		if err != nil {
			return nil, errors.WithMessagef(err, "building %q", name)
		}
		parts[ii] = gathered
	}
	mds, err := datasets.InMemoryFromData(backend, name, parts[:numInputs], parts[numInputs:])
	if err != nil {
		return nil, errors.WithMessagef(err, "building in-memory dataset %q", name)
	}
	return mds, nil
}
