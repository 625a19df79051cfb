// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datamodule

import (
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// SplitIndices randomly splits the indices 0..n-1 into a training part and a validation part
// with valSize elements. The split only depends on seed.
//
// valSize must be in [0, n].
func SplitIndices(n, valSize int, seed int64) (trainIdx, valIdx []int, err error) {
	if valSize < 0 || valSize > n {
		return nil, nil, errors.Errorf("validation split of %d examples is invalid for a dataset with %d examples",
			valSize, n)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[:n-valSize], perm[n-valSize:], nil
}

// GatherExamples returns a new tensor with the examples (indices on the leading axis) of t,
// in the order given. It works on the raw bytes, so any dtype is accepted.
func GatherExamples(t *tensors.Tensor, indices []int) (*tensors.Tensor, error) {
	shape := t.Shape()
	if shape.Rank() == 0 {
		return nil, errors.Errorf("cannot gather examples from scalar tensor")
	}
	numExamples := shape.Dimensions[0]
	dims := append([]int{len(indices)}, shape.Dimensions[1:]...)
	gathered := tensors.FromShape(shapes.Make(shape.DType, dims...))
	if len(indices) == 0 {
		return gathered, nil
	}
	exampleBytes := int(shape.Memory()) / max(numExamples, 1)
	var writeErr, indexErr error
	err := t.ConstBytes(func(from []byte) {
		writeErr = gathered.MutableBytes(func(to []byte) {
			for ii, idx := range indices {
				if idx < 0 || idx >= numExamples {
					indexErr = errors.Errorf("index %d out of range for %d examples", idx, numExamples)
					return
				}
				copy(to[ii*exampleBytes:(ii+1)*exampleBytes], from[idx*exampleBytes:(idx+1)*exampleBytes])
			}
		})
	})
	if err == nil {
		err = writeErr
	}
	if err == nil {
		err = indexErr
	}
	if err != nil {
		gathered.MustFinalizeAll()
		return nil, err
	}
	return gathered, nil
}

// NormalizeChannels normalizes in place a float32 tensor whose last axis is the channels axis:
// each channel c becomes `(x - mean[c]) / std[c]`.
func NormalizeChannels(t *tensors.Tensor, mean, std []float32) error {
	numChannels := t.Shape().Dimensions[t.Rank()-1]
	if len(mean) != numChannels || len(std) != numChannels {
		return errors.Errorf("normalization given for %d/%d channels, but tensor %s has %d channels",
			len(mean), len(std), t.Shape(), numChannels)
	}
	return tensors.MutableFlatData[float32](t, func(flat []float32) {
		for ii := range flat {
			c := ii % numChannels
			flat[ii] = (flat[ii] - mean[c]) / std[c]
		}
	})
}
