// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datamodules

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	assert.Equal(t, []string{"cifar10", "imagenet", "mnist", "stl10", "stl10_sr"}, Names())
	for _, name := range Names() {
		dm, err := New(name, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, name, dm.Name())
		// Every datamodule must register its flags without conflicts.
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		dm.AddFlags(fs)
		assert.NotNil(t, fs.Lookup("batch_size"), name)
		// Nothing is available before Setup.
		assert.Nil(t, dm.TrainDataset(), name)
		assert.Nil(t, dm.TestDataset(), name)
	}
	_, err := New("unknown", DefaultConfig())
	require.Error(t, err)
}

func TestAliases(t *testing.T) {
	var dm LightningDataModule = NewCIFAR10DataModule(DefaultConfig())
	_, ok := dm.(*CIFAR10DataModule)
	assert.True(t, ok)
	assert.Equal(t, []int{28, 28, 1}, NewMNISTDataModule(DefaultConfig()).Dims())
	assert.Equal(t, []int{96, 96, 3}, NewSTL10DataModule(DefaultConfig()).Dims())
	assert.Equal(t, []int{224, 224, 3}, NewImagenetDataModule(DefaultConfig()).Dims())

	ds, err := NewSklearnDataset([][]float32{{1, 2}, {3, 4}}, []float32{0, 1})
	require.NoError(t, err)
	var sk LightningDataModule = NewSklearnDataModule(ds, nil, nil)
	assert.Equal(t, []int{2}, sk.Dims())
	assert.Equal(t, StageFit, Stage("fit"))
}
