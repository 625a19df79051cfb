// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/bolts/pkg/datamodules/srdata"
	"github.com/gomlx/bolts/pkg/models/srgan"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grayImages is an ImageSource of n 16x16 images of increasing gray levels.
type grayImages int

func (n grayImages) Len() int { return int(n) }

func (n grayImages) Image(idx int) (image.Image, error) {
	v := uint8(20 * idx)
	return imaging.New(16, 16, color.NRGBA{R: v, G: v / 2, B: 255 - v, A: 255}), nil
}

// testPairs is a datamodule of numImages 16x16 images paired with their 8x8 versions.
type testPairs struct {
	numImages int
	cfg       datamodule.Config
	trainDS   train.Dataset
	closed    bool
}

func (dm *testPairs) Name() string           { return "test_pairs" }
func (dm *testPairs) PrepareData() error     { return nil }
func (dm *testPairs) Dims() []int            { return []int{16, 16, 3} }
func (dm *testPairs) LRDims() []int          { return []int{8, 8, 3} }
func (dm *testPairs) AddFlags(*flag.FlagSet) {}
func (dm *testPairs) Validate() error        { return nil }
func (dm *testPairs) Close() error           { dm.closed = true; return nil }

func (dm *testPairs) ValDataset() train.Dataset   { return nil }
func (dm *testPairs) TestDataset() train.Dataset  { return nil }
func (dm *testPairs) TrainDataset() train.Dataset { return dm.trainDS }

func (dm *testPairs) Setup(backends.Backend, datamodule.Stage) error {
	var err error
	dm.trainDS, err = srdata.NewPairDataset(
		datamodule.NewImageDataset("test_pairs", grayImages(dm.numImages), nil).BatchSize(2, false),
		16, 2, true)
	return err
}

func withDataModule(t *testing.T, numImages int) *testPairs {
	dm := &testPairs{numImages: numImages}
	previous := newDataModule
	newDataModule = func(cfg datamodule.Config) pairsDataModule {
		dm.cfg = cfg
		return dm
	}
	t.Cleanup(func() { newDataModule = previous })
	return dm
}

func testArgs(dir string, extra ...string) []string {
	return append([]string{
		"-default_root_dir=" + dir,
		"-artifact_dir=" + filepath.Join(dir, "artifacts"),
		"-max_epochs=1",
		"-enable_progress_bar=false",
		"-enable_model_summary=false",
		"-feature_maps=4",
		"-num_res_blocks=1",
	}, extra...)
}

func TestRun(t *testing.T) {
	dm := withDataModule(t, 4)
	dir := t.TempDir()
	require.NoError(t, run(testArgs(dir, "-log_interval=1", "-set=learning_rate=0.001")))
	assert.Equal(t, int64(seed), dm.cfg.Seed)
	assert.True(t, dm.closed)

	path := filepath.Join(dir, "artifacts", "srresnet-epoch=1-step=2.pt")
	model := must.M1(srgan.Load(path))
	hp := model.HParams()
	assert.Equal(t, 4, hp.FeatureMaps)
	assert.Equal(t, 2, hp.ScaleFactor)
	assert.Equal(t, 0.001, hp.LearningRate)

	runs, err := filepath.Glob(filepath.Join(dir, "lightning_logs", "version_*", "images", "sr-step=*.png"))
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunWithoutBatches(t *testing.T) {
	withDataModule(t, 0)
	dir := t.TempDir()
	require.NoError(t, run(testArgs(dir)))
	// The untrained network is saved all the same.
	_, err := os.Stat(filepath.Join(dir, "artifacts", "srresnet-epoch=1-step=0.pt"))
	require.NoError(t, err)
}

func TestRunUsage(t *testing.T) {
	withDataModule(t, 1)
	dir := t.TempDir()
	for _, args := range [][]string{
		{"-no_such_flag"},
		testArgs(dir, "extra_argument"),
		testArgs(dir, "-set=no_such_param=1"),
		testArgs(dir, "-set=scale_factor=4"),
		testArgs(dir, "-feature_maps=0"),
	} {
		err := run(args)
		require.Error(t, err, "args=%q", args)
		assert.True(t, errors.As(err, new(usageError)), "args=%q: %v", args, err)
	}
	assert.ErrorIs(t, run([]string{"-help"}), flag.ErrHelp)
}

func TestRunInvalidScaleFactor(t *testing.T) {
	previous := newDataModule
	var dm *srdata.STL10DataModule
	newDataModule = func(cfg datamodule.Config) pairsDataModule {
		dm = srdata.NewSTL10(cfg)
		return dm
	}
	t.Cleanup(func() { newDataModule = previous })

	dir := t.TempDir()
	for _, flag := range []string{"-scale_factor=0", "-scale_factor=200", "-scale_factor=5", "-hr_image_size=0"} {
		err := run(testArgs(dir, "-data_dir="+filepath.Join(dir, "data"), flag))
		require.Error(t, err, flag)
		assert.True(t, errors.As(err, new(usageError)), "%s: %v", flag, err)
	}
	// The datamodule seed follows the model seed unless -seed is given.
	assert.Equal(t, int64(seed), dm.Seed)
	require.Error(t, run(testArgs(dir, "-seed=7", "-scale_factor=0")))
	assert.Equal(t, int64(7), dm.Seed)

	// Nothing was downloaded or trained.
	_, err := os.Stat(filepath.Join(dir, "data"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "artifacts"))
	assert.True(t, os.IsNotExist(err))
}
