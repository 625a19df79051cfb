// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagenet

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFolder creates numPerClass images of 40x30 for each class under dir.
func writeFolder(t *testing.T, dir string, classes []string, numPerClass int) {
	for classIdx, class := range classes {
		classDir := filepath.Join(dir, class)
		require.NoError(t, os.MkdirAll(classDir, 0777))
		for ii := range numPerClass {
			img := imaging.New(40, 30, color.NRGBA{R: uint8(classIdx * 50), G: uint8(ii), A: 255})
			require.NoError(t, imaging.Save(img, filepath.Join(classDir, fmt.Sprintf("img_%03d.png", ii))))
		}
	}
	// Files that are not images are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, classes[0], "README.txt"), []byte("x"), 0644))
}

func TestFolder(t *testing.T) {
	dir := t.TempDir()
	writeFolder(t, dir, []string{"n02", "n01"}, 5)
	f, err := OpenFolder(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"n01", "n02"}, f.Classes)
	assert.Equal(t, 10, f.Len())
	assert.Equal(t, 0, f.Label(0))
	assert.Equal(t, 1, f.Label(9))
	img, err := f.Image(9)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())

	trainIdx, valIdx, err := f.SplitPerClass(2, 7)
	require.NoError(t, err)
	assert.Len(t, trainIdx, 6)
	assert.Len(t, valIdx, 4)
	perClass := map[int]int{}
	for _, idx := range valIdx {
		perClass[f.Label(idx)]++
	}
	assert.Equal(t, map[int]int{0: 2, 1: 2}, perClass)

	_, _, err = f.SplitPerClass(5, 7)
	require.Error(t, err)
	_, err = OpenFolder(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestDataModule(t *testing.T) {
	dir := t.TempDir()
	classes := []string{"n01", "n02", "n03"}
	writeFolder(t, filepath.Join(dir, "train"), classes, 4)
	writeFolder(t, filepath.Join(dir, "val"), classes, 1)

	cfg := datamodule.DefaultConfig()
	cfg.DataDir = dir
	cfg.BatchSize = 3
	cfg.Normalize = true
	dm := New(cfg)
	dm.ImageSize = 16
	dm.NumImgsPerValClass = 1
	require.NoError(t, dm.PrepareData())
	require.NoError(t, dm.Setup(nil, datamodule.StageFit))
	require.NoError(t, dm.Setup(nil, datamodule.StageTest))
	assert.Equal(t, classes, dm.Classes())
	assert.Equal(t, []int{16, 16, 3}, dm.Dims())

	_, inputs, labels, err := dm.TrainDataset().Yield()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 16, 16, 3}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{3, 1}, labels[0].Shape().Dimensions)

	_, inputs, _, err = dm.TestDataset().Yield()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 16, 16, 3}, inputs[0].Shape().Dimensions)

	// Missing folders.
	dm.DataDir = t.TempDir()
	require.Error(t, dm.PrepareData())
}
