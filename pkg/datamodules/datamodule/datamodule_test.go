// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datamodule

import (
	"flag"
	"image"
	"image/color"
	"io"
	"math/rand"
	"sort"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitIndices(t *testing.T) {
	trainIdx, valIdx, err := SplitIndices(100, 20, 42)
	require.NoError(t, err)
	assert.Len(t, trainIdx, 80)
	assert.Len(t, valIdx, 20)

	all := append(append([]int{}, trainIdx...), valIdx...)
	sort.Ints(all)
	for ii, v := range all {
		require.Equal(t, ii, v)
	}

	// Same seed, same split.
	trainIdx2, valIdx2, err := SplitIndices(100, 20, 42)
	require.NoError(t, err)
	assert.Equal(t, trainIdx, trainIdx2)
	assert.Equal(t, valIdx, valIdx2)

	_, _, err = SplitIndices(10, 11, 0)
	require.Error(t, err)
}

func TestGatherExamples(t *testing.T) {
	src := tensors.FromValue([][]float32{{0, 1}, {10, 11}, {20, 21}})
	got, err := GatherExamples(src, []int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{20, 21}, {0, 1}}, got.Value())

	_, err = GatherExamples(src, []int{3})
	require.Error(t, err)
}

func TestNormalizeChannels(t *testing.T) {
	x := tensors.FromValue([][]float32{{1, 10}, {3, 30}})
	require.NoError(t, NormalizeChannels(x, []float32{1, 10}, []float32{2, 10}))
	assert.Equal(t, [][]float32{{0, 0}, {1, 2}}, x.Value())
	require.Error(t, NormalizeChannels(x, []float32{1}, []float32{1}))
}

func TestConfigFlags(t *testing.T) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"-batch_size=7", "-val_split=3", "-shuffle=false"}))
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, 3, cfg.ValSplit)
	assert.False(t, cfg.Shuffle)
	assert.Equal(t, int64(42), cfg.Seed)
}

// grayImages is an ImageSource of 2x2 images with a constant gray level equal to the index.
type grayImages int

func (n grayImages) Len() int { return int(n) }

func (n grayImages) Image(idx int) (image.Image, error) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	for ii := range img.Pix {
		img.Pix[ii] = uint8(idx)
	}
	return img, nil
}

func (n grayImages) Label(idx int) int { return idx % 3 }

func TestImageDataset(t *testing.T) {
	ds := NewImageDataset("gray", grayImages(5), nil).BatchSize(2, false)
	var gotLabels []int64
	numBatches := 0
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		numBatches++
		require.Len(t, inputs, 1)
		require.Len(t, labels, 1)
		batchSize := inputs[0].Shape().Dimensions[0]
		assert.Equal(t, []int{batchSize, 2, 2, 3}, inputs[0].Shape().Dimensions)
		for _, row := range labels[0].Value().([][]int64) {
			gotLabels = append(gotLabels, row[0])
		}
	}
	assert.Equal(t, 3, numBatches)
	assert.Equal(t, []int64{0, 1, 2, 0, 1}, gotLabels)

	// Drop last incomplete batch, and it must be repeatable after Reset.
	ds = NewImageDataset("gray", grayImages(5), []int{0, 1, 2}).BatchSize(2, true).Shuffle(7)
	for range 2 {
		_, _, _, err := ds.Yield()
		require.NoError(t, err)
		_, _, _, err = ds.Yield()
		require.ErrorIs(t, err, io.EOF)
		ds.Reset()
	}
}

func TestImageDatasetTransform(t *testing.T) {
	var calls int
	ds := NewImageDataset("gray", grayImages(2), nil).
		BatchSize(2, false).
		Transform(func(img image.Image, rng *rand.Rand) image.Image {
			calls++
			out := image.NewNRGBA(image.Rect(0, 0, 1, 1))
			out.Set(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
			return out
		})
	_, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, [][][][]float32{{{{1, 0, 0}}}, {{{1, 0, 0}}}}, inputs[0].Value())
}
