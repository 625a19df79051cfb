// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sklearn

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearData returns n examples with features (i, 2i) and target 3i.
func linearData(n int) *Dataset {
	x := make([][]float32, n)
	y := make([]float32, n)
	for ii := range n {
		x[ii] = []float32{float32(ii), float32(2 * ii)}
		y[ii] = float32(3 * ii)
	}
	return must(NewDataset(x, y))
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func TestDataset(t *testing.T) {
	ds := linearData(4)
	assert.Equal(t, 4, ds.Len())
	x, y := ds.Get(2)
	assert.Equal(t, []float32{2, 4}, x)
	assert.Equal(t, []float32{6}, y)

	ds.WithTransforms(func(v []float32) []float32 { return append(slices.Clone(v), 1) },
		func(v []float32) []float32 { return []float32{v[0] / 3} })
	x, y = ds.Get(2)
	assert.Equal(t, []float32{2, 4, 1}, x)
	assert.Equal(t, []float32{2}, y)
	assert.Equal(t, 3, ds.NumFeatures())

	xT, yT, err := ds.Tensors([]int{3, 1})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 6, 1}, {1, 2, 1}}, xT.Value())
	assert.Equal(t, [][]float32{{3}, {1}}, yT.Value())

	_, err = NewDataset([][]float32{{1}, {2, 3}}, []float32{1, 2})
	require.Error(t, err)
	_, err = NewDataset([][]float32{{1}}, []float32{1, 2})
	require.Error(t, err)
}

func TestFromCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,target,b\n1,10,2.5\n3,20,4.5\n"), 0644))
	ds, err := FromCSV(path, "target")
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2.5}, {3, 4.5}}, ds.X)
	assert.Equal(t, []float32{10, 20}, ds.Y)

	require.NoError(t, os.WriteFile(path, []byte("a,target\nfoo,1\nbar,2\n"), 0644))
	_, err = FromCSV(path, "target")
	require.Error(t, err)
	_, err = FromCSV(path, "missing")
	require.Error(t, err)
}

func TestSplitIndices(t *testing.T) {
	dm := New(linearData(10), nil, nil)
	trainIdx, valIdx, testIdx, err := dm.SplitIndices()
	require.NoError(t, err)
	assert.Len(t, trainIdx, 7)
	assert.Len(t, valIdx, 2)
	assert.Len(t, testIdx, 1)
	all := slices.Concat(trainIdx, valIdx, testIdx)
	slices.Sort(all)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, all)

	// Same seed, same split.
	trainIdx2, _, _, err := dm.SplitIndices()
	require.NoError(t, err)
	assert.Equal(t, trainIdx, trainIdx2)

	// Without shuffling, hold-outs are taken from the start.
	dm.Shuffle = false
	trainIdx, valIdx, testIdx, err = dm.SplitIndices()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, valIdx)
	assert.Equal(t, []int{2}, testIdx)
	assert.Equal(t, 3, trainIdx[0])

	// Explicit validation set: only test is held out.
	dm = New(linearData(10), linearData(3), nil)
	trainIdx, valIdx, testIdx, err = dm.SplitIndices()
	require.NoError(t, err)
	assert.Len(t, trainIdx, 9)
	assert.Empty(t, valIdx)
	assert.Len(t, testIdx, 1)

	dm.TestSplit = 1.0
	_, _, _, err = dm.SplitIndices()
	require.Error(t, err)
}

func TestDataModule(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	dm := New(linearData(20), nil, linearData(5))
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	dm.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"-batch_size=4", "-val_split=0.25"}))
	require.NoError(t, dm.Setup(backend, "fit"))
	assert.Equal(t, []int{2}, dm.Dims())
	assert.Equal(t, 15, dm.Train.NumExamples())
	assert.Equal(t, 5, dm.Val.NumExamples())
	assert.Equal(t, 5, dm.Test.NumExamples())

	ds := dm.TrainDataset()
	numBatches := 0
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 2, inputs[0].Shape().Dimensions[1])
		assert.Equal(t, 1, labels[0].Shape().Dimensions[1])
		numBatches++
	}
	assert.Equal(t, 4, numBatches)

	require.Error(t, New(nil, nil, nil).Setup(backend, "fit"))
}
