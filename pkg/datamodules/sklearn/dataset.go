// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sklearn adapts tabular data held in memory (features X and targets y, the way
// scikit-learn datasets are shaped) to datamodules.
package sklearn

import (
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Transform applied to the features or the target of one example.
type Transform func(values []float32) []float32

// Dataset holds X (one row of features per example) and y (one target per example).
type Dataset struct {
	X [][]float32
	Y []float32

	XTransform, YTransform Transform
}

// NewDataset validates that X and y have the same number of examples and that all rows of
// X have the same number of features.
func NewDataset(x [][]float32, y []float32) (*Dataset, error) {
	if len(x) != len(y) {
		return nil, errors.Errorf("X has %d examples, but y has %d", len(x), len(y))
	}
	for ii, row := range x {
		if len(row) != len(x[0]) {
			return nil, errors.Errorf("X row %d has %d features, but row 0 has %d", ii, len(row), len(x[0]))
		}
	}
	return &Dataset{X: x, Y: y}, nil
}

// WithTransforms sets the transformations applied by Get. Either can be nil.
func (ds *Dataset) WithTransforms(xTransform, yTransform Transform) *Dataset {
	ds.XTransform, ds.YTransform = xTransform, yTransform
	return ds
}

// Len returns the number of examples.
func (ds *Dataset) Len() int { return len(ds.X) }

// NumFeatures is the number of features per example, after XTransform.
func (ds *Dataset) NumFeatures() int {
	if ds.Len() == 0 {
		return 0
	}
	x, _ := ds.Get(0)
	return len(x)
}

// Get returns the transformed features and target of example idx.
func (ds *Dataset) Get(idx int) (x, y []float32) {
	x = ds.X[idx]
	y = []float32{ds.Y[idx]}
	if ds.XTransform != nil {
		x = ds.XTransform(x)
	}
	if ds.YTransform != nil {
		y = ds.YTransform(y)
	}
	return
}

// Tensors builds the transformed examples in indices (all if nil) as a features tensor
// shaped `[n, num_features]` and a targets tensor shaped `[n, num_targets]`.
func (ds *Dataset) Tensors(indices []int) (x, y *tensors.Tensor, err error) {
	if indices == nil {
		indices = make([]int, ds.Len())
		for ii := range indices {
			indices[ii] = ii
		}
	}
	if len(indices) == 0 {
		return nil, nil, errors.New("no examples to convert to tensors")
	}
	x0, y0 := ds.Get(indices[0])
	xFlat := make([]float32, 0, len(indices)*len(x0))
	yFlat := make([]float32, 0, len(indices)*len(y0))
	for _, idx := range indices {
		xRow, yRow := ds.Get(idx)
		if len(xRow) != len(x0) || len(yRow) != len(y0) {
			return nil, nil, errors.Errorf("example %d transformed to %d features and %d targets, expected %d and %d",
				idx, len(xRow), len(yRow), len(x0), len(y0))
		}
		xFlat = append(xFlat, xRow...)
		yFlat = append(yFlat, yRow...)
	}
	x = tensors.FromShape(shapes.Make(datamodule.DType, len(indices), len(x0)))
	tensors.MustMutableFlatData[float32](x, func(flat []float32) { copy(flat, xFlat) })
	y = tensors.FromShape(shapes.Make(datamodule.DType, len(indices), len(y0)))
	tensors.MustMutableFlatData[float32](y, func(flat []float32) { copy(flat, yFlat) })
	return x, y, nil
}

// FromCSV loads a CSV file with a header: the targetColumn becomes y, and every other
// column a feature. All columns must be numeric.
func FromCSV(path, targetColumn string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening CSV file")
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f, dataframe.HasHeader(true), dataframe.DefaultType(series.Float))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "parsing CSV file %q", path)
	}
	target := df.Col(targetColumn)
	if target.Err != nil {
		return nil, errors.Wrapf(target.Err, "CSV file %q", path)
	}
	features := df.Drop(targetColumn)
	columns := make([][]float64, features.Ncol())
	for colIdx, name := range features.Names() {
		col := features.Col(name)
		if (col.Type() != series.Float && col.Type() != series.Int) || col.HasNaN() {
			return nil, errors.Errorf("CSV file %q: column %q has missing or non-numeric values", path, name)
		}
		columns[colIdx] = col.Float()
	}
	if (target.Type() != series.Float && target.Type() != series.Int) || target.HasNaN() {
		return nil, errors.Errorf("CSV file %q: target column %q has missing or non-numeric values", path, targetColumn)
	}
	n := df.Nrow()
	x := make([][]float32, n)
	y := make([]float32, n)
	for row, value := range target.Float() {
		y[row] = float32(value)
		x[row] = make([]float32, len(columns))
		for colIdx, col := range columns {
			x[row][colIdx] = float32(col[row])
		}
	}
	return NewDataset(x, y)
}
