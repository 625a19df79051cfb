// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package srgan

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bolts/pkg/fit"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImagesDirName is the directory under the run directory where ImageLogger writes.
const ImagesDirName = "images"

// ImageLogger is a fit.Callback that periodically writes a PNG with a few samples upscaled
// by the model being trained. Each sample is a row with the low resolution image (enlarged
// with nearest neighbor), the model output and the high resolution original.
//
// Samples are taken from the first validation batch, or from the first training batch if
// there is no validation data.
type ImageLogger struct {
	logInterval, scaleFactor, numSamples int

	trainer *fit.Trainer
	hr, lr  *tensors.Tensor
	exec    *context.Exec
}

const imageGridPadding = 2

// NewImageLogger creates an ImageLogger writing images every logInterval steps.
func NewImageLogger(logInterval, scaleFactor int) *ImageLogger {
	return &ImageLogger{logInterval: logInterval, scaleFactor: scaleFactor, numSamples: 5}
}

// WithNumSamples sets the number of samples (rows) in each image. Default is 5.
func (l *ImageLogger) WithNumSamples(n int) *ImageLogger {
	l.numSamples = n
	return l
}

// Attach implements fit.Callback.
func (l *ImageLogger) Attach(trainer *fit.Trainer, loop *train.Loop) error {
	if l.logInterval <= 0 {
		return errors.Errorf("ImageLogger log interval must be > 0, got %d", l.logInterval)
	}
	l.trainer = trainer
	loop.OnStart("ImageLogger: samples", 0, func(_ *train.Loop, trainDS train.Dataset) error {
		ds := trainer.DataModule().ValDataset()
		if ds == nil {
			ds = trainDS
		}
		return l.takeSamples(ds)
	})
	train.EveryNSteps(loop, l.logInterval, "ImageLogger", 0, func(loop *train.Loop, _ []*tensors.Tensor) error {
		_, err := l.Log(loop.LoopStep + 1)
		return err
	})
	return nil
}

// takeSamples keeps the first batch of ds, and resets ds.
func (l *ImageLogger) takeSamples(ds train.Dataset) error {
	_, inputs, _, err := ds.Yield()
	ds.Reset()
	if err != nil {
		// Also io.EOF: there is nothing to train on, so nothing to log.
		klog.V(1).Infof("ImageLogger: no samples from %q: %v", ds.Name(), err)
		return nil
	}
	if len(inputs) != 2 {
		return errors.Errorf("ImageLogger requires datasets yielding [hr, lr] images, got %d inputs from %q",
			len(inputs), ds.Name())
	}
	l.hr, l.lr = inputs[0], inputs[1]
	return nil
}

// Log writes the sample images for the given step, and returns the path of the file written.
// It returns an empty path if no samples are available.
func (l *ImageLogger) Log(step int) (string, error) {
	if l.hr == nil {
		return "", nil
	}
	module := l.trainer.Module()
	if l.exec == nil {
		backend, err := l.trainer.Backend()
		if err != nil {
			return "", err
		}
		l.exec, err = context.NewExec(backend, module.Context().Checked(false),
			func(ctx *context.Context, hr, lr *Node) []*Node {
				n := min(l.numSamples, hr.Shape().Dimensions[0])
				hr = Slice(hr, AxisRange(0, n))
				lr = Slice(lr, AxisRange(0, n))
				sr := module.Forward(ctx, lr)
				lrDims := lr.Shape().Dimensions
				nearest := Interpolate(lr, NoInterpolation, lrDims[1]*l.scaleFactor, lrDims[2]*l.scaleFactor,
					NoInterpolation).Nearest().Done()
				return []*Node{nearest, toUnitRange(sr), toUnitRange(hr)}
			})
		if err != nil {
			return "", errors.WithMessage(err, "ImageLogger failed to create the model executor")
		}
	}
	nearest, sr, hr, err := l.exec.Exec3(l.hr, l.lr)
	if err != nil {
		return "", errors.WithMessagef(err, "ImageLogger failed to upscale samples at step %d", step)
	}
	outputs := []*tensors.Tensor{nearest, sr, hr}
	columns := make([][]image.Image, len(outputs))
	for ii, output := range outputs {
		columns[ii] = images.ToImage().Batch(output)
		output.MustFinalizeAll()
	}
	grid := imageGrid(columns)

	dir := filepath.Join(l.trainer.RunDir(), ImagesDirName)
	if err = os.MkdirAll(dir, 0777); err != nil {
		return "", errors.Wrapf(err, "failed to create %q", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("sr-step=%d.png", step))
	if err = imaging.Save(grid, path); err != nil {
		return "", errors.Wrapf(err, "failed to save %q", path)
	}
	klog.V(1).Infof("ImageLogger: saved %s", path)
	return path, nil
}

// imageGrid pastes the images of each column side by side, one row per sample, over a
// black background.
func imageGrid(columns [][]image.Image) *image.NRGBA {
	numRows := len(columns[0])
	cellBounds := columns[len(columns)-1][0].Bounds()
	cellW, cellH := cellBounds.Dx(), cellBounds.Dy()
	width := len(columns)*(cellW+imageGridPadding) + imageGridPadding
	height := numRows*(cellH+imageGridPadding) + imageGridPadding
	grid := imaging.New(width, height, color.Black)
	for col, column := range columns {
		for row, img := range column {
			pos := image.Pt(imageGridPadding+col*(cellW+imageGridPadding), imageGridPadding+row*(cellH+imageGridPadding))
			grid = imaging.Paste(grid, img, pos)
		}
	}
	return grid
}
