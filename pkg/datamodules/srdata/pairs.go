// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package srdata serves paired high/low resolution images for super-resolution training.
//
// Each example is a high resolution (HR) square crop of an image, scaled to [-1, 1], and the
// low resolution (LR) version of the same crop, downscaled by the scale factor with bicubic
// interpolation and kept in [0, 1].
package srdata

import (
	"image"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// PairDataset is a train.Dataset yielding `inputs=[hr, lr]` and no labels, with hr shaped
// `[batch_size, hr_size, hr_size, 3]` and lr shaped `[batch_size, hr_size/scale, hr_size/scale, 3]`.
//
// It is safe for concurrent use.
type PairDataset struct {
	*datamodule.ImageDataset
	hrSize, lrSize int
	toTensor       *images.ToTensorConfig
}

var _ train.Dataset = (*PairDataset)(nil)

// NewPairDataset creates the paired dataset from the images of ds, which must be configured
// (batch size, shuffling) but without a transformation: it is replaced by the HR crop.
// Training datasets crop at random positions, the others at the center.
func NewPairDataset(ds *datamodule.ImageDataset, hrSize, scaleFactor int, training bool) (*PairDataset, error) {
	if scaleFactor < 1 || hrSize%scaleFactor != 0 {
		return nil, errors.Errorf("HR image size %d must be divisible by the scale factor %d", hrSize, scaleFactor)
	}
	crop := func(img image.Image, rng *rand.Rand) image.Image {
		return RandomCrop(img, hrSize, rng)
	}
	if !training {
		crop = func(img image.Image, _ *rand.Rand) image.Image {
			return imaging.CropCenter(img, hrSize, hrSize)
		}
	}
	ds.Transform(crop)
	return &PairDataset{
		ImageDataset: ds,
		hrSize:       hrSize,
		lrSize:       hrSize / scaleFactor,
		toTensor:     images.ToTensor(datamodule.DType),
	}, nil
}

// RandomCrop returns a size x size crop of img at a random position. Images smaller than
// size are first upscaled so their shorter side is size.
func RandomCrop(img image.Image, size int, rng *rand.Rand) image.Image {
	b := img.Bounds()
	if b.Dx() < size || b.Dy() < size {
		if b.Dx() < b.Dy() {
			img = imaging.Resize(img, size, 0, imaging.CatmullRom)
		} else {
			img = imaging.Resize(img, 0, size, imaging.CatmullRom)
		}
		b = img.Bounds()
	}
	x0 := b.Min.X + rng.Intn(b.Dx()-size+1)
	y0 := b.Min.Y + rng.Intn(b.Dy()-size+1)
	return imaging.Crop(img, image.Rect(x0, y0, x0+size, y0+size))
}

// Downscale the HR image to the LR size with bicubic interpolation.
func (ds *PairDataset) Downscale(hr image.Image) image.Image {
	return imaging.Resize(hr, ds.lrSize, ds.lrSize, imaging.CatmullRom)
}

// Yield implements train.Dataset.
func (ds *PairDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	hrImages, _, err := ds.NextImages()
	if err != nil {
		return nil, nil, nil, err
	}
	lrImages := make([]image.Image, len(hrImages))
	for ii, hr := range hrImages {
		lrImages[ii] = ds.Downscale(hr)
	}
	hr := ds.toTensor.Batch(hrImages)
	tensors.MustMutableFlatData[float32](hr, func(flat []float32) {
		for ii, v := range flat {
			flat[ii] = 2*v - 1
		}
	})
	lr := ds.toTensor.Batch(lrImages)
	return ds, []*tensors.Tensor{hr, lr}, nil, nil
}
