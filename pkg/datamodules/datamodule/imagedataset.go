// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datamodule

import (
	"image"
	"io"
	"math/rand"
	"slices"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// ImageSource gives random access to a collection of images, decoded on demand.
// Implementations must be safe for concurrent use.
type ImageSource interface {
	Len() int
	Image(idx int) (image.Image, error)
}

// LabeledImageSource is an ImageSource with one integer class label per image.
type LabeledImageSource interface {
	ImageSource
	Label(idx int) int
}

// ImageTransform maps a decoded image to the image that goes into the batch. All transformed
// images of a dataset must have the same size. rng is private to the call.
type ImageTransform func(img image.Image, rng *rand.Rand) image.Image

// ImageDataset is a train.Dataset that decodes and transforms images batch by batch.
//
// It yields `inputs=[images]` shaped `[batch_size, height, width, channels]` with values in
// [0, 1] (optionally normalized), and if the source is labeled, `labels=[labels]` shaped
// `[batch_size, 1]` of Int64.
//
// Yield is safe for concurrent use, so it can be wrapped by datasets.CustomParallel.
type ImageDataset struct {
	name      string
	src       ImageSource
	indices   []int
	transform ImageTransform
	toTensor  *images.ToTensorConfig

	batchSize     int
	dropLast      bool
	shuffle       bool
	mean, std     []float32
	seed          int64
	mu            sync.Mutex
	order         []int
	pos, numYield int
	epoch         int64
}

var _ train.Dataset = (*ImageDataset)(nil)

// NewImageDataset creates a dataset over the examples of src listed in indices (all examples
// if indices is nil). By default, it has batch size 1, no shuffling and no transform.
func NewImageDataset(name string, src ImageSource, indices []int) *ImageDataset {
	if indices == nil {
		indices = make([]int, src.Len())
		for ii := range indices {
			indices[ii] = ii
		}
	}
	ds := &ImageDataset{
		name:      name,
		src:       src,
		indices:   indices,
		toTensor:  images.ToTensor(DType),
		batchSize: 1,
	}
	ds.Reset()
	return ds
}

// Transform sets the per-image transformation.
func (ds *ImageDataset) Transform(fn ImageTransform) *ImageDataset {
	ds.transform = fn
	return ds
}

// BatchSize sets the batch size, and whether to drop the last incomplete batch.
func (ds *ImageDataset) BatchSize(n int, dropLast bool) *ImageDataset {
	ds.batchSize = n
	ds.dropLast = dropLast
	return ds
}

// Shuffle reshuffles the examples every epoch, with a sequence defined by seed.
// The seed also drives the random transformations.
func (ds *ImageDataset) Shuffle(seed int64) *ImageDataset {
	ds.shuffle = true
	ds.seed = seed
	ds.Reset()
	return ds
}

// Normalize each channel with the given mean and standard deviation.
func (ds *ImageDataset) Normalize(mean, std []float32) *ImageDataset {
	ds.mean, ds.std = mean, std
	return ds
}

// NumExamples in the dataset.
func (ds *ImageDataset) NumExamples() int { return len(ds.indices) }

// Name implements train.Dataset.
func (ds *ImageDataset) Name() string { return ds.name }

// Reset implements train.Dataset: it restarts the epoch, reshuffling if configured.
func (ds *ImageDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.order = slices.Clone(ds.indices)
	if ds.shuffle {
		rand.New(rand.NewSource(ds.seed+ds.epoch)).Shuffle(len(ds.order), func(i, j int) {
			ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
		})
	}
	ds.epoch++
	ds.pos = 0
}

// nextBatch reserves the next batch of indices, returning also a per-batch seed.
func (ds *ImageDataset) nextBatch() (batch []int, seed int64) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	remaining := len(ds.order) - ds.pos
	if remaining <= 0 || (ds.dropLast && remaining < ds.batchSize) {
		return nil, 0
	}
	n := min(ds.batchSize, remaining)
	batch = ds.order[ds.pos : ds.pos+n]
	ds.pos += n
	ds.numYield++
	return batch, ds.seed*1_000_003 + int64(ds.numYield)
}

// NextImages reserves the next batch and returns its decoded and transformed images, and
// the labels if the source is labeled. It returns io.EOF at the end of the epoch.
//
// It is the building block of Yield, and of datasets that derive other tensors from the images.
func (ds *ImageDataset) NextImages() (imgs []image.Image, labels []int, err error) {
	batch, seed := ds.nextBatch()
	if len(batch) == 0 {
		return nil, nil, io.EOF
	}
	rng := rand.New(rand.NewSource(seed))
	imgs = make([]image.Image, len(batch))
	for ii, idx := range batch {
		img, err := ds.src.Image(idx)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "dataset %q: reading image #%d", ds.name, idx)
		}
		if ds.transform != nil {
			img = ds.transform(img, rng)
		}
		imgs[ii] = img
	}
	if labeled, ok := ds.src.(LabeledImageSource); ok {
		labels = make([]int, len(batch))
		for ii, idx := range batch {
			labels[ii] = labeled.Label(idx)
		}
	}
	return imgs, labels, nil
}

// Yield implements train.Dataset.
func (ds *ImageDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	imgs, labelsIdx, err := ds.NextImages()
	if err != nil {
		return nil, nil, nil, err
	}
	imagesT := ds.toTensor.Batch(imgs)
	if ds.mean != nil {
		if err = NormalizeChannels(imagesT, ds.mean, ds.std); err != nil {
			return nil, nil, nil, err
		}
	}
	inputs = []*tensors.Tensor{imagesT}
	if labelsIdx != nil {
		labelsData := make([]int64, len(labelsIdx))
		for ii, l := range labelsIdx {
			labelsData[ii] = int64(l)
		}
		labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(labelsData, len(labelsData), 1)}
	}
	return ds, inputs, labels, nil
}
