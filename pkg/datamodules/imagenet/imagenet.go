// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imagenet serves ImageNet (ILSVRC2012) from a local folder.
//
// ImageNet can't be downloaded automatically: the data directory must hold the `train/` and
// `val/` folders, each with one sub-folder per class (the WordNet id). Since the official
// validation set is used for test, the validation split is held out from `train/`.
package imagenet

import (
	"flag"
	"image"
	"math/rand"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Mean and StdDev per channel, used when normalizing.
var (
	Mean   = []float32{0.485, 0.456, 0.406}
	StdDev = []float32{0.229, 0.224, 0.225}
)

// DataModule serves ImageNet-like folders. Inputs are `[images]` shaped
// `[batch_size, ImageSize, ImageSize, 3]`, labels `[class]`.
type DataModule struct {
	datamodule.Config

	// ImageSize of the square images served.
	ImageSize int

	// NumImgsPerValClass is the number of images of each class held out from train for validation.
	NumImgsPerValClass int

	classes          []string
	train, val, test *datamodule.ImageDataset
}

var _ datamodule.DataModule = (*DataModule)(nil)

// New creates the ImageNet datamodule with the given options.
func New(cfg datamodule.Config) *DataModule {
	return &DataModule{Config: cfg, ImageSize: 224, NumImgsPerValClass: 50}
}

// Name implements datamodule.DataModule.
func (dm *DataModule) Name() string { return "imagenet" }

// Dims implements datamodule.DataModule.
func (dm *DataModule) Dims() []int { return []int{dm.ImageSize, dm.ImageSize, 3} }

// Classes found during Setup, in label order.
func (dm *DataModule) Classes() []string { return dm.classes }

// AddFlags implements datamodule.DataModule.
func (dm *DataModule) AddFlags(fs *flag.FlagSet) {
	dm.Config.AddFlags(fs)
	fs.IntVar(&dm.ImageSize, "image_size", dm.ImageSize, "Size of the (square) images served.")
	fs.IntVar(&dm.NumImgsPerValClass, "num_imgs_per_val_class", dm.NumImgsPerValClass,
		"Number of images per class held out from train for validation.")
}

// PrepareData implements datamodule.DataModule: it only checks that the folders exist.
func (dm *DataModule) PrepareData() error {
	for _, split := range []string{"train", "val"} {
		dir := filepath.Join(dm.Dir(), split)
		if !fsutil.MustFileExists(dir) {
			return errors.Errorf("ImageNet folder %q not found: ImageNet must be downloaded manually into %q",
				dir, dm.Dir())
		}
	}
	return nil
}

// resizeShorter resizes img so its shorter side has the given size.
func resizeShorter(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() < b.Dy() {
		return imaging.Resize(img, size, 0, imaging.Linear)
	}
	return imaging.Resize(img, 0, size, imaging.Linear)
}

// resizeSize is the size of the shorter side before cropping: 256 for the default 224.
func (dm *DataModule) resizeSize() int {
	return dm.ImageSize * 8 / 7
}

// TrainTransform resizes, randomly crops and randomly flips horizontally.
func (dm *DataModule) TrainTransform(img image.Image, rng *rand.Rand) image.Image {
	img = resizeShorter(img, dm.resizeSize())
	b := img.Bounds()
	x0 := rng.Intn(b.Dx() - dm.ImageSize + 1)
	y0 := rng.Intn(b.Dy() - dm.ImageSize + 1)
	cropped := imaging.Crop(img, image.Rect(x0, y0, x0+dm.ImageSize, y0+dm.ImageSize).Add(b.Min))
	if rng.Intn(2) == 1 {
		cropped = imaging.FlipH(cropped)
	}
	return cropped
}

// EvalTransform resizes and center crops.
func (dm *DataModule) EvalTransform(img image.Image, _ *rand.Rand) image.Image {
	return imaging.CropCenter(resizeShorter(img, dm.resizeSize()), dm.ImageSize, dm.ImageSize)
}

func (dm *DataModule) newDataset(name string, src datamodule.ImageSource, indices []int, training bool) *datamodule.ImageDataset {
	ds := datamodule.NewImageDataset(name, src, indices)
	if training {
		ds.Transform(dm.TrainTransform).BatchSize(dm.BatchSize, dm.DropLast)
		if dm.Shuffle {
			ds.Shuffle(dm.Seed)
		}
	} else {
		ds.Transform(dm.EvalTransform).BatchSize(dm.BatchSize, false)
	}
	if dm.Normalize {
		ds.Normalize(Mean, StdDev)
	}
	return ds
}

// Setup implements datamodule.DataModule.
func (dm *DataModule) Setup(_ backends.Backend, stage datamodule.Stage) error {
	switch stage {
	case datamodule.StageFit, datamodule.StageValidate:
		src, err := OpenFolder(filepath.Join(dm.Dir(), "train"))
		if err != nil {
			return err
		}
		trainIdx, valIdx, err := src.SplitPerClass(dm.NumImgsPerValClass, dm.Seed)
		if err != nil {
			return err
		}
		dm.classes = src.Classes
		dm.train = dm.newDataset("ImageNet train", src, trainIdx, true)
		dm.val = dm.newDataset("ImageNet validation", src, valIdx, false)
		klog.V(1).Infof("ImageNet: %d classes, %d training and %d validation images",
			len(src.Classes), len(trainIdx), len(valIdx))
	case datamodule.StageTest:
		src, err := OpenFolder(filepath.Join(dm.Dir(), "val"))
		if err != nil {
			return err
		}
		dm.test = dm.newDataset("ImageNet test", src, nil, false)
	}
	return nil
}

// TrainDataset implements datamodule.DataModule.
func (dm *DataModule) TrainDataset() train.Dataset {
	if dm.train == nil {
		return nil
	}
	return dm.Parallel(dm.train)
}

// ValDataset implements datamodule.DataModule.
func (dm *DataModule) ValDataset() train.Dataset {
	if dm.val == nil {
		return nil
	}
	return dm.val
}

// TestDataset implements datamodule.DataModule.
func (dm *DataModule) TestDataset() train.Dataset {
	if dm.test == nil {
		return nil
	}
	return dm.test
}
