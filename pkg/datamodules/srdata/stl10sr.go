// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package srdata

import (
	"flag"

	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/bolts/pkg/datamodules/stl10"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// STL10DataModule serves HR/LR pairs built from the STL-10 labeled images: the training
// images are split into train and validation (Config.ValSplit), and the test images are
// used for test. Labels are ignored.
type STL10DataModule struct {
	datamodule.Config

	// HRImageSize is the size of the square high resolution crops.
	HRImageSize int

	// ScaleFactor between the high and low resolution images.
	ScaleFactor int

	stl               *stl10.DataModule
	train, val, test  *PairDataset
	fitFile, testFile *stl10.ImageFile
}

var _ datamodule.DataModule = (*STL10DataModule)(nil)

// NewSTL10 creates the STL-10 super-resolution datamodule. The default validation split
// is 500 images.
func NewSTL10(cfg datamodule.Config) *STL10DataModule {
	cfg.ValSplit = 500
	dm := &STL10DataModule{Config: cfg, HRImageSize: stl10.Size, ScaleFactor: 4}
	dm.stl = stl10.New(cfg)
	return dm
}

// Name implements datamodule.DataModule.
func (dm *STL10DataModule) Name() string { return "stl10_sr" }

// Dims implements datamodule.DataModule: the dimensions of the HR images.
func (dm *STL10DataModule) Dims() []int { return []int{dm.HRImageSize, dm.HRImageSize, stl10.Depth} }

// LRDims are the dimensions of the LR images. They are zero if the sizes fail Validate.
func (dm *STL10DataModule) LRDims() []int {
	lrSize := 0
	if dm.Validate() == nil {
		lrSize = dm.HRImageSize / dm.ScaleFactor
	}
	return []int{lrSize, lrSize, stl10.Depth}
}

// Validate checks that HRImageSize fits in the STL-10 images and is a multiple of ScaleFactor.
func (dm *STL10DataModule) Validate() error {
	if dm.HRImageSize < 1 || dm.HRImageSize > stl10.Size {
		return errors.Errorf("hr_image_size=%d must be in [1, %d]", dm.HRImageSize, stl10.Size)
	}
	if dm.ScaleFactor < 1 || dm.HRImageSize%dm.ScaleFactor != 0 {
		return errors.Errorf("scale_factor=%d must be a positive divisor of hr_image_size=%d",
			dm.ScaleFactor, dm.HRImageSize)
	}
	return nil
}

// AddFlags implements datamodule.DataModule.
func (dm *STL10DataModule) AddFlags(fs *flag.FlagSet) {
	dm.Config.AddFlags(fs)
	fs.IntVar(&dm.HRImageSize, "hr_image_size", dm.HRImageSize, "Size of the square high resolution image crops.")
	fs.IntVar(&dm.ScaleFactor, "scale_factor", dm.ScaleFactor,
		"Scale factor between the high and low resolution images.")
}

// PrepareData implements datamodule.DataModule: it downloads STL-10.
func (dm *STL10DataModule) PrepareData() error {
	dm.stl.Config = dm.Config
	return dm.stl.PrepareData()
}

func (dm *STL10DataModule) newPairs(name string, src datamodule.ImageSource, indices []int, training bool) (*PairDataset, error) {
	ds := datamodule.NewImageDataset(name, src, indices)
	if training {
		ds.BatchSize(dm.BatchSize, dm.DropLast)
		if dm.Shuffle {
			ds.Shuffle(dm.Seed)
		}
	} else {
		ds.BatchSize(dm.BatchSize, false)
	}
	return NewPairDataset(ds, dm.HRImageSize, dm.ScaleFactor, training)
}

// Setup implements datamodule.DataModule.
func (dm *STL10DataModule) Setup(_ backends.Backend, stage datamodule.Stage) error {
	if err := dm.Validate(); err != nil {
		return err
	}
	dm.stl.Config = dm.Config
	switch stage {
	case datamodule.StageFit, datamodule.StageValidate:
		src, err := stl10.OpenImages(dm.stl.Path(stl10.TrainImagesFile))
		if err != nil {
			return err
		}
		if err = closeImages(dm.fitFile); err != nil {
			_ = src.Close()
			return err
		}
		dm.fitFile = src
		trainIdx, valIdx, err := datamodule.SplitIndices(src.Len(), dm.ValSplit, dm.Seed)
		if err != nil {
			return errors.WithMessage(err, "splitting STL-10 for super-resolution")
		}
		if dm.train, err = dm.newPairs("STL-10 SR train", src, trainIdx, true); err != nil {
			return err
		}
		dm.val = nil
		if len(valIdx) > 0 {
			if dm.val, err = dm.newPairs("STL-10 SR validation", src, valIdx, false); err != nil {
				return err
			}
		}
	case datamodule.StageTest:
		src, err := stl10.OpenImages(dm.stl.Path(stl10.TestImagesFile))
		if err != nil {
			return err
		}
		if err = closeImages(dm.testFile); err != nil {
			_ = src.Close()
			return err
		}
		dm.testFile = src
		if dm.test, err = dm.newPairs("STL-10 SR test", src, nil, false); err != nil {
			return err
		}
	}
	return nil
}

// TrainDataset implements datamodule.DataModule.
func (dm *STL10DataModule) TrainDataset() train.Dataset {
	if dm.train == nil {
		return nil
	}
	return dm.Parallel(dm.train)
}

// ValDataset implements datamodule.DataModule.
func (dm *STL10DataModule) ValDataset() train.Dataset {
	if dm.val == nil {
		return nil
	}
	return dm.val
}

// TestDataset implements datamodule.DataModule.
func (dm *STL10DataModule) TestDataset() train.Dataset {
	if dm.test == nil {
		return nil
	}
	return dm.test
}

// Close the dataset files opened by Setup.
func (dm *STL10DataModule) Close() error {
	errFit := closeImages(dm.fitFile)
	errTest := closeImages(dm.testFile)
	dm.fitFile, dm.testFile = nil, nil
	if errFit != nil {
		return errFit
	}
	return errTest
}

func closeImages(f *stl10.ImageFile) error {
	if f == nil {
		return nil
	}
	return f.Close()
}
