// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stl10

import (
	"flag"
	"io"
	"path/filepath"

	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DataModule serves STL-10.
//
// The labeled training images are split into train and validation (TrainValSplit). If the
// unlabeled file is present, it is split into UnlabeledDataset and UnlabeledValDataset
// (UnlabeledValSplit). Inputs are `[images]`, labels (when available) `[class]`.
type DataModule struct {
	datamodule.Config

	// TrainValSplit is the number of labeled training images held out for validation.
	TrainValSplit int

	// UnlabeledValSplit is the number of unlabeled images held out for validation.
	UnlabeledValSplit int

	train, val, test        *datamodule.ImageDataset
	unlabeled, unlabeledVal *datamodule.ImageDataset
	files                   []io.Closer
}

var _ datamodule.DataModule = (*DataModule)(nil)

// New creates the STL-10 datamodule with the given options.
func New(cfg datamodule.Config) *DataModule {
	return &DataModule{Config: cfg, TrainValSplit: 500, UnlabeledValSplit: 500}
}

// Name implements datamodule.DataModule.
func (dm *DataModule) Name() string { return "stl10" }

// Dims implements datamodule.DataModule.
func (dm *DataModule) Dims() []int { return []int{Size, Size, Depth} }

// NumClasses in STL-10.
func (dm *DataModule) NumClasses() int { return NumClasses }

// AddFlags implements datamodule.DataModule.
func (dm *DataModule) AddFlags(fs *flag.FlagSet) {
	dm.Config.AddFlags(fs)
	fs.IntVar(&dm.TrainValSplit, "train_val_split", dm.TrainValSplit,
		"Number of labeled training images held out for validation.")
	fs.IntVar(&dm.UnlabeledValSplit, "unlabeled_val_split", dm.UnlabeledValSplit,
		"Number of unlabeled images held out for validation.")
}

// PrepareData implements datamodule.DataModule: it downloads and untars the dataset.
func (dm *DataModule) PrepareData() error { return Download(dm.Dir()) }

// Path of one of the dataset files.
func (dm *DataModule) Path(file string) string {
	return filepath.Join(dm.Dir(), Resource.ExtractedDir, file)
}

// newDataset configures an ImageDataset over src with the module options.
func (dm *DataModule) newDataset(name string, src datamodule.ImageSource, indices []int, training bool) *datamodule.ImageDataset {
	ds := datamodule.NewImageDataset(name, src, indices)
	if training {
		ds.BatchSize(dm.BatchSize, dm.DropLast)
		if dm.Shuffle {
			ds.Shuffle(dm.Seed)
		}
	} else {
		ds.BatchSize(dm.BatchSize, false)
	}
	if dm.Normalize {
		ds.Normalize(Mean, StdDev)
	}
	return ds
}

// Setup implements datamodule.DataModule. The backend is not used, since images are
// converted to tensors on the fly.
func (dm *DataModule) Setup(_ backends.Backend, stage datamodule.Stage) error {
	switch stage {
	case datamodule.StageFit, datamodule.StageValidate:
		src, err := OpenLabeled(dm.Path(TrainImagesFile), dm.Path(TrainLabelsFile))
		if err != nil {
			return err
		}
		dm.files = append(dm.files, src)
		trainIdx, valIdx, err := datamodule.SplitIndices(src.Len(), dm.TrainValSplit, dm.Seed)
		if err != nil {
			return errors.WithMessage(err, "splitting STL-10 labeled train")
		}
		dm.train = dm.newDataset("STL-10 train", src, trainIdx, true)
		dm.val = dm.newDataset("STL-10 validation", src, valIdx, false)

		unlabeledPath := dm.Path(UnlabeledImagesFile)
		if !fsutil.MustFileExists(unlabeledPath) {
			klog.V(1).Infof("STL-10: no unlabeled images in %q", unlabeledPath)
			return nil
		}
		unlabeled, err := OpenImages(unlabeledPath)
		if err != nil {
			return err
		}
		dm.files = append(dm.files, unlabeled)
		trainIdx, valIdx, err = datamodule.SplitIndices(unlabeled.Len(), dm.UnlabeledValSplit, dm.Seed)
		if err != nil {
			return errors.WithMessage(err, "splitting STL-10 unlabeled")
		}
		dm.unlabeled = dm.newDataset("STL-10 unlabeled", unlabeled, trainIdx, true)
		dm.unlabeledVal = dm.newDataset("STL-10 unlabeled validation", unlabeled, valIdx, false)

	case datamodule.StageTest:
		src, err := OpenLabeled(dm.Path(TestImagesFile), dm.Path(TestLabelsFile))
		if err != nil {
			return err
		}
		dm.files = append(dm.files, src)
		dm.test = dm.newDataset("STL-10 test", src, nil, false)
	}
	return nil
}

// asDataset avoids returning a non-nil interface holding a nil pointer.
func (dm *DataModule) asDataset(ds *datamodule.ImageDataset, training bool) train.Dataset {
	if ds == nil {
		return nil
	}
	if training {
		return dm.Parallel(ds)
	}
	return ds
}

// TrainDataset implements datamodule.DataModule: the labeled training split.
func (dm *DataModule) TrainDataset() train.Dataset { return dm.asDataset(dm.train, true) }

// ValDataset implements datamodule.DataModule.
func (dm *DataModule) ValDataset() train.Dataset { return dm.asDataset(dm.val, false) }

// TestDataset implements datamodule.DataModule.
func (dm *DataModule) TestDataset() train.Dataset { return dm.asDataset(dm.test, false) }

// UnlabeledDataset returns the unlabeled training split, or nil if not available.
func (dm *DataModule) UnlabeledDataset() train.Dataset { return dm.asDataset(dm.unlabeled, true) }

// UnlabeledValDataset returns the unlabeled validation split, or nil if not available.
func (dm *DataModule) UnlabeledValDataset() train.Dataset {
	return dm.asDataset(dm.unlabeledVal, false)
}

// Close the dataset files opened by Setup.
func (dm *DataModule) Close() error {
	var firstErr error
	for _, f := range dm.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	dm.files = nil
	return firstErr
}
