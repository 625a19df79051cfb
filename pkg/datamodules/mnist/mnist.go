// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mnist provides the MNIST handwritten digits as a datamodule.
//
// The four IDX files are downloaded (gzipped) into the data directory and loaded fully in
// memory: 60,000 training images, split into train and validation, and 10,000 test images.
// Images are 28x28 gray levels, served as `[batch_size, 28, 28, 1]` floats in [0, 1].
package mnist

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/gomlx/bolts/internal/downloader"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	DownloadURL = "https://storage.googleapis.com/cvdf-datasets/mnist/"

	Width      = 28
	Height     = 28
	NumClasses = 10

	NumTrainExamples = 60000
	NumTestExamples  = 10000

	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

// Files with the images and labels of each partition.
var (
	TrainFiles = [2]string{"train-images-idx3-ubyte.gz", "train-labels-idx1-ubyte.gz"}
	TestFiles  = [2]string{"t10k-images-idx3-ubyte.gz", "t10k-labels-idx1-ubyte.gz"}
)

// Mean and StdDev of the training images, used when normalizing.
var (
	Mean   = []float32{0.1307}
	StdDev = []float32{0.3081}
)

// Download the MNIST files into dataDir, if not there yet.
func Download(dataDir string) error {
	for _, files := range [][2]string{TrainFiles, TestFiles} {
		for _, file := range files {
			res := downloader.Resource{URL: DownloadURL + file, File: file}
			if err := res.Fetch(dataDir); err != nil {
				return errors.WithMessagef(err, "downloading MNIST file %q", file)
			}
		}
	}
	return nil
}

type imageFileHeader struct {
	Magic     int32
	NumImages int32
	Height    int32
	Width     int32
}

type labelFileHeader struct {
	Magic     int32
	NumLabels int32
}

func openGzip(path string) (io.ReadCloser, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening %q", path)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrapf(err, "reading gzip %q", path)
	}
	return gz, func() { _ = gz.Close(); _ = f.Close() }, nil
}

// LoadImages reads a gzipped IDX images file into a tensor shaped `[num_images, 28, 28, 1]`
// with values in [0, 1].
func LoadImages(path string, dtype dtypes.DType) (*tensors.Tensor, error) {
	r, closeFn, err := openGzip(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var header imageFileHeader
	if err = binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "reading header of %q", path)
	}
	if header.Magic != imageMagic || header.Width != Width || header.Height != Height {
		return nil, errors.Errorf("invalid images file %q: magic=0x%08x, size=%dx%d", path,
			header.Magic, header.Width, header.Height)
	}
	numImages := int(header.NumImages)
	raw := make([]byte, numImages*Width*Height)
	if _, err = io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "reading %d images from %q", numImages, path)
	}
	t := tensors.FromShape(shapes.Make(dtype, numImages, Height, Width, 1))
	switch dtype {
	case dtypes.Float32:
		tensors.MustMutableFlatData[float32](t, func(flat []float32) {
			for ii, v := range raw {
				flat[ii] = float32(v) / 255
			}
		})
	case dtypes.Float64:
		tensors.MustMutableFlatData[float64](t, func(flat []float64) {
			for ii, v := range raw {
				flat[ii] = float64(v) / 255
			}
		})
	default:
		return nil, errors.Errorf("MNIST images not supported with dtype %s", dtype)
	}
	return t, nil
}

// LoadLabels reads a gzipped IDX labels file into an Int64 tensor shaped `[num_labels, 1]`.
func LoadLabels(path string) (*tensors.Tensor, error) {
	r, closeFn, err := openGzip(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var header labelFileHeader
	if err = binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "reading header of %q", path)
	}
	if header.Magic != labelMagic {
		return nil, errors.Errorf("invalid labels file %q: magic=0x%08x", path, header.Magic)
	}
	raw := make([]byte, header.NumLabels)
	if _, err = io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "reading %d labels from %q", header.NumLabels, path)
	}
	labels := make([]int64, len(raw))
	for ii, v := range raw {
		labels[ii] = int64(v)
	}
	return tensors.FromFlatDataAndDimensions(labels, len(labels), 1), nil
}

// LoadPartition loads images and labels of one partition (TrainFiles or TestFiles).
func LoadPartition(dataDir string, files [2]string, dtype dtypes.DType) (images, labels *tensors.Tensor, err error) {
	images, err = LoadImages(filepath.Join(dataDir, files[0]), dtype)
	if err != nil {
		return
	}
	labels, err = LoadLabels(filepath.Join(dataDir, files[1]))
	if err != nil {
		return
	}
	if numImages, numLabels := images.Shape().Dimensions[0], labels.Shape().Dimensions[0]; numImages != numLabels {
		err = errors.Errorf("MNIST files %v have %d images but %d labels", files, numImages, numLabels)
	}
	return
}
