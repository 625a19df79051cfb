// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cifar10 provides the CIFAR-10 image classification dataset as a datamodule.
//
// The binary version of the dataset is downloaded and untar'ed into the data directory, and
// loaded fully in memory. Images are served as `[batch_size, 32, 32, 3]` floats in [0, 1].
package cifar10

import (
	"bufio"
	"image"
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
	Width  = 32
	Height = 32
	Depth  = 3

	NumClasses = 10

	imageSizeBytes = Height * Width * Depth
)

// Resource is the binary CIFAR-10 tarball.
var Resource = downloader.Resource{
	URL:          "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz",
	File:         "cifar-10-binary.tar.gz",
	Checksum:     "c4a38c50a1bc5f3a1c5537f2155ab9d68f9f25eb1ed8d9ddda3db29a59bca1dd",
	ExtractedDir: "cifar-10-batches-bin",
}

// Files of each partition, relative to Resource.ExtractedDir.
var (
	TrainFiles = []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"}
	TestFiles  = []string{"test_batch.bin"}
)

// Labels names, indexed by the label value.
var Labels = []string{"airplane", "automobile", "bird", "cat", "deer", "dog", "frog", "horse", "ship", "truck"}

// Mean and StdDev per channel of the training images, used when normalizing.
var (
	Mean   = []float32{0.4914, 0.4822, 0.4465}
	StdDev = []float32{0.2470, 0.2435, 0.2616}
)

// Download fetches and unpacks CIFAR-10 into dataDir, if not there yet.
func Download(dataDir string) error {
	return errors.WithMessage(Resource.Fetch(dataDir), "downloading CIFAR-10")
}

// Load reads the given binary files (each a sequence of records: 1 label byte followed by the
// image in channel-major order) into an images tensor `[N, 32, 32, 3]` in [0, 1] and a labels
// tensor `[N, 1]` of Int64.
func Load(dir string, files []string, dtype dtypes.DType) (images, labels *tensors.Tensor, err error) {
	if dtype != dtypes.Float32 {
		return nil, nil, errors.Errorf("CIFAR-10 images only supported as Float32, got %s", dtype)
	}
	var pixels []float32
	var labelsData []int64
	var record [imageSizeBytes + 1]byte
	for _, file := range files {
		path := filepath.Join(dir, file)
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "opening data file %q", path)
		}
		r := bufio.NewReader(f)
		for recordIdx := 0; ; recordIdx++ {
			_, err = io.ReadFull(r, record[:])
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = f.Close()
				return nil, nil, errors.Wrapf(err, "reading example %d from %q", recordIdx, path)
			}
			labelsData = append(labelsData, int64(record[0]))
			pixels = appendChannelsLast(pixels, record[1:])
		}
		_ = f.Close()
	}
	n := len(labelsData)
	images = tensors.FromShape(shapes.Make(dtype, n, Height, Width, Depth))
	tensors.MustMutableFlatData[float32](images, func(flat []float32) { copy(flat, pixels) })
	labels = tensors.FromFlatDataAndDimensions(labelsData, n, 1)
	return images, labels, nil
}

// appendChannelsLast converts one channel-major image to channels-last floats in [0, 1].
func appendChannelsLast(to []float32, img []byte) []float32 {
	for h := range Height {
		for w := range Width {
			for d := range Depth {
				to = append(to, float32(img[d*(Height*Width)+h*Width+w])/255)
			}
		}
	}
	return to
}

// ToImage converts example exampleIdx of an images tensor (values in [0, 1]) back to an image.
func ToImage(images *tensors.Tensor, exampleIdx int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, Width, Height))
	tensors.MustConstFlatData[float32](images, func(flat []float32) {
		pos := exampleIdx * imageSizeBytes
		for h := range Height {
			for w := range Width {
				for d := range Depth {
					img.Pix[h*img.Stride+w*4+d] = uint8(min(max(flat[pos], 0), 1) * 255)
					pos++
				}
				img.Pix[h*img.Stride+w*4+3] = 255
			}
		}
	})
	return img
}
