// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stl10 provides the STL-10 dataset: 96x96 color images in 10 classes, with 5,000
// labeled training images, 8,000 labeled test images and 100,000 unlabeled images.
//
// Images are read on demand from the binary files (they are too large to be held in memory),
// so they are served through datamodule.ImageDataset.
package stl10

import (
	"image"
	"io"
	"os"

	"github.com/gomlx/bolts/internal/downloader"
	"github.com/pkg/errors"
)

const (
	Size       = 96
	Depth      = 3
	NumClasses = 10

	imageSizeBytes = Size * Size * Depth
)

// Resource is the binary STL-10 tarball.
var Resource = downloader.Resource{
	URL:          "http://ai.stanford.edu/~acoates/stl10/stl10_binary.tar.gz",
	File:         "stl10_binary.tar.gz",
	ExtractedDir: "stl10_binary",
}

// Files of the partitions, relative to Resource.ExtractedDir.
const (
	TrainImagesFile     = "train_X.bin"
	TrainLabelsFile     = "train_y.bin"
	TestImagesFile      = "test_X.bin"
	TestLabelsFile      = "test_y.bin"
	UnlabeledImagesFile = "unlabeled_X.bin"
)

// Labels names, indexed by the label value.
var Labels = []string{"airplane", "bird", "car", "cat", "deer", "dog", "horse", "monkey", "ship", "truck"}

// Mean and StdDev per channel, used when normalizing.
var (
	Mean   = []float32{0.43, 0.42, 0.39}
	StdDev = []float32{0.27, 0.26, 0.27}
)

// Download fetches and unpacks STL-10 into dataDir, if not there yet.
func Download(dataDir string) error {
	return errors.WithMessage(Resource.Fetch(dataDir), "downloading STL-10")
}

// ImageFile gives random access to the images of one STL-10 binary file. Each image is
// stored channel-major, and each channel column-major.
//
// It implements datamodule.ImageSource and is safe for concurrent use.
type ImageFile struct {
	f *os.File
	n int
}

// OpenImages opens an STL-10 images file.
func OpenImages(path string) (*ImageFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening STL-10 images file")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat of %q", path)
	}
	if info.Size()%imageSizeBytes != 0 {
		_ = f.Close()
		return nil, errors.Errorf("STL-10 images file %q has %d bytes, not a multiple of the image size %d",
			path, info.Size(), imageSizeBytes)
	}
	return &ImageFile{f: f, n: int(info.Size() / imageSizeBytes)}, nil
}

// Len implements datamodule.ImageSource.
func (s *ImageFile) Len() int { return s.n }

// Image implements datamodule.ImageSource.
func (s *ImageFile) Image(idx int) (image.Image, error) {
	if idx < 0 || idx >= s.n {
		return nil, errors.Errorf("image index %d out of range [0, %d)", idx, s.n)
	}
	buf := make([]byte, imageSizeBytes)
	if _, err := s.f.ReadAt(buf, int64(idx)*imageSizeBytes); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "reading image %d of %q", idx, s.f.Name())
	}
	img := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	for d := range Depth {
		channel := buf[d*Size*Size : (d+1)*Size*Size]
		for x := range Size {
			for y := range Size {
				img.Pix[y*img.Stride+x*4+d] = channel[x*Size+y]
			}
		}
	}
	for ii := 3; ii < len(img.Pix); ii += 4 {
		img.Pix[ii] = 255
	}
	return img, nil
}

// Close the underlying file.
func (s *ImageFile) Close() error { return s.f.Close() }

// LabeledImageFile is an ImageFile with its labels. It implements datamodule.LabeledImageSource.
type LabeledImageFile struct {
	*ImageFile
	labels []uint8
}

// OpenLabeled opens an STL-10 images file and reads its labels file. Labels are stored
// 1-based in the file, and converted to 0-based.
func OpenLabeled(imagesPath, labelsPath string) (*LabeledImageFile, error) {
	labels, err := os.ReadFile(labelsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading STL-10 labels")
	}
	for ii, l := range labels {
		if l < 1 || l > NumClasses {
			return nil, errors.Errorf("STL-10 labels file %q: invalid label %d for example %d", labelsPath, l, ii)
		}
		labels[ii] = l - 1
	}
	imgs, err := OpenImages(imagesPath)
	if err != nil {
		return nil, err
	}
	if imgs.Len() != len(labels) {
		_ = imgs.Close()
		return nil, errors.Errorf("STL-10: %q has %d images but %q has %d labels",
			imagesPath, imgs.Len(), labelsPath, len(labels))
	}
	return &LabeledImageFile{ImageFile: imgs, labels: labels}, nil
}

// Label implements datamodule.LabeledImageSource.
func (s *LabeledImageFile) Label(idx int) int { return int(s.labels[idx]) }
