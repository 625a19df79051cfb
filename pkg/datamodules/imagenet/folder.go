// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagenet

import (
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// Registers the WebP decoder, used by image.Decode.
	_ "golang.org/x/image/webp"
)

// Extensions of the image files picked up by a Folder, lower-cased.
var Extensions = []string{".jpeg", ".jpg", ".png", ".webp"}

// Folder is an image classification dataset laid out as `<dir>/<class>/<image file>`.
// Classes are indexed by their sorted folder names.
//
// It implements datamodule.LabeledImageSource.
type Folder struct {
	Dir     string
	Classes []string
	files   []string
	labels  []int
}

// OpenFolder lists the images under dir.
func OpenFolder(dir string) (*Folder, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing image classes")
	}
	f := &Folder{Dir: dir}
	for _, entry := range entries {
		if entry.IsDir() {
			f.Classes = append(f.Classes, entry.Name())
		}
	}
	slices.Sort(f.Classes)
	for classIdx, class := range f.Classes {
		classDir := filepath.Join(dir, class)
		images, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "listing images of class %q", class)
		}
		for _, img := range images {
			if img.IsDir() || !slices.Contains(Extensions, strings.ToLower(filepath.Ext(img.Name()))) {
				continue
			}
			f.files = append(f.files, filepath.Join(classDir, img.Name()))
			f.labels = append(f.labels, classIdx)
		}
	}
	if len(f.files) == 0 {
		return nil, errors.Errorf("no images found in %q", dir)
	}
	return f, nil
}

// Len implements datamodule.ImageSource.
func (f *Folder) Len() int { return len(f.files) }

// Image implements datamodule.ImageSource.
func (f *Folder) Image(idx int) (image.Image, error) {
	img, err := imaging.Open(f.files[idx], imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image")
	}
	return img, nil
}

// Label implements datamodule.LabeledImageSource.
func (f *Folder) Label(idx int) int { return f.labels[idx] }

// SplitPerClass holds out perClass randomly chosen examples of each class, returning the
// indices of the remaining (train) and held out (validation) examples, in order.
func (f *Folder) SplitPerClass(perClass int, seed int64) (trainIdx, valIdx []int, err error) {
	byClass := make([][]int, len(f.Classes))
	for idx, label := range f.labels {
		byClass[label] = append(byClass[label], idx)
	}
	rng := rand.New(rand.NewSource(seed))
	for classIdx, indices := range byClass {
		if len(indices) <= perClass {
			return nil, nil, errors.Errorf("class %q has %d images, can't hold out %d for validation",
				f.Classes[classIdx], len(indices), perClass)
		}
		rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		valIdx = append(valIdx, indices[:perClass]...)
		trainIdx = append(trainIdx, indices[perClass:]...)
	}
	slices.Sort(trainIdx)
	slices.Sort(valIdx)
	return trainIdx, valIdx, nil
}
