// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// srupscale upscales images with a network trained by srresnet.
//
// Usage:
//
//	srupscale -artifact=srresnet-epoch=100-step=2000.pt [-output_dir=<dir>] image.png [image.jpg ...]
//
// Each upscaled image is saved as PNG in -output_dir, named after the original with the
// scale factor appended, e.g. "image-x4.png".
package main

import (
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bolts/pkg/models/srgan"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func main() {
	err := run(os.Args[1:])
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case errors.As(err, new(usageError)):
		os.Exit(2)
	default:
		klog.Exitf("srupscale: %+v", err)
	}
}

type usageError struct {
	error
}

// outputPath for the upscaled version of the image at path.
func outputPath(outputDir, path string, scaleFactor int) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(outputDir, fmt.Sprintf("%s-x%d.png", base, scaleFactor))
}

func run(args []string) error {
	fs := flag.NewFlagSet("srupscale", flag.ContinueOnError)
	artifact := fs.String("artifact", "", "Trained network saved by srresnet (required).")
	outputDir := fs.String("output_dir", ".", "Directory where the upscaled images are saved.")
	backendConfig := fs.String("backend", "", "GoMLX backend configuration. Defaults to $GOMLX_BACKEND or the default backend.")
	klog.InitFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err}
	}
	if *artifact == "" || fs.NArg() == 0 {
		fmt.Fprintln(fs.Output(), "srupscale requires -artifact and at least one image.")
		fs.Usage()
		return usageError{errors.New("missing -artifact or images")}
	}

	model, err := srgan.Load(fsutil.MustReplaceTildeInDir(*artifact))
	if err != nil {
		return err
	}
	var backend backends.Backend
	if *backendConfig == "" {
		backend, err = backends.New()
	} else {
		backend, err = backends.NewWithConfig(*backendConfig)
	}
	if err != nil {
		return errors.WithMessage(err, "failed to create backend")
	}
	defer backend.Finalize()

	dir := fsutil.MustReplaceTildeInDir(*outputDir)
	if err = os.MkdirAll(dir, 0777); err != nil {
		return errors.Wrapf(err, "failed to create %q", dir)
	}
	scaleFactor := model.HParams().ScaleFactor
	for _, path := range fs.Args() {
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return errors.Wrapf(err, "failed to read image %q", path)
		}
		upscaled, err := model.UpscaleImages(backend, []image.Image{img})
		if err != nil {
			return errors.WithMessagef(err, "upscaling %q", path)
		}
		output := outputPath(dir, path, scaleFactor)
		if err = imaging.Save(upscaled[0], output); err != nil {
			return errors.Wrapf(err, "failed to save %q", output)
		}
		klog.Infof("%s: %dx%d -> %s", path, img.Bounds().Dx(), img.Bounds().Dy(), output)
	}
	return nil
}
