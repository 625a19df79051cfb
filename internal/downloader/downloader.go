// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package downloader fetches and unpacks the dataset archives used by the datamodules.
//
// Files are cached in the data directory: once downloaded (and, for archives, extracted)
// they are not fetched again.
package downloader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Resource describes one remote file a datamodule depends on.
type Resource struct {
	// URL to download from.
	URL string

	// File name under the data directory where the download is stored.
	File string

	// Checksum is the hex SHA-256 of the downloaded file. Empty disables validation.
	Checksum string

	// ExtractedDir, if set, is the directory (relative to the data directory) the archive
	// unpacks into. Its existence marks the resource as already available.
	ExtractedDir string
}

// ShowProgressBar controls whether downloads draw a progress bar on the terminal.
var ShowProgressBar = true

// Fetch makes the resource available under dataDir: it downloads the file if missing,
// validates its checksum, and if ExtractedDir is set, unpacks it.
func (r Resource) Fetch(dataDir string) error {
	dataDir = fsutil.MustReplaceTildeInDir(dataDir)
	if r.ExtractedDir != "" && fsutil.MustFileExists(filepath.Join(dataDir, r.ExtractedDir)) {
		return nil
	}
	filePath := filepath.Join(dataDir, r.File)
	if err := DownloadIfMissing(r.URL, filePath, r.Checksum); err != nil {
		return err
	}
	if r.ExtractedDir == "" {
		return nil
	}
	if err := Untar(dataDir, filePath); err != nil {
		return err
	}
	if !fsutil.MustFileExists(filepath.Join(dataDir, r.ExtractedDir)) {
		return errors.Errorf("unpacked %q from %q, but directory %q was not created", filePath, r.URL, r.ExtractedDir)
	}
	return nil
}

// byteBar wraps a writer and advances a progress bar as bytes are written.
// Large files are reported in KiB/MiB units so the bar doesn't overflow an int.
type byteBar struct {
	w                    io.Writer
	bar                  *progressbar.ProgressBar
	unit, units, written int64
	reported             int64
}

func newByteBar(w io.Writer, contentLength int64) *byteBar {
	b := &byteBar{w: w, unit: 1}
	for contentLength > b.unit*1024*1024 {
		b.unit *= 1024
	}
	b.units = (contentLength + b.unit - 1) / b.unit
	b.bar = progressbar.NewOptions(int(b.units),
		progressbar.OptionSetDescription(humanize.IBytes(uint64(contentLength))),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	return b
}

func (b *byteBar) Write(p []byte) (n int, err error) {
	n, err = b.w.Write(p)
	b.written += int64(n)
	if done := b.written / b.unit; done > b.reported {
		_ = b.bar.Add(int(done - b.reported))
		b.reported = done
	}
	return
}

func (b *byteBar) finish() {
	if b.reported < b.units {
		_ = b.bar.Add(int(b.units - b.reported))
	}
	_ = b.bar.Close()
	fmt.Println()
}

// Download url into filePath, creating the parent directory if needed.
// It returns the number of bytes written.
func Download(url, filePath string, showProgressBar bool) (size int64, err error) {
	filePath = fsutil.MustReplaceTildeInDir(filePath)
	if err = os.MkdirAll(filepath.Dir(filePath), 0777); err != nil {
		return 0, errors.Wrapf(err, "creating directory for %q", filePath)
	}
	resp, err := http.Get(url)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("downloading %q: http status %s", url, resp.Status)
	}

	// Write to a temporary file first, so an interrupted download is not taken as cached.
	tmpPath := filePath + ".partial"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", tmpPath)
	}
	if showProgressBar && resp.ContentLength > 0 {
		bar := newByteBar(file, resp.ContentLength)
		size, err = io.Copy(bar, resp.Body)
		bar.finish()
	} else {
		size, err = io.Copy(file, resp.Body)
	}
	if err != nil {
		_ = file.Close()
		return 0, errors.Wrapf(err, "downloading %q to %q", url, tmpPath)
	}
	if err = file.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return 0, errors.Wrapf(err, "renaming %q to %q", tmpPath, filePath)
	}
	return size, nil
}

// DownloadIfMissing downloads url to filePath only if it is not there yet, and then validates
// its SHA-256 checksum, if one is given.
func DownloadIfMissing(url, filePath, checksum string) error {
	filePath = fsutil.MustReplaceTildeInDir(filePath)
	if !fsutil.MustFileExists(filePath) {
		klog.Infof("Downloading %s ...", url)
		size, err := Download(url, filePath, ShowProgressBar)
		if err != nil {
			return err
		}
		klog.V(1).Infof("Downloaded %s to %q", humanize.IBytes(uint64(size)), filePath)
	}
	if checksum == "" {
		return nil
	}
	return ValidateChecksum(filePath, checksum)
}

// ValidateChecksum checks the SHA-256 of the file at filePath. On mismatch the file is removed,
// so the next Fetch downloads it again.
func ValidateChecksum(filePath, checksum string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "opening %q to validate checksum", filePath)
	}
	hasher := sha256.New()
	_, err = io.Copy(hasher, f)
	_ = f.Close()
	if err != nil {
		return errors.Wrapf(err, "reading %q to validate checksum", filePath)
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if got == strings.ToLower(checksum) {
		return nil
	}
	if rmErr := os.Remove(filePath); rmErr != nil {
		klog.Warningf("Failed to remove %q after checksum mismatch: %v", filePath, rmErr)
	}
	return errors.Errorf("file %q has sha256 %q, expected %q: file removed", filePath, got, checksum)
}

// Untar extracts tarFile into dir, using the system's tar. Compression is picked from the
// file extension.
func Untar(dir, tarFile string) error {
	dir = fsutil.MustReplaceTildeInDir(dir)
	tarFile, err := filepath.Abs(tarFile)
	if err != nil {
		return errors.Wrapf(err, "resolving path of %q", tarFile)
	}
	flags := "xf"
	switch {
	case strings.HasSuffix(tarFile, ".gz"), strings.HasSuffix(tarFile, ".tgz"):
		flags = "xzf"
	case strings.HasSuffix(tarFile, ".bz2"):
		flags = "xjf"
	}
	cmd := exec.Command("tar", flags, tarFile)
	cmd.Dir = dir
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "failed to run %q", cmd)
	}
	return nil
}
