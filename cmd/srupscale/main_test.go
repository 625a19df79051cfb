// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bolts/pkg/models/srgan"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	hp := srgan.DefaultHParams()
	hp.FeatureMaps = 4
	hp.NumResBlocks = 1
	hp.ScaleFactor = 2
	model := must.M1(srgan.New(context.New(), hp))
	require.NoError(t, model.Build(graphtest.BuildTestBackend()))
	artifact := filepath.Join(dir, srgan.ArtifactName(1, 0))
	require.NoError(t, model.Save(artifact))

	input := filepath.Join(dir, "photo.jpg")
	require.NoError(t, imaging.Save(imaging.New(6, 5, color.NRGBA{R: 200, G: 100, B: 50, A: 255}), input))
	outputDir := filepath.Join(dir, "out")
	require.NoError(t, run([]string{"-artifact=" + artifact, "-output_dir=" + outputDir, input}))

	output := filepath.Join(outputDir, "photo-x2.png")
	assert.Equal(t, output, outputPath(outputDir, input, 2))
	img, err := imaging.Open(output)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 10), img.Bounds())

	for _, args := range [][]string{
		{input},
		{"-artifact=" + artifact},
		{"-no_such_flag"},
	} {
		err := run(args)
		assert.True(t, errors.As(err, new(usageError)), "args=%q: %v", args, err)
	}
	err = run([]string{"-artifact=" + artifact, "-output_dir=" + outputDir, filepath.Join(dir, "missing.png")})
	require.Error(t, err)
	assert.False(t, errors.As(err, new(usageError)))
}
