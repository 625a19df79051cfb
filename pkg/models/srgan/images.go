// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package srgan

import (
	"image"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// toUnitRange maps values from [-1, 1] to [0, 1].
func toUnitRange(x *Node) *Node {
	return ClipScalar(MulScalar(AddScalar(x, 1), 0.5), 0, 1)
}

// UpscaleImages upscales each image by the scale factor. Images of different sizes are
// processed one at a time, so each size compiles its own graph.
//
// Only RGB images are supported: the alpha channel, if any, is dropped.
func (m *SRResNet) UpscaleImages(backend backends.Backend, imgs []image.Image) ([]image.Image, error) {
	if m.hp.ImageChannels != 3 {
		return nil, errors.Errorf("UpscaleImages requires a model of RGB images, this one has %d channels",
			m.hp.ImageChannels)
	}
	toTensor := images.ToTensor(DType)
	results := make([]image.Image, 0, len(imgs))
	for ii, img := range imgs {
		lr := toTensor.Batch([]image.Image{img})
		sr, err := context.ExecOnce(backend, m.ctx.Checked(false), func(ctx *context.Context, lr *Node) *Node {
			return toUnitRange(m.Forward(ctx, lr))
		}, lr)
		lr.MustFinalizeAll()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to upscale image #%d", ii)
		}
		err = exceptions.TryCatch[error](func() {
			results = append(results, images.ToImage().Batch(sr)[0])
		})
		sr.MustFinalizeAll()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to convert upscaled image #%d", ii)
		}
	}
	return results, nil
}
