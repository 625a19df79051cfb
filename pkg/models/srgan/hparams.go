// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package srgan

import (
	"flag"
	"math/bits"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Hyperparameter names, used for flags and as context parameters.
const (
	ParamImageChannels = "image_channels"
	ParamFeatureMaps   = "feature_maps"
	ParamLearningRate  = "learning_rate"
	ParamScaleFactor   = "scale_factor"
	ParamNumResBlocks  = "num_res_blocks"
)

// HParams are the hyperparameters of SRResNet.
type HParams struct {
	// ImageChannels of the input and output images.
	ImageChannels int

	// FeatureMaps is the number of channels of the hidden layers.
	FeatureMaps int

	LearningRate float64

	// ScaleFactor between the low and high resolution images: a power of 2, one upsampling
	// block is used for each factor of 2.
	ScaleFactor int

	NumResBlocks int
}

// DefaultHParams returns the default hyperparameters.
func DefaultHParams() HParams {
	return HParams{
		ImageChannels: 3,
		FeatureMaps:   64,
		LearningRate:  1e-4,
		ScaleFactor:   4,
		NumResBlocks:  16,
	}
}

// AddFlags registers the hyperparameters in fs, using the current values as defaults.
func (hp *HParams) AddFlags(fs *flag.FlagSet) {
	fs.IntVar(&hp.ImageChannels, ParamImageChannels, hp.ImageChannels, "Number of channels of the images.")
	fs.IntVar(&hp.FeatureMaps, ParamFeatureMaps, hp.FeatureMaps, "Number of feature maps of the hidden layers.")
	fs.Float64Var(&hp.LearningRate, ParamLearningRate, hp.LearningRate, "Learning rate of the Adam optimizer.")
	fs.IntVar(&hp.NumResBlocks, ParamNumResBlocks, hp.NumResBlocks, "Number of residual blocks.")
}

// AddScaleFactorFlag registers the scale factor flag. It is separate from AddFlags since
// datamodules that produce low resolution images usually own a flag with the same name.
func (hp *HParams) AddScaleFactorFlag(fs *flag.FlagSet) {
	fs.IntVar(&hp.ScaleFactor, ParamScaleFactor, hp.ScaleFactor,
		"Scale factor between the low and high resolution images, a power of 2.")
}

// Validate the hyperparameters.
func (hp HParams) Validate() error {
	switch {
	case hp.ImageChannels <= 0:
		return errors.Errorf("%s must be > 0, got %d", ParamImageChannels, hp.ImageChannels)
	case hp.FeatureMaps <= 0:
		return errors.Errorf("%s must be > 0, got %d", ParamFeatureMaps, hp.FeatureMaps)
	case hp.LearningRate <= 0:
		return errors.Errorf("%s must be > 0, got %g", ParamLearningRate, hp.LearningRate)
	case hp.ScaleFactor < 2 || bits.OnesCount(uint(hp.ScaleFactor)) != 1:
		return errors.Errorf("%s must be a power of 2 >= 2, got %d", ParamScaleFactor, hp.ScaleFactor)
	case hp.NumResBlocks < 0:
		return errors.Errorf("%s must be >= 0, got %d", ParamNumResBlocks, hp.NumResBlocks)
	}
	return nil
}

// NumUpsampleBlocks is log2(ScaleFactor).
func (hp HParams) NumUpsampleBlocks() int {
	return bits.TrailingZeros(uint(hp.ScaleFactor))
}

// Params returns the hyperparameters keyed by their context parameter names.
func (hp HParams) Params() map[string]any {
	return map[string]any{
		ParamImageChannels: hp.ImageChannels,
		ParamFeatureMaps:   hp.FeatureMaps,
		ParamLearningRate:  hp.LearningRate,
		ParamScaleFactor:   hp.ScaleFactor,
		ParamNumResBlocks:  hp.NumResBlocks,
	}
}

// SetContext stores the hyperparameters as parameters of ctx.
func (hp HParams) SetContext(ctx *context.Context) {
	ctx.SetParams(hp.Params())
}

// HParamsFromContext reads the hyperparameters from ctx, using the defaults for the missing ones.
func HParamsFromContext(ctx *context.Context) HParams {
	hp := DefaultHParams()
	hp.ImageChannels = context.GetParamOr(ctx, ParamImageChannels, hp.ImageChannels)
	hp.FeatureMaps = context.GetParamOr(ctx, ParamFeatureMaps, hp.FeatureMaps)
	hp.LearningRate = context.GetParamOr(ctx, ParamLearningRate, hp.LearningRate)
	hp.ScaleFactor = context.GetParamOr(ctx, ParamScaleFactor, hp.ScaleFactor)
	hp.NumResBlocks = context.GetParamOr(ctx, ParamNumResBlocks, hp.NumResBlocks)
	return hp
}

// ExpectedNumParameters is the number of trainable scalars of the generator.
func ExpectedNumParameters(hp HParams) int {
	c, f := hp.ImageChannels, hp.FeatureMaps
	conv3 := 9*f*f + f // 3x3 convolution F->F with bias.
	bn := 2 * f        // Scale and offset.
	input := 81*c*f + f + 1
	residual := 2*(conv3+bn) + 1
	postResidual := conv3 + bn
	upsample := 9*f*4*f + 4*f + 1
	output := 81*f*c + c
	return input + hp.NumResBlocks*residual + postResidual + hp.NumUpsampleBlocks()*upsample + output
}
