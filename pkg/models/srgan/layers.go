// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package srgan

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

const (
	// PReLUInitialAlpha is the initial slope of the negative part of PReLU.
	PReLUInitialAlpha = 0.25

	batchNormMomentum = 0.9
	batchNormEpsilon  = 1e-5
)

// PReLU is a leaky ReLU with one learnable slope for the negative values, shared by all
// channels. The slope is stored as variable "alpha" in the "prelu" scope of ctx.
func PReLU(ctx *context.Context, x *Node) *Node {
	alphaVar := ctx.In("prelu").VariableWithValue("alpha", shapes.CastAsDType(PReLUInitialAlpha, x.DType()))
	alpha := alphaVar.ValueGraph(x.Graph())
	return Add(MaxScalar(x, 0.0), Mul(alpha, MinScalar(x, 0.0)))
}

// PixelShuffle rearranges `[batch, height, width, channels*factor*factor]` into
// `[batch, height*factor, width*factor, channels]`: each group of factor*factor consecutive
// channels becomes a factor x factor spatial block.
func PixelShuffle(x *Node, factor int) *Node {
	if x.Rank() != 4 {
		exceptions.Panicf("PixelShuffle requires images shaped [batch, height, width, channels], got %s", x.Shape())
	}
	dims := x.Shape().Dimensions
	batchSize, height, width, channels := dims[0], dims[1], dims[2], dims[3]
	if channels%(factor*factor) != 0 {
		exceptions.Panicf("PixelShuffle(factor=%d) requires channels divisible by %d, got shape %s",
			factor, factor*factor, x.Shape())
	}
	outChannels := channels / (factor * factor)
	x = Reshape(x, batchSize, height, width, outChannels, factor, factor)
	x = TransposeAllDims(x, 0, 1, 4, 2, 5, 3)
	return Reshape(x, batchSize, height*factor, width*factor, outChannels)
}

// conv is a same-padded 2D convolution with bias.
func conv(ctx *context.Context, x *Node, channels, kernelSize int) *Node {
	return layers.Convolution(ctx, x).Channels(channels).KernelSize(kernelSize).PadSame().UseBias(true).Done()
}

func batchNorm(ctx *context.Context, x *Node) *Node {
	return batchnorm.New(ctx, x, -1).Momentum(batchNormMomentum).Epsilon(batchNormEpsilon).Done()
}

// convBN is a 3x3 convolution followed by batch normalization.
func convBN(ctx *context.Context, x *Node) *Node {
	x = conv(ctx, x, x.Shape().Dimensions[3], 3)
	return batchNorm(ctx, x)
}

// residualBlock: conv, BN, PReLU, conv, BN, plus the skip connection.
func residualBlock(ctx *context.Context, x *Node) *Node {
	residual := convBN(ctx.In("block_1"), x)
	residual = PReLU(ctx.In("block_1"), residual)
	residual = convBN(ctx.In("block_2"), residual)
	return Add(x, residual)
}

// upsampleBlock doubles the spatial dimensions: conv to 4x the channels, PixelShuffle(2), PReLU.
func upsampleBlock(ctx *context.Context, x *Node) *Node {
	x = conv(ctx, x, 4*x.Shape().Dimensions[3], 3)
	x = PixelShuffle(x, 2)
	return PReLU(ctx, x)
}

// Generator builds the SRResNet generator graph: it maps low resolution images
// `[batch, height, width, image_channels]` to high resolution images
// `[batch, height*scale_factor, width*scale_factor, image_channels]` with values in [-1, 1].
func Generator(ctx *context.Context, lr *Node, hp HParams) *Node {
	x := conv(ctx.In("input"), lr, hp.FeatureMaps, 9)
	x = PReLU(ctx.In("input"), x)
	skip := x
	for ii := range hp.NumResBlocks {
		x = residualBlock(ctx.Inf("residual_%03d", ii), x)
	}
	x = convBN(ctx.In("post_residual"), x)
	x = Add(x, skip)
	for ii := range hp.NumUpsampleBlocks() {
		x = upsampleBlock(ctx.Inf("upsample_%d", ii), x)
	}
	x = conv(ctx.In("output"), x, hp.ImageChannels, 9)
	return Tanh(x)
}
