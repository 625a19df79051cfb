// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package srgan implements SRResNet, the generator of SRGAN, trained to upscale images by
// minimizing the mean squared error to the high resolution originals.
//
// Images are channels-last. Low resolution inputs are expected in [0, 1], high resolution
// targets and outputs are in [-1, 1] (see srdata.PairDataset).
package srgan

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Scope where the generator variables are created.
const Scope = "srresnet"

// DType of the images and variables.
var DType = dtypes.Float32

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// SRResNet is the model adapter: it owns the context with the hyperparameters and the
// generator variables.
type SRResNet struct {
	ctx *context.Context
	hp  HParams
}

// New validates hp, stores it as parameters of ctx and returns the model.
// Variables are only created when a graph is first built (see Build).
func New(ctx *context.Context, hp HParams) (*SRResNet, error) {
	if err := hp.Validate(); err != nil {
		return nil, errors.WithMessage(err, "srgan.New")
	}
	hp.SetContext(ctx)
	return &SRResNet{ctx: ctx, hp: hp}, nil
}

// Context holding the model hyperparameters and variables.
func (m *SRResNet) Context() *context.Context { return m.ctx }

// HParams the model was created with.
func (m *SRResNet) HParams() HParams { return m.hp }

// Forward upscales the low resolution images lr by the scale factor.
// Shape mismatches surface as panics from the convolutions.
func (m *SRResNet) Forward(ctx *context.Context, lr *Node) *Node {
	return Generator(ctx.In(Scope), lr, m.hp)
}

// TrainingStep returns the mean squared error between the high resolution images and the
// upscaled low resolution ones, for batch = [hr, lr].
func (m *SRResNet) TrainingStep(ctx *context.Context, batch []*Node) *Node {
	if len(batch) != 2 {
		exceptions.Panicf("SRResNet.TrainingStep expects a batch of [hr, lr] images, got %d inputs", len(batch))
	}
	hr, lr := batch[0], batch[1]
	sr := m.Forward(ctx, lr)
	return losses.MeanSquaredError([]*Node{hr}, []*Node{sr})
}

// ConfigureOptimizers returns Adam with the model learning rate.
func (m *SRResNet) ConfigureOptimizers() optimizers.Interface {
	return optimizers.Adam().
		LearningRate(m.hp.LearningRate).
		Betas(adamBeta1, adamBeta2).
		Epsilon(adamEpsilon).
		Done()
}

// Build creates and initializes the generator variables, by running the generator once on a
// small image. It is a no-op for variables that already exist.
func (m *SRResNet) Build(backend backends.Backend) error {
	zeros := tensors.FromShape(m.inputShape(1, 4, 4))
	_, err := context.ExecOnce(backend, m.ctx.Checked(false), func(ctx *context.Context, lr *Node) *Node {
		return m.Forward(ctx, lr)
	}, zeros)
	if err != nil {
		return errors.WithMessage(err, "failed to build SRResNet")
	}
	return nil
}

func (m *SRResNet) inputShape(batchSize, height, width int) shapes.Shape {
	return shapes.Make(DType, batchSize, height, width, m.hp.ImageChannels)
}

// Upscale runs the generator in inference mode on lr, shaped `[batch, height, width, channels]`
// with values in [0, 1]. The result has values in [-1, 1].
func (m *SRResNet) Upscale(backend backends.Backend, lr *tensors.Tensor) (*tensors.Tensor, error) {
	sr, err := context.ExecOnce(backend, m.ctx.Checked(false), func(ctx *context.Context, lr *Node) *Node {
		return m.Forward(ctx, lr)
	}, lr)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to upscale images shaped %s", lr.Shape())
	}
	return sr, nil
}

// NumParameters returns the number of trainable scalars of the generator. It is 0 before Build.
func (m *SRResNet) NumParameters() int {
	var count int
	for v := range m.ctx.In(Scope).IterVariablesInScope() {
		if v.Trainable {
			count += v.Shape().Size()
		}
	}
	return count
}

// Variables returns the generator variables, trainable or not.
func (m *SRResNet) Variables() []*context.Variable {
	var vars []*context.Variable
	for v := range m.ctx.In(Scope).IterVariablesInScope() {
		vars = append(vars, v)
	}
	return vars
}
