// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package srgan

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/bolts/pkg/datamodules/srdata"
	"github.com/gomlx/bolts/pkg/fit"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallHParams() HParams {
	hp := DefaultHParams()
	hp.FeatureMaps = 4
	hp.NumResBlocks = 2
	hp.LearningRate = 1e-3
	hp.ScaleFactor = 2
	return hp
}

func newModel(t *testing.T, hp HParams) *SRResNet {
	m, err := New(context.New(), hp)
	require.NoError(t, err)
	return m
}

func TestHParams(t *testing.T) {
	require.NoError(t, DefaultHParams().Validate())
	for _, mutate := range []func(hp *HParams){
		func(hp *HParams) { hp.ScaleFactor = 3 },
		func(hp *HParams) { hp.ScaleFactor = 1 },
		func(hp *HParams) { hp.FeatureMaps = 0 },
		func(hp *HParams) { hp.LearningRate = 0 },
		func(hp *HParams) { hp.NumResBlocks = -1 },
	} {
		hp := DefaultHParams()
		mutate(&hp)
		assert.Error(t, hp.Validate(), "%+v", hp)
		_, err := New(context.New(), hp)
		assert.Error(t, err)
	}
	assert.Equal(t, 3, HParams{ScaleFactor: 8}.NumUpsampleBlocks())

	// Flags and context parameters.
	hp := DefaultHParams()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	hp.AddFlags(fs)
	hp.AddScaleFactorFlag(fs)
	require.NoError(t, fs.Parse([]string{"-feature_maps=8", "-scale_factor=2", "-learning_rate=0.01"}))
	ctx := context.New()
	hp.SetContext(ctx)
	got := HParamsFromContext(ctx)
	assert.Equal(t, hp, got)
	assert.Equal(t, 8, got.FeatureMaps)
	assert.Equal(t, 2, got.ScaleFactor)
	assert.Equal(t, DefaultHParams(), HParamsFromContext(context.New()))
}

func TestNumParameters(t *testing.T) {
	// Value of the original SRResNet.
	assert.Equal(t, 1_549_462, ExpectedNumParameters(DefaultHParams()))

	backend := graphtest.BuildTestBackend()
	for _, scale := range []int{2, 4} {
		hp := smallHParams()
		hp.ScaleFactor = scale
		m := newModel(t, hp)
		assert.Equal(t, 0, m.NumParameters())
		require.NoError(t, m.Build(backend))
		assert.Equal(t, ExpectedNumParameters(hp), m.NumParameters(), "scale_factor=%d", scale)
		// Building again doesn't create new variables.
		numVars := len(m.Variables())
		require.NoError(t, m.Build(backend))
		assert.Len(t, m.Variables(), numVars)
	}
}

func TestPixelShuffle(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	input := [][][][]float32{{{{0, 1, 2, 3, 4, 5, 6, 7}}}}
	output, err := ExecOnce(backend, func(x *Node) *Node { return PixelShuffle(x, 2) }, input)
	require.NoError(t, err)
	want := [][][][]float32{{
		{{0, 4}, {1, 5}},
		{{2, 6}, {3, 7}},
	}}
	assert.Equal(t, want, output.Value())

	_, err = ExecOnce(backend, func(x *Node) *Node { return PixelShuffle(x, 2) }, [][][][]float32{{{{0, 1, 2}}}})
	assert.Error(t, err, "channels not divisible by factor^2")
}

func TestUpscale(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m := newModel(t, smallHParams())
	lr := tensors.FromShape(m.inputShape(2, 5, 6))
	sr, err := m.Upscale(backend, lr)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 10, 12, 3}, sr.Shape().Dimensions)
	for _, v := range tensors.MustCopyFlatData[float32](sr) {
		require.True(t, v >= -1 && v <= 1, "output %g out of [-1, 1]", v)
	}

	// Wrong number of channels.
	_, err = m.Upscale(backend, tensors.FromShape(shapes.Make(DType, 1, 4, 4, 1)))
	assert.Error(t, err)
}

func TestTrainingStepLoss(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m := newModel(t, smallHParams())
	require.NoError(t, m.Build(backend))
	lr := randomImages(t, backend, 2, 4, 4)
	sr, err := m.Upscale(backend, lr)
	require.NoError(t, err)

	lossFn := func(ctx *context.Context, hr, lr *Node) *Node {
		return m.TrainingStep(ctx, []*Node{hr, lr})
	}
	loss, err := context.ExecOnce(backend, m.Context().Reuse(), lossFn, sr, lr)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, tensors.ToScalar[float32](loss), 1e-6)

	hr := tensors.FromShape(sr.Shape()) // All zeros.
	loss, err = context.ExecOnce(backend, m.Context().Reuse(), lossFn, hr, lr)
	require.NoError(t, err)
	var want float64
	for _, v := range tensors.MustCopyFlatData[float32](sr) {
		want += float64(v) * float64(v)
	}
	want /= float64(sr.Shape().Size())
	assert.InDelta(t, want, tensors.ToScalar[float32](loss), 1e-5)

	_, err = context.ExecOnce(backend, m.Context().Reuse(), func(ctx *context.Context, lr *Node) *Node {
		return m.TrainingStep(ctx, []*Node{lr})
	}, lr)
	assert.Error(t, err, "batch with a single input")
}

// randomImages returns a batch of images with values in [0, 1].
func randomImages(t *testing.T, backend backends.Backend, batchSize, height, width int) *tensors.Tensor {
	ctx := context.New()
	ctx.RngStateFromSeed(42)
	imgs, err := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		return ctx.RandomUniform(g, shapes.Make(DType, batchSize, height, width, 3))
	})
	require.NoError(t, err)
	return imgs
}

// gradientImages is an ImageSource of 20x20 images, each with a different color gradient.
type gradientImages int

func (n gradientImages) Len() int { return int(n) }

func (n gradientImages) Image(idx int) (image.Image, error) {
	img := imaging.New(20, 20, color.Black)
	for y := range 20 {
		for x := range 20 {
			img.Set(x, y, color.NRGBA{R: uint8(12 * x), G: uint8(12 * y), B: uint8(40 * idx), A: 255})
		}
	}
	return img, nil
}

// pairsDataModule serves in-memory image pairs.
type pairsDataModule struct {
	trainDS, valDS train.Dataset
}

func newPairsDataModule(t *testing.T, numTrain, numVal, batchSize, hrSize, scaleFactor int) *pairsDataModule {
	dm := &pairsDataModule{}
	var err error
	dm.trainDS, err = srdata.NewPairDataset(
		datamodule.NewImageDataset("train", gradientImages(numTrain), nil).BatchSize(batchSize, false),
		hrSize, scaleFactor, true)
	require.NoError(t, err)
	if numVal > 0 {
		dm.valDS, err = srdata.NewPairDataset(
			datamodule.NewImageDataset("val", gradientImages(numVal), nil).BatchSize(batchSize, false),
			hrSize, scaleFactor, false)
		require.NoError(t, err)
	}
	return dm
}

func (dm *pairsDataModule) Name() string       { return "pairs" }
func (dm *pairsDataModule) PrepareData() error { return nil }
func (dm *pairsDataModule) Dims() []int        { return []int{16, 16, 3} }

func (dm *pairsDataModule) AddFlags(*flag.FlagSet) {}

func (dm *pairsDataModule) Setup(backends.Backend, datamodule.Stage) error { return nil }

func (dm *pairsDataModule) TrainDataset() train.Dataset { return dm.trainDS }
func (dm *pairsDataModule) ValDataset() train.Dataset   { return dm.valDS }
func (dm *pairsDataModule) TestDataset() train.Dataset  { return dm.valDS }

func testConfig(t *testing.T) fit.Config {
	cfg := fit.DefaultConfig()
	cfg.DefaultRootDir = t.TempDir()
	cfg.EnableProgressBar = false
	cfg.EnableModelSummary = false
	cfg.LogEveryNSteps = 1
	return cfg
}

func TestFit(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	hp := smallHParams()
	hp.NumResBlocks = 1
	m := newModel(t, hp)
	dm := newPairsDataModule(t, 6, 4, 2, 16, hp.ScaleFactor)

	cfg := testConfig(t)
	cfg.MaxEpochs = 2
	imageLogger := NewImageLogger(2, hp.ScaleFactor).WithNumSamples(3)
	trainer := fit.NewTrainer(cfg, imageLogger).WithBackend(backend)
	require.NoError(t, trainer.Fit(m, dm))

	assert.Equal(t, 6, trainer.GlobalStep())
	assert.Equal(t, 6, int(optimizers.GetGlobalStep(m.Context())))
	metrics := trainer.LoggedMetrics()
	for _, name := range []string{fit.MetricLoss, fit.MetricLossEpoch, fit.MetricValLoss} {
		value, found := metrics[name]
		require.True(t, found, "metric %q not logged", name)
		assert.False(t, math.IsNaN(value) || math.IsInf(value, 0), "%s=%g", name, value)
		assert.GreaterOrEqual(t, value, 0.0)
	}

	// The Adam moments are exactly those of the trainable generator variables.
	ctx := m.Context()
	adamScope := context.ScopeSeparator + optimizers.AdamDefaultScope
	wantMoments := make(map[string]bool)
	for _, v := range m.Variables() {
		if !v.Trainable {
			continue
		}
		scope := adamScope + v.Scope()
		for _, suffix := range []string{"_1st_moment", "_2nd_moment"} {
			assert.NotNil(t, ctx.GetVariableByScopeAndName(scope, v.Name()+suffix), "%s/%s", v.Scope(), v.Name())
			wantMoments[scope+context.ScopeSeparator+v.Name()+suffix] = true
		}
	}
	for v := range ctx.InAbsPath(adamScope).IterVariablesInScope() {
		name := v.Name()
		if !strings.HasSuffix(name, "_1st_moment") && !strings.HasSuffix(name, "_2nd_moment") {
			continue
		}
		key := v.Scope() + context.ScopeSeparator + name
		assert.True(t, wantMoments[key], "moment %q has no generator variable", key)
		delete(wantMoments, key)
	}
	assert.Empty(t, wantMoments)

	// Outputs of the run.
	for _, step := range []int{2, 4, 6} {
		path := filepath.Join(trainer.RunDir(), ImagesDirName, fmt.Sprintf("sr-step=%d.png", step))
		img, err := imaging.Open(path)
		require.NoError(t, err)
		// 3 columns of 16x16 images and 3 rows, plus padding.
		assert.Equal(t, image.Rect(0, 0, 3*18+2, 3*18+2), img.Bounds())
	}
	_, err := os.Stat(filepath.Join(trainer.RunDir(), fit.MetricsFileName))
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(trainer.RunDir(), fit.CheckpointsDirName))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	valLoss, err := trainer.Validate(m, dm)
	require.NoError(t, err)
	assert.InDelta(t, metrics[fit.MetricValLoss], valLoss, 1e-5)

	// The trained network survives a Save/Load round trip.
	path := filepath.Join(t.TempDir(), ArtifactName(cfg.MaxEpochs, trainer.GlobalStep()))
	assert.Equal(t, "srresnet-epoch=2-step=6.pt", filepath.Base(path))
	require.NoError(t, m.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, hp, loaded.HParams())

	lr := randomImages(t, backend, 2, 6, 6)
	want, err := m.Upscale(backend, lr)
	require.NoError(t, err)
	got, err := loaded.Upscale(backend, lr)
	require.NoError(t, err)
	assert.Equal(t, m.NumParameters(), loaded.NumParameters())
	assert.InDeltaSlice(t, tensors.MustCopyFlatData[float32](want), tensors.MustCopyFlatData[float32](got), 1e-6)
}

func TestFitWithoutValidation(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	hp := smallHParams()
	hp.NumResBlocks = 0
	m := newModel(t, hp)
	dm := newPairsDataModule(t, 3, 0, 3, 16, hp.ScaleFactor)

	cfg := testConfig(t)
	cfg.MaxEpochs = 1
	cfg.EnableCheckpointing = false
	trainer := fit.NewTrainer(cfg, NewImageLogger(1, hp.ScaleFactor)).WithBackend(backend)
	require.NoError(t, trainer.Fit(m, dm))
	assert.Equal(t, 1, trainer.GlobalStep())
	_, found := trainer.LoggedMetrics()[fit.MetricValLoss]
	assert.False(t, found)
	// Samples are taken from the training data.
	_, err := os.Stat(filepath.Join(trainer.RunDir(), ImagesDirName, "sr-step=1.png"))
	require.NoError(t, err)

	assert.Error(t, fit.NewTrainer(cfg, NewImageLogger(0, 2)).WithBackend(backend).Fit(m, dm))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.pt"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "garbage.pt")
	require.NoError(t, os.WriteFile(path, []byte("not an artifact"), 0666))
	_, err = Load(path)
	assert.Error(t, err)

	assert.Error(t, newModel(t, smallHParams()).Save(filepath.Join(t.TempDir(), "unbuilt.pt")))
}
