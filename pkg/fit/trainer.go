// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gomlx/bolts/pkg/datamodules/datamodule"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ui/gonb/plotly"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// LogsDirName is the directory under Config.DefaultRootDir holding the run directories.
	LogsDirName = "lightning_logs"

	// CheckpointsDirName is the directory under the run directory holding the checkpoints.
	CheckpointsDirName = "checkpoints"
)

// Names of the logged metrics.
const (
	MetricLoss      = "loss"
	MetricLossStep  = "loss_step"
	MetricLossEpoch = "loss_epoch"
	MetricValLoss   = "val_loss"
	MetricTestLoss  = "test_loss"
)

// ParamsExcludedFromSaving are context parameters that only configure the run, and are not
// saved with the checkpoints.
var ParamsExcludedFromSaving = []string{plotly.ParamPlots}

// Trainer fits Modules to DataModules.
type Trainer struct {
	cfg       Config
	callbacks []Callback
	backend   backends.Backend

	module  Module
	dm      datamodule.DataModule
	valDS   train.Dataset
	trainer *train.Trainer
	runDir  string
	logger  *CSVLogger

	globalStep, epoch int
	logged            map[string]float64

	// Loss of the epoch being trained.
	epochLossSum   float64
	epochLossCount int
}

// NewTrainer creates a Trainer with the given options and callbacks.
func NewTrainer(cfg Config, callbacks ...Callback) *Trainer {
	return &Trainer{
		cfg:       cfg,
		callbacks: callbacks,
		logged:    make(map[string]float64),
	}
}

// WithBackend sets the backend to use, instead of creating one from Config.Backend.
func (t *Trainer) WithBackend(backend backends.Backend) *Trainer {
	t.backend = backend
	return t
}

// Backend used for training, created on first use.
func (t *Trainer) Backend() (backends.Backend, error) {
	if t.backend != nil {
		return t.backend, nil
	}
	var err error
	if t.cfg.Backend == "" {
		t.backend, err = backends.New()
	} else {
		t.backend, err = backends.NewWithConfig(t.cfg.Backend)
	}
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create backend")
	}
	klog.V(1).Infof("backend %q: %s", t.backend.Name(), t.backend.Description())
	return t.backend, nil
}

// Config returns the Trainer options.
func (t *Trainer) Config() Config { return t.cfg }

// GlobalStep is the number of training steps taken by the module so far.
func (t *Trainer) GlobalStep() int { return t.globalStep }

// CurrentEpoch is the epoch being trained, or the number of epochs trained after Fit.
func (t *Trainer) CurrentEpoch() int { return t.epoch }

// RunDir is the directory of the current (or last) Fit run.
func (t *Trainer) RunDir() string { return t.runDir }

// Module being fitted.
func (t *Trainer) Module() Module { return t.module }

// DataModule being fitted on.
func (t *Trainer) DataModule() datamodule.DataModule { return t.dm }

// LoggedMetrics returns a copy of the last value of each metric logged.
func (t *Trainer) LoggedMetrics() map[string]float64 {
	metrics := make(map[string]float64, len(t.logged))
	for name, value := range t.logged {
		metrics[name] = value
	}
	return metrics
}

// Fit trains module on the training split of dm, for Config.MaxEpochs epochs or
// Config.MaxSteps steps, whichever comes first.
func (t *Trainer) Fit(module Module, dm datamodule.DataModule) error {
	if err := t.cfg.Validate(); err != nil {
		return err
	}
	t.module, t.dm = module, dm
	t.logged = make(map[string]float64)
	t.epoch, t.globalStep = 0, 0
	t.epochLossSum, t.epochLossCount = 0, 0
	backend, err := t.Backend()
	if err != nil {
		return err
	}
	if err = dm.PrepareData(); err != nil {
		return errors.WithMessagef(err, "datamodule %q failed to prepare data", dm.Name())
	}
	if err = dm.Setup(backend, datamodule.StageFit); err != nil {
		return errors.WithMessagef(err, "datamodule %q failed to set up for %s", dm.Name(), datamodule.StageFit)
	}
	trainDS := dm.TrainDataset()
	if trainDS == nil {
		return errors.Errorf("datamodule %q has no training data", dm.Name())
	}
	trainDS = withLabels{trainDS}
	valDS := dm.ValDataset()
	if valDS != nil {
		valDS = withLabels{valDS}
	}
	t.valDS = valDS

	t.runDir, err = newRunDir(filepath.Join(t.cfg.RootDir(), LogsDirName))
	if err != nil {
		return err
	}
	klog.Infof("run directory: %s", t.runDir)
	t.logger, err = NewCSVLogger(t.runDir)
	if err != nil {
		return err
	}

	t.trainer, err = t.newTrainer(module)
	if err != nil {
		return err
	}
	ctx := module.Context()
	if t.cfg.EnableModelSummary {
		fmt.Println(ModelSummary(ctx, context.RootScope))
	}

	loop := train.NewLoop(t.trainer)
	loop.OnStep("fit: log loss", 200, t.onStep)
	loop.OnEnd("fit: log loss", 200, func(loop *train.Loop, _ []*tensors.Tensor) error {
		return t.endEpoch()
	})
	if t.cfg.EnableProgressBar {
		commandline.AttachProgressBar(loop)
	}

	var checkpoint *checkpoints.Handler
	if t.cfg.EnableCheckpointing && t.cfg.FastDevRun <= 0 {
		checkpoint, err = checkpoints.Build(ctx).
			Dir(filepath.Join(t.runDir, CheckpointsDirName)).
			Keep(t.cfg.NumCheckpoints).
			ExcludeParams(ParamsExcludedFromSaving...).
			Done()
		if err != nil {
			return errors.WithMessage(err, "failed to create checkpoints")
		}
		train.PeriodicCallback(loop, t.cfg.CheckpointPeriod, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}
	if t.cfg.Plots {
		plotDatasets := []train.Dataset{}
		if valDS != nil {
			plotDatasets = append(plotDatasets, valDS)
		}
		_ = plotly.New().
			WithCheckpoint(checkpoint).
			Dynamic().
			WithDatasets(plotDatasets...).
			ScheduleExponential(loop, 200, 1.2)
	}
	for _, callback := range t.callbacks {
		if err = callback.Attach(t, loop); err != nil {
			return errors.WithMessagef(err, "failed to attach callback %T", callback)
		}
	}

	start := time.Now()
	err = exceptions.TryCatch[error](func() {
		var runErr error
		ds := &epochEnd{Dataset: trainDS, onEnd: t.endEpoch}
		switch {
		case t.cfg.FastDevRun > 0:
			_, runErr = loop.RunEpochs(datasets.Take(ds, t.cfg.FastDevRun), 1)
		case t.cfg.MaxSteps > 0 && t.cfg.MaxEpochs <= 0:
			_, runErr = loop.RunSteps(newLooping(ds), t.cfg.MaxSteps)
		case t.cfg.MaxSteps > 0:
			_, runErr = loop.RunEpochs(newStepLimited(ds, t.cfg.MaxSteps), t.cfg.MaxEpochs)
		default:
			_, runErr = loop.RunEpochs(ds, t.cfg.MaxEpochs)
		}
		if runErr != nil {
			panic(runErr)
		}
	})
	t.globalStep = int(optimizers.GetGlobalStep(ctx))
	t.epoch = loop.Epoch
	if err != nil {
		return errors.WithMessagef(err, "training failed at step %d", t.globalStep)
	}
	klog.Infof("trained %d steps in %s (median step %s)", t.globalStep,
		commandline.FormatDuration(time.Since(start)), commandline.FormatDuration(loop.MedianTrainStepDuration()))

	if t.cfg.UpdateBatchNormAverages && t.globalStep > 0 {
		trainDS.Reset()
		if _, err = batchnorm.UpdateAverages(t.trainer, trainDS); err != nil {
			return errors.WithMessage(err, "failed to update batch normalization averages")
		}
	}
	if checkpoint != nil {
		if err = checkpoint.Save(); err != nil {
			return errors.WithMessage(err, "failed to save final checkpoint")
		}
	}
	return nil
}

// newTrainer builds the module variables, if it is a Builder, and creates the train.Trainer
// whose model returns the TrainingStep loss (ValidationStep when evaluating).
func (t *Trainer) newTrainer(module Module) (trainer *train.Trainer, err error) {
	ctx := module.Context()
	if builder, ok := module.(Builder); ok {
		if err = builder.Build(t.backend); err != nil {
			return nil, err
		}
		ctx = ctx.Reuse()
	} else {
		// Variables are created by whichever graph is built first.
		ctx = ctx.Checked(false)
	}
	validator, _ := module.(ValidationStepper)
	modelFn := func(ctx *context.Context, _ any, inputs []*Node) []*Node {
		if validator != nil && !ctx.IsTraining(inputs[0].Graph()) {
			return []*Node{validator.ValidationStep(ctx, inputs)}
		}
		return []*Node{module.TrainingStep(ctx, inputs)}
	}
	err = exceptions.TryCatch[error](func() {
		trainer = train.NewTrainer(t.backend, ctx, modelFn, passThroughLoss, module.ConfigureOptimizers(), nil, nil)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create trainer")
	}
	return trainer, nil
}

// passThroughLoss: the model function already returns the loss.
func passThroughLoss(_, predictions []*Node) *Node {
	return predictions[0]
}

func (t *Trainer) onStep(loop *train.Loop, metrics []*tensors.Tensor) error {
	if loop.Epoch != t.epoch {
		// Usually flushed already by epochEnd.
		if err := t.endEpoch(); err != nil {
			return err
		}
		t.epoch = loop.Epoch
	}
	step := loop.LoopStep + 1
	t.globalStep = step
	loss := shapes.ConvertTo[float64](metrics[0].Value())
	t.epochLossSum += loss
	t.epochLossCount++
	t.logged[MetricLoss] = loss
	if step%t.cfg.LogEveryNSteps == 0 {
		t.logged[MetricLossStep] = loss
		t.logger.Log(t.epoch, step, map[string]float64{MetricLossStep: loss})
		klog.V(1).Infof("epoch %d, step %d: %s=%g", t.epoch, step, MetricLossStep, loss)
	}
	return nil
}

// endEpoch logs the epoch loss and, when due, the validation loss. It is called when the
// training data is exhausted, and at the end of the loop. It is a no-op for epochs without
// training steps.
func (t *Trainer) endEpoch() error {
	if t.epochLossCount == 0 {
		return nil
	}
	metrics := map[string]float64{MetricLossEpoch: t.epochLossSum / float64(t.epochLossCount)}
	t.epochLossSum, t.epochLossCount = 0, 0
	if t.valDS != nil && (t.epoch+1)%t.cfg.CheckValEveryNEpoch == 0 {
		valLoss, err := t.evalLoss(t.trainer, t.valDS)
		if err != nil {
			return errors.WithMessagef(err, "validation of epoch %d failed", t.epoch)
		}
		metrics[MetricValLoss] = valLoss
	}
	for name, value := range metrics {
		t.logged[name] = value
		klog.Infof("epoch %d, step %d: %s=%g", t.epoch, t.globalStep, name, value)
	}
	t.logger.Log(t.epoch, t.globalStep, metrics)
	return t.logger.Save()
}

// evalLoss returns the mean loss of the model over ds.
func (t *Trainer) evalLoss(trainer *train.Trainer, ds train.Dataset) (float64, error) {
	results, err := trainer.Eval(ds)
	ds.Reset()
	if err != nil {
		return 0, errors.WithMessagef(err, "evaluating on %q", ds.Name())
	}
	if len(results) == 0 {
		return 0, errors.Errorf("evaluation on %q returned no metrics", ds.Name())
	}
	return shapes.ConvertTo[float64](results[0].Value()), nil
}

// Validate returns the mean validation loss of module on dm.
func (t *Trainer) Validate(module Module, dm datamodule.DataModule) (float64, error) {
	return t.evaluate(module, dm, datamodule.StageValidate, MetricValLoss, dm.ValDataset)
}

// Test returns the mean test loss of module on dm.
func (t *Trainer) Test(module Module, dm datamodule.DataModule) (float64, error) {
	return t.evaluate(module, dm, datamodule.StageTest, MetricTestLoss, dm.TestDataset)
}

func (t *Trainer) evaluate(module Module, dm datamodule.DataModule, stage datamodule.Stage, metric string,
	dsFn func() train.Dataset) (float64, error) {
	if _, err := t.Backend(); err != nil {
		return 0, err
	}
	if err := dm.PrepareData(); err != nil {
		return 0, errors.WithMessagef(err, "datamodule %q failed to prepare data", dm.Name())
	}
	if err := dm.Setup(t.backend, stage); err != nil {
		return 0, errors.WithMessagef(err, "datamodule %q failed to set up for %s", dm.Name(), stage)
	}
	ds := dsFn()
	if ds == nil {
		return 0, errors.Errorf("datamodule %q has no data for %s", dm.Name(), stage)
	}
	ds = withLabels{ds}
	trainer := t.trainer
	if trainer == nil || t.module != module {
		var err error
		if trainer, err = t.newTrainer(module); err != nil {
			return 0, err
		}
		t.trainer, t.module = trainer, module
	}
	loss, err := t.evalLoss(trainer, ds)
	if err != nil {
		return 0, err
	}
	t.logged[metric] = loss
	klog.Infof("%s=%g", metric, loss)
	return loss, nil
}

// newRunDir creates the first unused <logsDir>/version_<N> directory.
func newRunDir(logsDir string) (string, error) {
	if err := os.MkdirAll(logsDir, 0777); err != nil {
		return "", errors.Wrapf(err, "failed to create %q", logsDir)
	}
	for version := 0; ; version++ {
		dir := filepath.Join(logsDir, fmt.Sprintf("version_%d", version))
		err := os.Mkdir(dir, 0777)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", errors.Wrapf(err, "failed to create run directory %q", dir)
		}
	}
}

// withLabels yields the labels after the inputs, so modules see the whole batch.
type withLabels struct {
	train.Dataset
}

func (ds withLabels) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.Dataset.Yield()
	if err != nil || len(labels) == 0 {
		return
	}
	return spec, slices.Concat(inputs, labels), nil, nil
}

// epochEnd calls onEnd when the underlying dataset is exhausted, before the loop resets it.
type epochEnd struct {
	train.Dataset
	onEnd func() error
}

func (ds *epochEnd) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.Dataset.Yield()
	if err == io.EOF {
		if endErr := ds.onEnd(); endErr != nil {
			return nil, nil, nil, endErr
		}
	}
	return
}

// stepLimited ends every epoch once a total number of batches has been yielded, across
// epochs, so RunEpochs stops at a maximum number of steps.
type stepLimited struct {
	train.Dataset
	remaining int
}

func newStepLimited(ds train.Dataset, steps int) *stepLimited {
	return &stepLimited{Dataset: ds, remaining: steps}
}

func (ds *stepLimited) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.remaining <= 0 {
		return nil, nil, nil, io.EOF
	}
	spec, inputs, labels, err = ds.Dataset.Yield()
	if err == nil {
		ds.remaining--
	}
	return
}

// Reset is a no-op once the limit is reached: the remaining epochs are empty.
func (ds *stepLimited) Reset() {
	if ds.remaining > 0 {
		ds.Dataset.Reset()
	}
}

// looping restarts the dataset at the end of each epoch, for RunSteps.
type looping struct {
	train.Dataset
}

func newLooping(ds train.Dataset) *looping {
	return &looping{Dataset: ds}
}

func (ds *looping) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.Dataset.Yield()
	if err == io.EOF {
		ds.Dataset.Reset()
		spec, inputs, labels, err = ds.Dataset.Yield()
	}
	return
}
