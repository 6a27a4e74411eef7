// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lenet5

import (
	"math/rand"
	"os"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/lenet5/mnist"
	"github.com/gomlx/lenet5/momentum"
	"github.com/gomlx/lenet5/summaries"
	"github.com/pkg/errors"
)

// CreateDefaultContext returns a context with the hyperparameters of the
// classic recipe. All of them can be overridden with the settings flag
// (commandline.CreateContextSettingsFlag) or context.SetParam.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// Input pipeline: batch_size batches, drawn from a shuffle_buffer
		// sized window, the whole sequence repeated repeat_size times per
		// epoch. num_parallel_workers > 1 turns on read-ahead parallelism.
		"batch_size":           32,
		"shuffle_buffer":       10000,
		"repeat_size":          1,
		"num_parallel_workers": 1,
		"train_epochs":         1,

		// eval_batch_size can be larger than training, it's more efficient.
		"eval_batch_size": 1000,

		"num_checkpoints": 3,

		// Summaries are flushed (and the last input batch snapshotted) every
		// summary_steps training steps.
		"summary_steps": 10,

		optimizers.ParamOptimizer:    momentum.Name,
		optimizers.ParamLearningRate: momentum.DefaultLearningRate,
		momentum.ParamMomentum:       momentum.DefaultMomentum,
	})
	return ctx
}

// Config holds the file-system side of a training run. The numeric
// hyperparameters live in the context (see CreateDefaultContext).
type Config struct {
	// DataDir is where the MNIST files are downloaded to (or found).
	DataDir string

	// SummaryDir receives manifest.json, scalars.json and images/. One
	// training run per directory.
	SummaryDir string

	// CheckpointDir, if set, saves (and restores) the model from there.
	CheckpointDir string

	// Verbose attaches a progress bar and reports train/test accuracy at the
	// end.
	Verbose bool
}

// Train downloads MNIST if needed and runs the full training recipe on it:
// the LeNet-5 model, softmax cross-entropy loss and the momentum optimizer,
// for train_epochs epochs over the shuffled, batched (and optionally repeated)
// train partition. The loss of every step and a PNG grid of the latest input
// batch every summary_steps steps are recorded under cfg.SummaryDir; the
// summary writer is closed on every exit path.
func Train(backend backends.Backend, ctx *context.Context, cfg Config) error {
	dataDir := fsutil.MustReplaceTildeInDir(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0777); err != nil {
		return errors.Wrapf(err, "failed to create data directory %q", dataDir)
	}
	if err := mnist.Download(dataDir); err != nil {
		return err
	}

	batchSize := context.GetParamOr(ctx, "batch_size", 32)
	epochs := context.GetParamOr(ctx, "train_epochs", 1)

	writer, err := summaries.NewWriter(cfg.SummaryDir, backend.Name(), map[string]any{
		"batch_size":                 batchSize,
		"train_epochs":               epochs,
		optimizers.ParamOptimizer:    context.GetParamOr(ctx, optimizers.ParamOptimizer, momentum.Name),
		optimizers.ParamLearningRate: context.GetParamOr(ctx, optimizers.ParamLearningRate, momentum.DefaultLearningRate),
		momentum.ParamMomentum:       context.GetParamOr(ctx, momentum.ParamMomentum, momentum.DefaultMomentum),
	})
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	// Checkpoint: it loads if already exists, and it will save as we train.
	var checkpoint *checkpoints.Handler
	if cfg.CheckpointDir != "" {
		numCheckpoints := context.GetParamOr(ctx, "num_checkpoints", 3)
		checkpoint, err = checkpoints.Build(ctx).
			Dir(fsutil.MustReplaceTildeInDir(cfg.CheckpointDir)).
			Keep(numCheckpoints).Done()
		if err != nil {
			return err
		}
	}

	// Training pipeline: shuffle -> batch (dropping the trailing partial
	// batch) -> repeat, with the observer snapshotting batches for the image
	// summaries.
	trainDS, err := mnist.NewDataset("train", dataDir, mnist.Train)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	pipeline := mnist.Shuffle(trainDS, context.GetParamOr(ctx, "shuffle_buffer", 10000), rng)
	pipeline = mnist.Batch(pipeline, batchSize, true)
	pipeline = mnist.Repeat(pipeline, context.GetParamOr(ctx, "repeat_size", 1))
	observed := summaries.Observe(pipeline)
	var ds train.Dataset = observed
	if context.GetParamOr(ctx, "num_parallel_workers", 1) > 1 {
		ds = datasets.Parallel(observed)
	}

	movingAccuracy := metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)
	meanAccuracy := metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")
	trainer := train.NewTrainer(backend, ctx, ModelGraph, LossGraph,
		optimizers.FromContext(ctx),
		[]metrics.Interface{movingAccuracy}, // trainMetrics
		[]metrics.Interface{meanAccuracy})   // evalMetrics
	if optimizers.GetGlobalStep(ctx) > 0 {
		// Resuming from a checkpoint: all variables already exist.
		trainer.SetContext(ctx.Reuse())
	}

	loop := train.NewLoop(trainer)
	if cfg.Verbose {
		commandline.AttachProgressBar(loop)
	}

	loop.OnStep("summaries: loss", 100, func(loop *train.Loop, stepMetrics []*tensors.Tensor) error {
		writer.Scalar("loss", loop.LoopStep, shapes.ConvertTo[float64](stepMetrics[0].Value()))
		return nil
	})
	summarySteps := context.GetParamOr(ctx, "summary_steps", 10)
	train.EveryNSteps(loop, summarySteps, "summaries: flush", 110,
		func(loop *train.Loop, _ []*tensors.Tensor) error {
			if batch := observed.LastBatch(); batch != nil {
				err := writer.Image("input_images", loop.LoopStep, batch)
				batch.MustFinalizeAll()
				if err != nil {
					return err
				}
			}
			return writer.Flush()
		})
	if checkpoint != nil {
		train.PeriodicCallback(loop, time.Minute, true, "saving checkpoint", 100, checkpoint.OnStepFn)
	}

	if _, err = loop.RunEpochs(ds, epochs); err != nil {
		return err
	}
	if err = writer.Flush(); err != nil {
		return err
	}

	if cfg.Verbose {
		// Report train and test accuracy on in-memory copies of the
		// partitions, which evaluate much faster.
		evalBatchSize := context.GetParamOr(ctx, "eval_batch_size", 1000)
		trainEvalDS, err := mnist.InMemory(backend, dataDir, mnist.Train, cfg.Verbose)
		if err != nil {
			return err
		}
		testEvalDS, err := mnist.InMemory(backend, dataDir, mnist.Test, cfg.Verbose)
		if err != nil {
			return err
		}
		err = commandline.ReportEval(trainer,
			trainEvalDS.BatchSize(evalBatchSize, false),
			testEvalDS.BatchSize(evalBatchSize, false))
		if err != nil {
			return err
		}
	}
	return writer.Close()
}
