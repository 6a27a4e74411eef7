// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// lenet5_train trains LeNet-5 on MNIST and records training summaries (loss
// scalars and sampled input images) that lenet5_summaries can inspect later.
//
// Example:
//
//	$ lenet5_train --device_target=cpu --data_path=./MNIST_Data --summary_dir=./summary_dir
//
// Hyperparameters can be overridden with --set, e.g.
// --set="batch_size=64;learning_rate=0.1".
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/lenet5"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDeviceTarget = flag.String("device_target", "cpu",
		"Device to train on: \"cpu\", \"cuda\" or \"go\", the pure Go backend.")
	flagDataPath = flag.String("data_path", "./MNIST_Data",
		"Directory where the MNIST files are downloaded to (or found).")
	flagSummaryDir = flag.String("summary_dir", "./summary_dir",
		"Directory where the training summaries are written. One run per directory.")
	flagLearningRate = flag.Float64("learning_rate", 0.01,
		"Learning rate of the momentum optimizer.")
	flagCheckpoint = flag.String("checkpoint", "",
		"Directory to save checkpoints to (and restore from). Empty disables checkpointing.")
)

func main() {
	ctx := lenet5.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	ctx.SetParam(optimizers.ParamLearningRate, *flagLearningRate)
	_ = must.M1(commandline.ParseContextSettings(ctx, *settings))
	backend := backendFor(*flagDeviceTarget)

	fmt.Println("============== Starting Training ==============")
	must.M(lenet5.Train(backend, ctx, lenet5.Config{
		DataDir:       *flagDataPath,
		SummaryDir:    *flagSummaryDir,
		CheckpointDir: *flagCheckpoint,
		Verbose:       true,
	}))
	fmt.Println("============== Train End =====================")
}

// backendFor maps the device target names to backend configurations. When the
// target is left at its default, the GOMLX_BACKEND environment variable takes
// precedence.
func backendFor(deviceTarget string) backends.Backend {
	if deviceTarget == "cpu" {
		if _, found := os.LookupEnv(backends.ConfigEnvVar); found {
			return backends.MustNew()
		}
	}
	switch deviceTarget {
	case "cpu":
		return must.M1(backends.NewWithConfig("xla:cpu"))
	case "cuda":
		return must.M1(backends.NewWithConfig("xla:cuda"))
	case "go":
		return must.M1(backends.NewWithConfig("go"))
	}
	klog.Fatalf("unknown --device_target=%q: valid values are cpu, cuda and go", deviceTarget)
	return nil
}
