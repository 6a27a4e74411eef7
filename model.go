// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lenet5 trains the classic LeNet-5 convolutional network on MNIST,
// recording loss scalars and sampled input images as training summaries.
//
// The model, the loss and the momentum optimizer (package momentum) are usable
// on their own; Train assembles them with the mnist input pipeline and the
// summaries writer into the full training recipe. The cmd/lenet5_train binary
// is a thin flag wrapper around Train.
package lenet5

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/lenet5/mnist"
)

// initStddev is the standard deviation of the truncated-normal initialization
// of every weight and bias of the model.
const initStddev = 0.02

// ModelGraph builds the LeNet-5 graph: two valid-padding 5x5 convolutions (6
// and 16 filters, no bias), each followed by ReLU and 2x2/2 max-pooling, then
// dense layers of 120, 84 and 10 units, with bias, ReLU in between.
//
// inputs[0] must be a (batchSize, 1, 32, 32) float32 batch of images, channels
// first. It returns the logits, shaped (batchSize, 10). The spec is ignored.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	ctx = ctx.In("model").WithInitializer(TruncatedNormalFn(ctx, initStddev))
	x := inputs[0]
	batchSize := x.Shape().Dimensions[0]
	x.AssertDims(batchSize, 1, mnist.TargetSize, mnist.TargetSize)

	x = layers.Convolution(ctx.In("conv1"), x).
		Filters(6).KernelSize(5).UseBias(false).
		ChannelsAxis(images.ChannelsFirst).Done()
	x = activations.Relu(x)
	x = MaxPool(x).ChannelsAxis(images.ChannelsFirst).Window(2).Strides(2).Done()

	x = layers.Convolution(ctx.In("conv2"), x).
		Filters(16).KernelSize(5).UseBias(false).
		ChannelsAxis(images.ChannelsFirst).Done()
	x = activations.Relu(x)
	x = MaxPool(x).ChannelsAxis(images.ChannelsFirst).Window(2).Strides(2).Done()
	x.AssertDims(batchSize, 16, 5, 5)

	// Flatten the feature maps and classify.
	x = Reshape(x, batchSize, -1)
	x = activations.Relu(layers.DenseWithBias(ctx.In("fc1"), x, 120))
	x = activations.Relu(layers.DenseWithBias(ctx.In("fc2"), x, 84))
	logits := layers.DenseWithBias(ctx.In("fc3"), x, mnist.NumClasses)
	logits.AssertDims(batchSize, mnist.NumClasses)
	return []*Node{logits}
}
