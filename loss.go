// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lenet5

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// LossGraph returns the mean softmax cross-entropy between the logits and the
// true categories: the labels are one-hot encoded to the number of classes and
// the per-example losses -sum(labels * logsoftmax(logits)) are reduced to one
// scalar by the mean over the batch. It is non-negative.
//
// labels[0] must be an integer vector shaped (batchSize) with values in
// [0, numClasses), and logits[0] a float (batchSize, numClasses) matrix.
func LossGraph(labels, logits []*Node) *Node {
	labels0, logits0 := labels[0], logits[0]
	if logits0.Rank() != 2 {
		Panicf("LossGraph expects logits shaped (batchSize, numClasses), got %s", logits0.Shape())
	}
	batchSize := logits0.Shape().Dimensions[0]
	if !labels0.DType().IsInt() || labels0.Rank() != 1 || labels0.Shape().Dimensions[0] != batchSize {
		Panicf("LossGraph expects integer labels shaped (%d), got %s", batchSize, labels0.Shape())
	}
	numClasses := logits0.Shape().Dimensions[1]
	labelsOneHot := OneHot(labels0, numClasses, logits0.DType())
	logProbs := LogSoftmax(logits0, -1)
	losses := ReduceSum(Neg(Mul(labelsOneHot, logProbs)), -1)
	return ReduceAllMean(losses)
}
