// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lenet5

import (
	"math"
	"math/rand"
	"sync"
	"time"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
)

// TruncatedNormalFn returns a variable initializer that draws from a normal
// distribution with mean 0 and the given standard deviation, redrawing any
// sample that falls outside two standard deviations.
//
// The seed is read from the context hyperparameter initializers.ParamInitialSeed
// when the initializer is created; a zero seed picks one from the clock. The
// values are sampled on the host and enter the graph as a constant, so for a
// fixed seed the initialization is deterministic.
func TruncatedNormalFn(ctx *context.Context, stddev float64) context.VariableInitializer {
	seed := context.GetParamOr(ctx, initializers.ParamInitialSeed, int64(0))
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	var mu sync.Mutex
	return func(g *Graph, shape shapes.Shape) *Node {
		if shape.DType != dtypes.Float32 && shape.DType != dtypes.Float64 {
			Panicf("cannot initialize non-float variable with TruncatedNormalFn -- shape requested %s", shape)
		}
		mu.Lock()
		defer mu.Unlock()
		values := make([]float64, shape.Size())
		for ii := range values {
			v := rng.NormFloat64() * stddev
			for math.Abs(v) > 2*stddev {
				v = rng.NormFloat64() * stddev
			}
			values[ii] = v
		}
		if shape.DType == dtypes.Float64 {
			return Const(g, tensors.FromFlatDataAndDimensions(values, shape.Dimensions...))
		}
		values32 := make([]float32, len(values))
		for ii, v := range values {
			values32[ii] = float32(v)
		}
		return Const(g, tensors.FromFlatDataAndDimensions(values32, shape.Dimensions...))
	}
}
