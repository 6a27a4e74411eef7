package momentum_test

import (
	"fmt"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/lenet5/momentum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestMomentumSteps(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().Checked(false)
	opt := momentum.New().LearningRate(0.1).Momentum(0.5).Done()

	stepExec, err := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		ctx.SetTraining(g, true)
		wVar := ctx.In("model").VariableWithValue("w", float32(1))
		w := wVar.ValueGraph(g)
		loss := MulScalar(Mul(w, w), 0.5)
		opt.UpdateGraph(ctx, g, loss)
		return wVar.ValueGraph(g)
	})
	require.NoError(t, err)

	// With w0=1, lr=0.1 and momentum=0.5 the gradient is w, so:
	//	step 1: v=1.00, w=0.900
	//	step 2: v=1.40, w=0.760
	//	step 3: v=1.46, w=0.614
	wantW := []float32{0.9, 0.76, 0.614}
	wantV := []float32{1.0, 1.4, 1.46}
	for step, want := range wantW {
		wT, err := stepExec.Exec1()
		require.NoErrorf(t, err, "failed at step %d", step+1)
		require.InDeltaf(t, want, tensors.ToScalar[float32](wT), 1e-6, "w after step %d", step+1)

		velVar := ctx.GetVariableByScopeAndName("/MomentumOptimizer/model", "w_velocity")
		require.NotNilf(t, velVar, "velocity variable not created by step %d", step+1)
		assert.False(t, velVar.Trainable, "velocity variables must not be trainable")
		require.InDeltaf(t, wantV[step], tensors.ToScalar[float32](velVar.MustValue()), 1e-6,
			"velocity after step %d", step+1)
	}
	assert.Equal(t, int64(len(wantW)), optimizers.GetGlobalStep(ctx))

	require.NoError(t, opt.Clear(ctx))
	assert.Nil(t, ctx.GetVariableByScopeAndName("/MomentumOptimizer/model", "w_velocity"),
		"Clear should delete the velocity variables")
	assert.NotNil(t, ctx.GetVariableByScopeAndName("/model", "w"),
		"Clear should leave the model weights alone")
}

func TestMomentumFromContext(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().Checked(false)
	ctx.SetParam(optimizers.ParamOptimizer, momentum.Name)
	ctx.SetParam(optimizers.ParamLearningRate, 0.1)
	ctx.SetParam(momentum.ParamMomentum, 0.0)

	opt := optimizers.FromContext(ctx)
	require.Contains(t, fmt.Sprintf("%T", opt), "momentum.",
		"expected the registered momentum optimizer, got %T", opt)

	stepExec, err := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		ctx.SetTraining(g, true)
		wVar := ctx.In("model").VariableWithValue("w", float32(1))
		w := wVar.ValueGraph(g)
		loss := MulScalar(Mul(w, w), 0.5)
		opt.UpdateGraph(ctx, g, loss)
		return wVar.ValueGraph(g)
	})
	require.NoError(t, err)

	// Momentum 0 makes this plain SGD: w <- w - lr*w, a factor of 0.9 per step.
	for step, want := range []float32{0.9, 0.81} {
		wT, err := stepExec.Exec1()
		require.NoErrorf(t, err, "failed at step %d", step+1)
		require.InDeltaf(t, want, tensors.ToScalar[float32](wT), 1e-6, "w after step %d", step+1)
	}
}
