// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package momentum implements stochastic gradient descent with classic
// (heavy-ball) momentum as an optimizers.Interface.
//
// Each trainable variable gets a velocity slot variable, updated at every
// step as:
//
//	velocity <- momentum * velocity + gradient
//	weight   <- weight - learningRate * velocity
//
// Importing the package registers it in optimizers.KnownOptimizers under the
// name "momentum", so it can be selected with the "optimizer" context
// hyperparameter.
package momentum

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

const (
	// Name of the optimizer in optimizers.KnownOptimizers.
	Name = "momentum"

	// DefaultLearningRate used if no learning rate is configured, neither here
	// nor in the context (see optimizers.ParamLearningRate).
	DefaultLearningRate = 0.01

	// DefaultMomentum is the coefficient applied to the accumulated velocity,
	// if not otherwise configured.
	DefaultMomentum = 0.9

	// DefaultScope is the scope under which the velocity variables are created.
	DefaultScope = "MomentumOptimizer"

	// ParamMomentum is the context hyperparameter with the momentum
	// coefficient. It must be a float64. The default is DefaultMomentum.
	ParamMomentum = "momentum"
)

func init() {
	optimizers.KnownOptimizers[Name] = func(ctx *context.Context) optimizers.Interface {
		return New().FromContext(ctx).Done()
	}
}

// Config holds the configuration of a momentum optimizer. Create it with New,
// set whatever options, and when finished call Done to build the
// optimizers.Interface.
type Config struct {
	scopeName    string
	dtype        dtypes.DType
	learningRate float64
	momentum     float64
}

// New returns the configuration of a momentum optimizer, that can be further
// configured. Once finished, call Done, and it will return the configured
// optimizers.Interface.
func New() *Config {
	return &Config{
		scopeName:    DefaultScope,
		dtype:        dtypes.InvalidDType,
		learningRate: -1, // < 0 means use the default.
		momentum:     DefaultMomentum,
	}
}

// FromContext configures the optimizer from the context hyperparameters,
// namely ParamMomentum. The learning rate is read at graph building time, so
// it is not handled here. It returns the Config for chained configuration
// calls.
func (c *Config) FromContext(ctx *context.Context) *Config {
	c.momentum = context.GetParamOr(ctx, ParamMomentum, c.momentum)
	return c
}

// Scope defines the scope in which the velocity variables are created. The
// default is DefaultScope.
func (c *Config) Scope(name string) *Config {
	c.scopeName = name
	return c
}

// LearningRate sets a fixed learning rate. The default is to read it from the
// context hyperparameter optimizers.ParamLearningRate at graph building time,
// falling back to DefaultLearningRate.
func (c *Config) LearningRate(value float64) *Config {
	c.learningRate = value
	return c
}

// Momentum sets the coefficient applied to the accumulated velocity, usually
// a value in [0, 1). A momentum of 0 makes this plain SGD. The default is
// DefaultMomentum.
func (c *Config) Momentum(value float64) *Config {
	c.momentum = value
	return c
}

// DType sets the dtype used for the velocity variables and the update
// calculation. The default is to use the dtype of the loss.
func (c *Config) DType(dtype dtypes.DType) *Config {
	c.dtype = dtype
	return c
}

// Done returns the configured momentum optimizer.
func (c *Config) Done() optimizers.Interface {
	return &sgdMomentum{config: c}
}

// sgdMomentum implements optimizers.Interface.
type sgdMomentum struct {
	config *Config
}

// UpdateGraph builds the graph to update the weights for one training step.
// It implements optimizers.Interface.
func (o *sgdMomentum) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		Panicf("optimizer requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
		return
	}
	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	o.UpdateGraphWithGradients(ctx, grads, loss.DType())
}

// UpdateGraphWithGradients builds the graph to update the weights from the
// given gradients, which must match the trainable variables in use by the
// graph, in order. It implements optimizers.Interface.
func (o *sgdMomentum) UpdateGraphWithGradients(ctx *context.Context, grads []*Node, lossDType dtypes.DType) {
	if len(grads) == 0 {
		Panicf("no gradients given to momentum optimizer")
		return
	}
	g := grads[0].Graph()
	dtype := o.config.dtype
	if dtype == dtypes.InvalidDType {
		dtype = lossDType
	}

	lrValue := o.config.learningRate
	if lrValue < 0 {
		lrValue = context.GetParamOr(ctx, optimizers.ParamLearningRate, DefaultLearningRate)
	}
	lrVar := optimizers.LearningRateVar(ctx, dtype, lrValue)
	learningRate := lrVar.ValueGraph(g)
	mu := ConstAsDType(g, dtype, o.config.momentum)

	_ = optimizers.IncrementGlobalStepGraph(ctx, g, dtype)

	numTrainable := len(grads)
	varIdx := 0
	for v := range ctx.IterVariables() {
		if v.Trainable && v.InUseByGraph(g) {
			if varIdx < numTrainable {
				o.applyMomentumGraph(ctx, v, grads[varIdx], learningRate, mu, dtype)
			}
			varIdx++
		}
	}
	if varIdx != numTrainable {
		Panicf("ctx.BuildTrainableVariablesGradientsGraph returned gradients for %d variables, but "+
			"momentum only sees %d variables -- were new variables created in between ?",
			numTrainable, varIdx)
	}
}

// applyMomentumGraph adds to the graph the update of the velocity and of the
// variable value for one trainable variable.
func (o *sgdMomentum) applyMomentumGraph(ctx *context.Context, v *context.Variable,
	grad, learningRate, mu *Node, dtype dtypes.DType) {
	g := grad.Graph()
	if grad.DType() != dtype {
		grad = ConvertDType(grad, dtype)
	}
	optimizers.TraceNaNInGradients(ctx, v, grad)
	grad = optimizers.ClipNaNsInGradients(ctx, grad)

	velVar := o.getVelocityVariable(ctx, v, dtype)
	velocity := Add(Mul(mu, velVar.ValueGraph(g)), grad)
	velVar.SetValueGraph(velocity)

	value := v.ValueGraph(g)
	if value.DType() != dtype {
		value = ConvertDType(value, dtype)
	}
	stepDirection := optimizers.ClipStepByValue(ctx, Mul(learningRate, velocity))
	updated := Sub(value, stepDirection)
	updated = optimizers.ClipNaNsInUpdates(ctx, value, updated)
	if updated.DType() != v.Shape().DType {
		updated = ConvertDType(updated, v.Shape().DType)
	}
	v.SetValueGraph(updated)
}

// getVelocityVariable returns (creating if needed) the velocity slot variable
// for the given trainable variable. It is named after the trainable variable,
// in a scope prefixed by the optimizer scope, and marked non-trainable.
func (o *sgdMomentum) getVelocityVariable(ctx *context.Context, trainable *context.Variable, dtype dtypes.DType) *context.Variable {
	scopePath := fmt.Sprintf("%s%s%s", context.ScopeSeparator, o.config.scopeName, trainable.Scope())
	name := fmt.Sprintf("%s_velocity", trainable.Name())
	shape := trainable.Shape().Clone()
	shape.DType = dtype
	return ctx.Checked(false).
		InAbsPath(scopePath).
		WithInitializer(initializers.Zero).
		VariableWithShape(name, shape).
		SetTrainable(false)
}

// Clear deletes the velocity variables, so the optimizer state is reset and
// the memory can be reclaimed. The optimizer remains usable afterward.
func (o *sgdMomentum) Clear(ctx *context.Context) error {
	return ctx.In(o.config.scopeName).DeleteVariablesInScope()
}
