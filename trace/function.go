/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package trace

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/exporter/internal/kernels"
	"github.com/gomlx/exporter/types/nest"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
)

// BuilderFn describes a computation symbolically: it receives a graph under
// construction and the parameter nodes matching the signature's leaves, in
// flattening order, and returns the output nodes.
//
// It is a type alias so plain function literals satisfy it without conversion.
type BuilderFn = func(g *Graph, inputs []*Node) []*Node

// Concrete is one frozen trace of a builder: an executable, serializable graph
// specialized to a fixed input signature.
type Concrete struct {
	name       string
	graph      *Graph
	inputSpec  *nest.Nest[shapes.Shape]
	outputSpec *nest.Nest[shapes.Shape]
}

// Freeze runs builder once against the signature and captures the result.
// The signature's leaves may contain open dimensions (shapes.UnknownDim), which
// stay open in the trace and are resolved per call at execution time.
//
// It panics (with an informative message) if the builder misbehaves: nil or
// foreign output nodes, or no outputs at all.
func Freeze(name string, builder BuilderFn, signature *nest.Nest[shapes.Shape]) *Concrete {
	if signature == nil || signature.NumLeaves() == 0 {
		exceptions.Panicf("Freeze(%q): signature must have at least one input shape", name)
	}
	g := newGraph(name)
	leaves := signature.Flatten()
	params := make([]*Node, len(leaves))
	for ii, shape := range leaves {
		params[ii] = g.Parameter(shape)
	}
	outputs := builder(g, params)
	if len(outputs) == 0 {
		exceptions.Panicf("Freeze(%q): builder returned no outputs", name)
	}
	outputShapes := make([]shapes.Shape, len(outputs))
	for ii, out := range outputs {
		if out == nil || out.graph != g {
			exceptions.Panicf("Freeze(%q): builder returned output #%d not built on the given graph", name, ii)
		}
		outputShapes[ii] = out.shape
	}
	g.outputs = outputs
	return &Concrete{
		name:       name,
		graph:      g,
		inputSpec:  signature,
		outputSpec: nest.ListOf(outputShapes...),
	}
}

// Name returns the name given to Freeze.
func (c *Concrete) Name() string { return c.name }

// Graph returns the frozen graph.
func (c *Concrete) Graph() *Graph { return c.graph }

// InputSpec returns the signature the trace was frozen with.
func (c *Concrete) InputSpec() *nest.Nest[shapes.Shape] { return c.inputSpec }

// OutputSpec returns the shapes of the trace's outputs as a list.
func (c *Concrete) OutputSpec() *nest.Nest[shapes.Shape] { return c.outputSpec }

// VariableUses returns the distinct variables the trace reads, in first-use
// order, each with the trainable flag snapshotted at freeze time.
func (c *Concrete) VariableUses() []VariableUse { return c.graph.variableUses }

// Execute runs the trace on the host, reading each captured variable's current
// value. Inputs are given in the signature's flattening order and must be
// assignable to the signature leaves. It panics on shape or count mismatches.
func (c *Concrete) Execute(inputs ...*tensors.Tensor) []*tensors.Tensor {
	specLeaves := c.inputSpec.Flatten()
	if len(inputs) != len(specLeaves) {
		exceptions.Panicf("trace %q: got %d inputs, signature has %d", c.name, len(inputs), len(specLeaves))
	}
	for ii, input := range inputs {
		input.AssertValid()
		if !specLeaves[ii].AssignableFrom(input.Shape()) {
			exceptions.Panicf("trace %q: input #%d has shape %s, not assignable to signature %s",
				c.name, ii, input.Shape(), specLeaves[ii])
		}
	}

	values := make([]*tensors.Tensor, len(c.graph.nodes))
	for _, node := range c.graph.nodes {
		switch node.op {
		case OpParameter:
			values[node.id] = inputs[node.paramIndex]
		case OpVariable:
			values[node.id] = c.graph.variableUses[node.varIndex].Variable.Value()
		case OpConstant:
			values[node.id] = node.constant
		case OpAdd:
			values[node.id] = kernels.Add(values[node.inputs[0].id], values[node.inputs[1].id])
		case OpSub:
			values[node.id] = kernels.Sub(values[node.inputs[0].id], values[node.inputs[1].id])
		case OpMul:
			values[node.id] = kernels.Mul(values[node.inputs[0].id], values[node.inputs[1].id])
		case OpDiv:
			values[node.id] = kernels.Div(values[node.inputs[0].id], values[node.inputs[1].id])
		case OpMatMul:
			values[node.id] = kernels.MatMul(values[node.inputs[0].id], values[node.inputs[1].id])
		case OpRelu:
			values[node.id] = kernels.Relu(values[node.inputs[0].id])
		case OpSigmoid:
			values[node.id] = kernels.Sigmoid(values[node.inputs[0].id])
		case OpTanh:
			values[node.id] = kernels.Tanh(values[node.inputs[0].id])
		case OpExp:
			values[node.id] = kernels.Exp(values[node.inputs[0].id])
		default:
			exceptions.Panicf("trace %q: unknown op %q", c.name, node.op)
		}
	}

	outputs := make([]*tensors.Tensor, len(c.graph.outputs))
	for ii, out := range c.graph.outputs {
		outputs[ii] = values[out.id]
	}
	return outputs
}

// Function wraps a builder with a cache of Concretes, one per distinct input
// signature. It is the callable form of a builder: Invoke freezes on first use
// of a shapes tuple and reuses the trace afterwards.
//
// Function is safe for concurrent use.
type Function struct {
	name    string
	builder BuilderFn

	mu    sync.Mutex
	cache []*Concrete
}

// NewFunction creates a Function around builder. Nothing is traced until the
// first Invoke or ConcreteFor call.
func NewFunction(name string, builder BuilderFn) *Function {
	if builder == nil {
		exceptions.Panicf("NewFunction(%q): nil builder", name)
	}
	return &Function{name: name, builder: builder}
}

// Name returns the name given to NewFunction.
func (f *Function) Name() string { return f.name }

// Builder returns the wrapped builder function.
func (f *Function) Builder() BuilderFn { return f.builder }

// ConcreteFor returns the trace frozen for the given signature, freezing it on
// first use. Signatures are compared structurally, open dimensions included.
func (f *Function) ConcreteFor(signature *nest.Nest[shapes.Shape]) *Concrete {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cache {
		if nest.Equal(c.inputSpec, signature, shapes.Shape.Equal) {
			return c
		}
	}
	c := Freeze(f.name, f.builder, signature)
	f.cache = append(f.cache, c)
	return c
}

// ConcreteTraces returns the traces frozen so far, oldest first.
func (f *Function) ConcreteTraces() []*Concrete {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Concrete(nil), f.cache...)
}

// Invoke executes the function on the given inputs, freezing a trace for their
// exact shapes if none is cached yet.
func (f *Function) Invoke(inputs ...*tensors.Tensor) []*tensors.Tensor {
	if len(inputs) == 0 {
		exceptions.Panicf("Function %q: Invoke requires at least one input", f.name)
	}
	inputShapes := make([]shapes.Shape, len(inputs))
	for ii, input := range inputs {
		input.AssertValid()
		inputShapes[ii] = input.Shape()
	}
	return f.ConcreteFor(nest.ListOf(inputShapes...)).Execute(inputs...)
}
