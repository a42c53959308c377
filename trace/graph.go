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

// Package trace turns Go computation builders into serializable concrete traces.
//
// A builder function describes a computation symbolically by emitting Nodes into
// a Graph. Freeze runs the builder once against a signature (shapes with
// optionally open axes) and captures the resulting Graph as a Concrete: a
// self-contained, executable, serializable record of the computation that also
// remembers every Variable it read and whether that variable was trainable at
// freeze time.
//
// Function wraps a builder with a cache of Concretes, one per distinct input
// signature, so repeated calls with the same shapes reuse the same trace.
package trace

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/exporter/internal/kernels"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
)

// Op identifies the operation a Node performs.
type Op string

const (
	OpParameter Op = "parameter"
	OpVariable  Op = "variable"
	OpConstant  Op = "constant"
	OpAdd       Op = "add"
	OpSub       Op = "sub"
	OpMul       Op = "mul"
	OpDiv       Op = "div"
	OpMatMul    Op = "matmul"
	OpRelu      Op = "relu"
	OpSigmoid   Op = "sigmoid"
	OpTanh      Op = "tanh"
	OpExp       Op = "exp"
)

// Variable is the read-only view of a variable that traces capture. It is
// satisfied by *vars.Variable and by the runtime-owned variables of other
// runtimes.
type Variable interface {
	// Handle is the process-unique identity of the variable.
	Handle() uint64
	// ParameterName is the name the variable's value is stored under.
	ParameterName() string
	// Shape of the variable's value.
	Shape() shapes.Shape
	// Value returns the current tensor held by the variable.
	Value() *tensors.Tensor
	// IsTrainable reports whether the variable takes part in training.
	IsTrainable() bool
}

// Node is one operation in a Graph. Nodes are created through the Graph builder
// methods and are immutable once created.
type Node struct {
	graph  *Graph
	id     int
	op     Op
	inputs []*Node
	shape  shapes.Shape

	paramIndex int              // OpParameter only.
	varIndex   int              // OpVariable only, index into Graph.variableUses.
	constant   *tensors.Tensor  // OpConstant only.
}

// Op returns the operation of the node.
func (n *Node) Op() Op { return n.op }

// Graph returns the graph the node belongs to.
func (n *Node) Graph() *Graph { return n.graph }

// Shape returns the inferred shape of the node's value. It may contain open
// dimensions when the graph was frozen with a symbolic signature.
func (n *Node) Shape() shapes.Shape { return n.shape }

// Graph accumulates the nodes of one trace. It is built by a BuilderFn and then
// frozen inside a Concrete; Graphs are not safe for concurrent building.
type Graph struct {
	name         string
	nodes        []*Node
	parameters   []*Node
	variableUses []VariableUse
	varNodes     map[uint64]*Node
	outputs      []*Node
}

// VariableUse records one distinct variable read by a trace, with the trainable
// flag the variable had when the trace was frozen.
type VariableUse struct {
	Variable  Variable
	Trainable bool
}

func newGraph(name string) *Graph {
	return &Graph{name: name, varNodes: make(map[uint64]*Node)}
}

// Name returns the name given to Freeze.
func (g *Graph) Name() string { return g.name }

// VariableUses returns the distinct variables read while building the graph, in
// first-use order.
func (g *Graph) VariableUses() []VariableUse { return g.variableUses }

func (g *Graph) newNode(op Op, shape shapes.Shape, inputs ...*Node) *Node {
	for _, input := range inputs {
		if input == nil {
			exceptions.Panicf("graph %q: %s op given a nil input node", g.name, op)
		}
		if input.graph != g {
			exceptions.Panicf("graph %q: %s op given a node from a different graph", g.name, op)
		}
	}
	node := &Node{graph: g, id: len(g.nodes), op: op, inputs: inputs, shape: shape}
	g.nodes = append(g.nodes, node)
	return node
}

// Parameter declares the next input of the graph, with the given shape. Open
// dimensions (shapes.UnknownDim) are allowed and resolved at execution time.
func (g *Graph) Parameter(shape shapes.Shape) *Node {
	node := g.newNode(OpParameter, shape.Clone())
	node.paramIndex = len(g.parameters)
	g.parameters = append(g.parameters, node)
	return node
}

// VariableParameter returns the node holding the value of v. Reading the same
// variable (same handle) twice returns the same node: the graph records one use
// per distinct variable, in first-use order, snapshotting the trainable flag of
// the first read.
func (g *Graph) VariableParameter(v Variable) *Node {
	if node, found := g.varNodes[v.Handle()]; found {
		return node
	}
	node := g.newNode(OpVariable, v.Shape().Clone())
	node.varIndex = len(g.variableUses)
	g.variableUses = append(g.variableUses, VariableUse{Variable: v, Trainable: v.IsTrainable()})
	g.varNodes[v.Handle()] = node
	return node
}

// Constant embeds the tensor value into the graph.
func (g *Graph) Constant(value *tensors.Tensor) *Node {
	value.AssertValid()
	node := g.newNode(OpConstant, value.Shape())
	node.constant = value
	return node
}

// Add returns a+b elementwise, with scalar and trailing-axis broadcasting.
func (g *Graph) Add(a, b *Node) *Node { return g.binary(OpAdd, a, b) }

// Sub returns a-b elementwise, with scalar and trailing-axis broadcasting.
func (g *Graph) Sub(a, b *Node) *Node { return g.binary(OpSub, a, b) }

// Mul returns a*b elementwise, with scalar and trailing-axis broadcasting.
func (g *Graph) Mul(a, b *Node) *Node { return g.binary(OpMul, a, b) }

// Div returns a/b elementwise, with scalar and trailing-axis broadcasting.
func (g *Graph) Div(a, b *Node) *Node { return g.binary(OpDiv, a, b) }

func (g *Graph) binary(op Op, a, b *Node) *Node {
	return g.newNode(op, kernels.BinaryShape(a.shape, b.shape), a, b)
}

// MatMul returns the matrix product of a=[m, k] and b=[k, n]. The m axis may be
// open.
func (g *Graph) MatMul(a, b *Node) *Node {
	return g.newNode(OpMatMul, kernels.MatMulShape(a.shape, b.shape), a, b)
}

// Relu returns max(x, 0) elementwise.
func (g *Graph) Relu(x *Node) *Node { return g.unary(OpRelu, x) }

// Sigmoid returns 1/(1+exp(-x)) elementwise.
func (g *Graph) Sigmoid(x *Node) *Node { return g.unary(OpSigmoid, x) }

// Tanh returns tanh(x) elementwise.
func (g *Graph) Tanh(x *Node) *Node { return g.unary(OpTanh, x) }

// Exp returns exp(x) elementwise.
func (g *Graph) Exp(x *Node) *Node { return g.unary(OpExp, x) }

func (g *Graph) unary(op Op, x *Node) *Node {
	return g.newNode(op, x.shape.Clone(), x)
}

// String returns a compact multi-line listing of the graph, one node per line.
func (g *Graph) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Graph %q: %d nodes\n", g.name, len(g.nodes))
	for _, node := range g.nodes {
		_, _ = fmt.Fprintf(&sb, "  #%d\t%s", node.id, node.op)
		switch node.op {
		case OpParameter:
			_, _ = fmt.Fprintf(&sb, "[%d]", node.paramIndex)
		case OpVariable:
			_, _ = fmt.Fprintf(&sb, "[%q]", g.variableUses[node.varIndex].Variable.ParameterName())
		}
		if len(node.inputs) > 0 {
			ids := make([]string, len(node.inputs))
			for ii, input := range node.inputs {
				ids[ii] = fmt.Sprintf("#%d", input.id)
			}
			_, _ = fmt.Fprintf(&sb, "(%s)", strings.Join(ids, ", "))
		}
		_, _ = fmt.Fprintf(&sb, " -> %s\n", node.shape)
	}
	return sb.String()
}
