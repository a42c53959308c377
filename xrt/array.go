package xrt

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/exporter/internal/kernels"
	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
)

// Array is the value type of runtime functions. It is either eager, holding a
// host tensor, or traced, holding a node of a graph under construction. The
// arithmetic helpers below dispatch on the mode, so the same Fn body runs
// eagerly and converts into a trace without changes.
type Array struct {
	tensor *tensors.Tensor
	node   *trace.Node
}

// FromTensor returns an eager Array over t.
func FromTensor(t *tensors.Tensor) *Array {
	t.AssertValid()
	return &Array{tensor: t}
}

// FromNode returns a traced Array over n.
func FromNode(n *trace.Node) *Array {
	if n == nil {
		exceptions.Panicf("xrt.FromNode: nil node")
	}
	return &Array{node: n}
}

// IsTraced reports whether the array is backed by a graph node.
func (a *Array) IsTraced() bool { return a.node != nil }

// Shape returns the array's shape. For traced arrays it may contain open
// dimensions.
func (a *Array) Shape() shapes.Shape {
	if a.node != nil {
		return a.node.Shape()
	}
	return a.tensor.Shape()
}

// Tensor returns the eager value. It panics for traced arrays.
func (a *Array) Tensor() *tensors.Tensor {
	if a.tensor == nil {
		exceptions.Panicf("xrt.Array.Tensor called on a traced array")
	}
	return a.tensor
}

// Node returns the traced node. It panics for eager arrays.
func (a *Array) Node() *trace.Node {
	if a.node == nil {
		exceptions.Panicf("xrt.Array.Node called on an eager array")
	}
	return a.node
}

// graphOf returns the graph behind any traced operand, or nil if all are eager.
func graphOf(arrays ...*Array) *trace.Graph {
	for _, a := range arrays {
		if a.node != nil {
			return a.node.Graph()
		}
	}
	return nil
}

// lift returns a's node on g, embedding eager values as constants.
func (a *Array) lift(g *trace.Graph) *trace.Node {
	if a.node != nil {
		return a.node
	}
	return g.Constant(a.tensor)
}

// Add returns a+b elementwise.
func Add(a, b *Array) *Array { return binary(a, b, kernels.Add, (*trace.Graph).Add) }

// Sub returns a-b elementwise.
func Sub(a, b *Array) *Array { return binary(a, b, kernels.Sub, (*trace.Graph).Sub) }

// Mul returns a*b elementwise.
func Mul(a, b *Array) *Array { return binary(a, b, kernels.Mul, (*trace.Graph).Mul) }

// Div returns a/b elementwise.
func Div(a, b *Array) *Array { return binary(a, b, kernels.Div, (*trace.Graph).Div) }

// MatMul returns the matrix product of a=[m, k] and b=[k, n].
func MatMul(a, b *Array) *Array { return binary(a, b, kernels.MatMul, (*trace.Graph).MatMul) }

func binary(a, b *Array, eager func(x, y *tensors.Tensor) *tensors.Tensor,
	traced func(g *trace.Graph, x, y *trace.Node) *trace.Node) *Array {
	if g := graphOf(a, b); g != nil {
		return FromNode(traced(g, a.lift(g), b.lift(g)))
	}
	return FromTensor(eager(a.tensor, b.tensor))
}

// Relu returns max(x, 0) elementwise.
func Relu(x *Array) *Array { return unary(x, kernels.Relu, (*trace.Graph).Relu) }

// Sigmoid returns 1/(1+exp(-x)) elementwise.
func Sigmoid(x *Array) *Array { return unary(x, kernels.Sigmoid, (*trace.Graph).Sigmoid) }

// Tanh returns tanh(x) elementwise.
func Tanh(x *Array) *Array { return unary(x, kernels.Tanh, (*trace.Graph).Tanh) }

// Exp returns exp(x) elementwise.
func Exp(x *Array) *Array { return unary(x, kernels.Exp, (*trace.Graph).Exp) }

func unary(x *Array, eager func(*tensors.Tensor) *tensors.Tensor,
	traced func(g *trace.Graph, n *trace.Node) *trace.Node) *Array {
	if x.node != nil {
		return FromNode(traced(x.node.Graph(), x.node))
	}
	return FromTensor(eager(x.tensor))
}
