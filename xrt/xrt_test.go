package xrt_test

import (
	"testing"

	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types/nest"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/gomlx/exporter/xrt"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEagerInvoke(t *testing.T) {
	rt := xrt.NewRuntime("test", "")
	scale := rt.NewVariable("scale", tensors.FromScalarAndDimensions[float32](2))

	fn := func(s *xrt.Scope, inputs *nest.Nest[*xrt.Array]) *nest.Nest[*xrt.Array] {
		x := inputs.Flatten()[0]
		return nest.ListOf(xrt.Mul(x, s.Read(scale)))
	}

	out := rt.Invoke(fn, nest.ListOf(xrt.FromTensor(tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3))))
	assert.Equal(t, []float32{2, 4, 6}, tensors.Data[float32](out.Flatten()[0].Tensor()))

	// Native state is live: updating the variable changes the next call.
	scale.SetValue(tensors.FromScalarAndDimensions[float32](10))
	out = rt.Invoke(fn, nest.ListOf(xrt.FromTensor(tensors.FromFlatDataAndDimensions([]float32{1}, 1))))
	assert.Equal(t, []float32{10}, tensors.Data[float32](out.Flatten()[0].Tensor()))
}

func TestNativeVariableMirror(t *testing.T) {
	rt := xrt.NewRuntime("test", "gpu")
	v := rt.NewVariable("bias", tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))

	assert.False(t, v.IsTrainable(), "native variables default to frozen")
	mirror := v.HostMirror()
	assert.Equal(t, v.Handle(), mirror.Handle())
	assert.Equal(t, "var:bias", mirror.ParameterName())

	// The mirror tracks native updates.
	v.SetValue(tensors.FromFlatDataAndDimensions([]float32{3, 4}, 2))
	assert.Equal(t, []float32{3, 4}, tensors.Data[float32](mirror.Value()))

	require.Equal(t, []*xrt.Variable{v}, rt.Variables())
}

func TestTracingScopeUnboundRead(t *testing.T) {
	rt := xrt.NewRuntime("test", "")
	v := rt.NewVariable("w", tensors.FromScalarAndDimensions[float32](1))

	builder := func(g *trace.Graph, inputs []*trace.Node) []*trace.Node {
		s := xrt.NewTracingScope(rt, g)
		out := xrt.Add(xrt.FromNode(inputs[0]), s.Read(v))
		return []*trace.Node{out.Node()}
	}
	require.Panics(t, func() {
		trace.Freeze("leaky", builder, nest.ListOf(shapes.Scalar[float32]()))
	}, "tracing reads must be bound")
}

func TestTracedArraysMixWithEager(t *testing.T) {
	half := tensors.FromScalarAndDimensions[float32](0.5)
	builder := func(g *trace.Graph, inputs []*trace.Node) []*trace.Node {
		x := xrt.FromNode(inputs[0])
		// An eager operand against a traced one is lifted into a constant.
		return []*trace.Node{xrt.Mul(x, xrt.FromTensor(half)).Node()}
	}
	c := trace.Freeze("halve", builder, nest.ListOf(shapes.Make(dtypes.Float32, 2)))
	out := c.Execute(tensors.FromFlatDataAndDimensions([]float32{2, 6}, 2))
	assert.Equal(t, []float32{1, 3}, tensors.Data[float32](out[0]))

	eager := xrt.Tanh(xrt.FromTensor(tensors.FromScalarAndDimensions[float64](0)))
	assert.Equal(t, []float64{0}, tensors.Data[float64](eager.Tensor()))
	require.Panics(t, func() { eager.Node() })
}
