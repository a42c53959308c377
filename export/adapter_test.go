package export_test

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/exporter/export"
	"github.com/gomlx/exporter/types/nest"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/gomlx/exporter/xrt"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scaleAndShift is a runtime-native model: y = x*scale + shift.
type scaleAndShift struct {
	rt           *xrt.Runtime
	scale, shift *xrt.Variable
}

func newScaleAndShift(rt *xrt.Runtime) *scaleAndShift {
	return &scaleAndShift{
		rt:    rt,
		scale: rt.NewVariable("scale", tensors.FromScalarAndDimensions[float32](3)),
		shift: rt.NewVariable("shift", tensors.FromFlatDataAndDimensions([]float32{1, -1}, 2)),
	}
}

func (m *scaleAndShift) NativeVariables() []*xrt.Variable {
	return []*xrt.Variable{m.scale, m.shift}
}

func (m *scaleAndShift) fn(s *xrt.Scope, inputs *nest.Nest[*xrt.Array]) *nest.Nest[*xrt.Array] {
	x := inputs.Flatten()[0]
	return nest.ListOf(xrt.Add(xrt.Mul(x, s.Read(m.scale)), s.Read(m.shift)))
}

func signature2() *nest.Nest[shapes.Shape] {
	return nest.ListOf(shapes.Make(dtypes.Float32, shapes.UnknownDim, 2))
}

func TestCrossRuntimeExport(t *testing.T) {
	rt := xrt.NewRuntime("accel", "")
	model := newScaleAndShift(rt)

	archive, err := export.NewCrossRuntimeArchive(rt)
	require.NoError(t, err)
	require.NoError(t, archive.Track(model))

	endpoint, err := archive.AddEndpoint("serve", model.fn, signature2())
	require.NoError(t, err)
	assert.Equal(t, export.SerializationNative, endpoint.Serialization())

	// The converted trace matches the runtime's own eager results.
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2, 10, 20}, 2, 2)
	eager := rt.Invoke(model.fn, nest.ListOf(xrt.FromTensor(input))).Flatten()[0].Tensor()
	converted := endpoint.Concrete().Execute(input)[0]
	assert.True(t, eager.Equal(converted))
	assert.Equal(t, []float32{4, 5, 31, 59}, tensors.Data[float32](converted))

	dir := filepath.Join(t.TempDir(), "model")
	manifest, err := archive.WriteWithOptions(dir, export.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "accel", manifest.Runtime)
	require.Len(t, manifest.Variables, 2)
	assert.Equal(t, "var:scale", manifest.Variables[0].Name)
	assert.False(t, manifest.Variables[0].Trainable, "native state exports frozen")

	layer := export.Reload(dir).MustDone()
	out := layer.Call([]*tensors.Tensor{input}, false)
	assert.Equal(t, []float32{4, 5, 31, 59}, tensors.Data[float32](out[0]))
}

func TestConversionReadsLiveState(t *testing.T) {
	rt := xrt.NewRuntime("accel", "")
	model := newScaleAndShift(rt)
	archive, err := export.NewCrossRuntimeArchive(rt)
	require.NoError(t, err)

	endpoint, err := archive.AddEndpoint("serve", model.fn, signature2())
	require.NoError(t, err)

	// Updates after conversion are visible until the artifact is written.
	model.scale.SetValue(tensors.FromScalarAndDimensions[float32](100))
	out := endpoint.Concrete().Execute(tensors.FromFlatDataAndDimensions([]float32{1, 1}, 1, 2))
	assert.Equal(t, []float32{101, 99}, tensors.Data[float32](out[0]))
}

func TestPortableDegrade(t *testing.T) {
	defer func(probe func() int) { xrt.HostGPUProbe = probe }(xrt.HostGPUProbe)

	rt := xrt.NewRuntime("accel", "gpu")
	model := newScaleAndShift(rt)

	// Accelerator-bound runtime, no visible devices: portable.
	xrt.HostGPUProbe = func() int { return 0 }
	archive, err := export.NewCrossRuntimeArchive(rt)
	require.NoError(t, err)
	endpoint, err := archive.AddEndpoint("serve", model.fn, signature2())
	require.NoError(t, err)
	assert.Equal(t, export.SerializationPortable, endpoint.Serialization())

	// With a device visible the endpoint stays native.
	xrt.HostGPUProbe = func() int { return 1 }
	archive2, err := export.NewCrossRuntimeArchive(rt)
	require.NoError(t, err)
	endpoint2, err := archive2.AddEndpoint("serve", model.fn, signature2())
	require.NoError(t, err)
	assert.Equal(t, export.SerializationNative, endpoint2.Serialization())

	dir := filepath.Join(t.TempDir(), "model")
	xrt.HostGPUProbe = func() int { return 0 }
	manifest, err := archive.WriteWithOptions(dir, export.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, export.SerializationPortable, manifest.Endpoints[0].Serialization)
	assert.Equal(t, "gpu", manifest.Accelerator)

	// A portable artifact still reloads and executes on the host.
	layer := export.Reload(dir).MustDone()
	out := layer.Call([]*tensors.Tensor{tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2)}, false)
	assert.Equal(t, []float32{4, 5}, tensors.Data[float32](out[0]))
}

func TestCrossRuntimeRejectsForeignState(t *testing.T) {
	rtA := xrt.NewRuntime("a", "")
	rtB := xrt.NewRuntime("b", "")
	foreign := rtB.NewVariable("v", tensors.FromScalarAndDimensions[float32](1))

	archive, err := export.NewCrossRuntimeArchive(rtA)
	require.NoError(t, err)
	require.ErrorIs(t, archive.Track(foreign), export.ErrUnsupportedRuntime)

	_, err = export.NewCrossRuntimeArchive(nil)
	require.ErrorIs(t, err, export.ErrUnsupportedRuntime)
}
