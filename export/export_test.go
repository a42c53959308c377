package export_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/exporter/assets"
	"github.com/gomlx/exporter/export"
	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types/nest"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/gomlx/exporter/vars"
	"github.com/gomlx/exporter/xrt"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// denseModel is a [3, 2] dense layer with bias and a frozen output scale.
type denseModel struct {
	w, b, scale *vars.Variable
}

func newDenseModel() *denseModel {
	return &denseModel{
		w:     vars.New("w", tensors.FromFlatDataAndDimensions([]float32{1, 0, 0, 1, 1, 1}, 3, 2)),
		b:     vars.New("b", tensors.FromFlatDataAndDimensions([]float32{0.5, -0.5}, 2)),
		scale: vars.New("scale", tensors.FromScalarAndDimensions[float32](2)).SetTrainable(false),
	}
}

func (m *denseModel) Variables() []*vars.Variable {
	return []*vars.Variable{m.w, m.b, m.scale}
}

func (m *denseModel) CallSignature() *nest.Nest[shapes.Shape] {
	return nest.ListOf(shapes.Make(dtypes.Float32, shapes.UnknownDim, 3))
}

func (m *denseModel) CallBuilder() trace.BuilderFn {
	return func(g *trace.Graph, inputs []*trace.Node) []*trace.Node {
		y := g.Add(g.MatMul(inputs[0], g.VariableParameter(m.w)), g.VariableParameter(m.b))
		return []*trace.Node{g.Mul(g.Relu(y), g.VariableParameter(m.scale))}
	}
}

var batch1 = []float32{1, 2, 3} // relu([4, 5] + [0.5, -0.5]) * 2 = [9, 9].

func TestExportModelAndReload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "model")
	model := newDenseModel()
	require.NoError(t, export.ExportModel(model, dir))

	layer := export.Reload(dir).CallEndpoint("serve").MustDone()
	out := layer.Call([]*tensors.Tensor{tensors.FromFlatDataAndDimensions(batch1, 1, 3)}, false)
	require.Len(t, out, 1)
	assert.Equal(t, []float32{9, 9}, tensors.Data[float32](out[0]))

	// The same layer serves another batch size.
	out = layer.Call([]*tensors.Tensor{tensors.FromFlatDataAndDimensions(
		append(append([]float32{}, batch1...), -1, -2, -3), 2, 3)}, false)
	require.True(t, out[0].Shape().Equal(shapes.Make(dtypes.Float32, 2, 2)))
	assert.Equal(t, []float32{9, 9, 0, 0}, tensors.Data[float32](out[0]))

	// Trainable first, then frozen, insertion order within each partition.
	variables := layer.Variables()
	require.Len(t, variables, 3)
	assert.Equal(t, "w", variables[0].Name())
	assert.Equal(t, "b", variables[1].Name())
	assert.Equal(t, "scale", variables[2].Name())
	require.Len(t, layer.TrainableVariables(), 2)

	// Reloaded state is fresh: mutating the original model changes nothing.
	model.w.SetValue(tensors.FromFlatDataAndDimensions(make([]float32, 6), 3, 2))
	out = layer.Call([]*tensors.Tensor{tensors.FromFlatDataAndDimensions(batch1, 1, 3)}, false)
	assert.Equal(t, []float32{9, 9}, tensors.Data[float32](out[0]))

	config := layer.Config()
	assert.Equal(t, dir, config["artifact"])
	assert.Equal(t, "serve", config["call_endpoint"])
}

func TestServingDefaultAlias(t *testing.T) {
	model := newDenseModel()
	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, export.ExportModel(model, dir))

	// The well-known signature key resolves through the alias.
	layer, err := export.Reload(dir).CallEndpoint(export.ServingDefault).Done()
	require.NoError(t, err)
	out := layer.Call([]*tensors.Tensor{tensors.FromFlatDataAndDimensions(batch1, 1, 3)}, false)
	assert.Equal(t, []float32{9, 9}, tensors.Data[float32](out[0]))

	loaded, err := export.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "serve", loaded.Manifest().Signatures[export.ServingDefault])
}

func TestServingDefaultNotOverwritten(t *testing.T) {
	model := newDenseModel()
	archive := export.NewArchive()
	require.NoError(t, archive.Track(model))

	_, err := archive.AddEndpoint("other", model.CallBuilder(), model.CallSignature())
	require.NoError(t, err)
	scaled := func(g *trace.Graph, inputs []*trace.Node) []*trace.Node {
		return []*trace.Node{g.Mul(inputs[0], g.VariableParameter(model.scale))}
	}
	_, err = archive.AddEndpoint(export.ServingDefault, scaled, model.CallSignature())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "model")
	manifest, err := archive.WriteWithOptions(dir, export.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, export.ServingDefault, manifest.Signatures[export.ServingDefault],
		"an endpoint claiming the name keeps it")
	assert.Equal(t, "other", manifest.Signatures["other"])
}

func TestEndpointErrors(t *testing.T) {
	model := newDenseModel()
	archive := export.NewArchive()
	require.NoError(t, archive.Track(model))

	_, err := archive.AddEndpoint("serve", model.CallBuilder(), model.CallSignature())
	require.NoError(t, err)
	_, err = archive.AddEndpoint("serve", model.CallBuilder(), model.CallSignature())
	require.ErrorIs(t, err, export.ErrDuplicateEndpointName)

	_, err = archive.AddEndpoint("untraceable", model.CallBuilder(), nil)
	require.ErrorIs(t, err, export.ErrMissingSignature)

	fn := trace.NewFunction("dense", model.CallBuilder())
	_, err = archive.AddEndpoint("cold", fn, nil)
	require.ErrorIs(t, err, export.ErrUnspecializedFunction)

	fn.Invoke(tensors.FromFlatDataAndDimensions(batch1, 1, 3))
	_, err = archive.AddEndpoint("warm", fn, nil)
	require.NoError(t, err, "an invoked function exports its first trace")

	_, err = archive.AddEndpoint("bogus", 42, nil)
	require.ErrorIs(t, err, export.ErrInvalidResource)

	nativeFn := func(s *xrt.Scope, inputs *nest.Nest[*xrt.Array]) *nest.Nest[*xrt.Array] {
		return inputs
	}
	_, err = archive.AddEndpoint("native", nativeFn, model.CallSignature())
	require.ErrorIs(t, err, export.ErrUnsupportedRuntime)
}

func TestWriteWithoutEndpoints(t *testing.T) {
	archive := export.NewArchive()
	require.NoError(t, archive.Track(newDenseModel()))
	err := archive.Write(filepath.Join(t.TempDir(), "empty"))
	require.ErrorIs(t, err, export.ErrNoEndpoints)
}

type unbuiltLayer struct{}

func (unbuiltLayer) IsBuilt() bool              { return false }
func (unbuiltLayer) Variables() []*vars.Variable { return nil }

type compositeModel struct {
	model *denseModel
	vocab *assets.StringLookup
}

func (c *compositeModel) Descendants() []any { return []any{c.model, c.vocab} }

func TestTrack(t *testing.T) {
	archive := export.NewArchive()

	require.ErrorIs(t, archive.Track(42), export.ErrInvalidResource)
	require.ErrorIs(t, archive.Track(unbuiltLayer{}), export.ErrNotBuilt)

	rt := xrt.NewRuntime("other", "")
	native := rt.NewVariable("n", tensors.FromScalarAndDimensions[float32](1))
	require.ErrorIs(t, archive.Track(native), export.ErrUnsupportedRuntime)

	composite := &compositeModel{
		model: newDenseModel(),
		vocab: assets.NewStringLookup("vocab", []string{"x", "y"}),
	}
	require.NoError(t, archive.Track(composite))
	require.NoError(t, archive.Track(composite), "tracking is idempotent")
	require.Len(t, archive.Assets(), 1)
}

func TestFirstEncounterFixesPartition(t *testing.T) {
	model := newDenseModel()
	archive := export.NewArchive()

	_, err := archive.AddEndpoint("serve", model.CallBuilder(), model.CallSignature())
	require.NoError(t, err)

	// A later trace seeing w as frozen does not move it, nor duplicate it.
	model.w.SetTrainable(false)
	_, err = archive.AddEndpoint("again", model.CallBuilder(), model.CallSignature())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "model")
	manifest, err := archive.WriteWithOptions(dir, export.WriteOptions{})
	require.NoError(t, err)
	require.Len(t, manifest.Variables, 3)
	assert.Equal(t, "var:w", manifest.Variables[0].Name)
	assert.True(t, manifest.Variables[0].Trainable, "first encounter decided the partition")
}

func TestVariableCollections(t *testing.T) {
	model := newDenseModel()
	archive := export.NewArchive()
	require.NoError(t, archive.Track(model))
	_, err := archive.AddEndpoint("serve", model.CallBuilder(), model.CallSignature())
	require.NoError(t, err)

	require.ErrorIs(t, archive.AddVariableCollection("bad", "not a slice"), export.ErrBadCollectionType)
	require.ErrorIs(t, archive.AddVariableCollection("mixed", []any{model.w, 7}), export.ErrBadElementType)
	require.NoError(t, archive.AddVariableCollection("empty", []*vars.Variable{}))

	slot := vars.New("momentum", tensors.FromFlatDataAndDimensions(make([]float32, 6), 3, 2)).SetTrainable(false)
	require.NoError(t, archive.AddVariableCollection("optimizer_slots", []*vars.Variable{slot, model.w}))

	dir := filepath.Join(t.TempDir(), "model")
	_, err = archive.WriteWithOptions(dir, export.WriteOptions{})
	require.NoError(t, err)

	loaded, err := export.Load(dir)
	require.NoError(t, err)
	members, found := loaded.Collection("optimizer_slots")
	require.True(t, found)
	require.Len(t, members, 2)
	assert.Equal(t, "momentum", members[0].Name())
	assert.False(t, members[0].IsTrainable())
	assert.Equal(t, "w", members[1].Name())
	members, found = loaded.Collection("empty")
	require.True(t, found, "an empty collection survives the round trip")
	assert.Empty(t, members)
	_, found = loaded.Collection("missing")
	assert.False(t, found)
}

func TestReloadDefaultEndpoint(t *testing.T) {
	model := newDenseModel()
	archive := export.NewArchive()
	require.NoError(t, archive.Track(model))
	_, err := archive.AddEndpoint("predict", model.CallBuilder(), model.CallSignature())
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, archive.Write(dir))

	// No endpoint is named "serve", so the default does not silently pick
	// another one.
	_, err = export.Reload(dir).Done()
	require.ErrorIs(t, err, export.ErrEndpointNotFound)

	layer := export.Reload(dir).CallEndpoint(export.ServingDefault).MustDone()
	out := layer.Call([]*tensors.Tensor{tensors.FromFlatDataAndDimensions(batch1, 1, 3)}, false)
	assert.Equal(t, []float32{9, 9}, tensors.Data[float32](out[0]))
}

func TestReloadedLayerPartitions(t *testing.T) {
	model := newDenseModel()
	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, export.ExportModel(model, dir))

	layer := export.Reload(dir).MustDone()
	require.True(t, layer.IsBuilt())
	require.Len(t, layer.TrainableVariables(), 2)
	frozen := layer.NonTrainableVariables()
	require.Len(t, frozen, 1)
	assert.Equal(t, "scale", frozen[0].Name())
	assert.False(t, frozen[0].IsTrainable())

	// Built and variable-bearing, a reloaded layer can seed a new archive.
	archive := export.NewArchive()
	require.NoError(t, archive.Track(layer))
	require.Len(t, archive.Variables(), 3)
}

func TestArchiveVariableObservers(t *testing.T) {
	model := newDenseModel()
	archive := export.NewArchive()
	assert.Empty(t, archive.Variables())

	require.NoError(t, archive.Track(model.scale))
	require.Len(t, archive.NonTrainableVariables(), 1)
	assert.Empty(t, archive.TrainableVariables())

	// Endpoint traces merge into the same collection right away; scale keeps
	// the slot its tracking fixed.
	_, err := archive.AddEndpoint("serve", model.CallBuilder(), model.CallSignature())
	require.NoError(t, err)
	all := archive.Variables()
	require.Len(t, all, 3)
	assert.Equal(t, "var:w", all[0].ParameterName())
	assert.Equal(t, "var:b", all[1].ParameterName())
	assert.Equal(t, "var:scale", all[2].ParameterName())
	require.Len(t, archive.TrainableVariables(), 2)
	require.Len(t, archive.NonTrainableVariables(), 1)
}

func TestEndpointNotFound(t *testing.T) {
	model := newDenseModel()
	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, export.ExportModel(model, dir))

	_, err := export.Reload(dir).CallEndpoint("predict").Done()
	require.ErrorIs(t, err, export.ErrEndpointNotFound)
	assert.Contains(t, err.Error(), "serve", "the error lists what the artifact offers")
}

func TestTrainingEndpoint(t *testing.T) {
	model := newDenseModel()
	archive := export.NewArchive()
	require.NoError(t, archive.Track(model))

	_, err := archive.AddEndpoint("serve", model.CallBuilder(), model.CallSignature())
	require.NoError(t, err)
	withoutRelu := func(g *trace.Graph, inputs []*trace.Node) []*trace.Node {
		y := g.Add(g.MatMul(inputs[0], g.VariableParameter(model.w)), g.VariableParameter(model.b))
		return []*trace.Node{y}
	}
	_, err = archive.AddEndpoint("train_step", withoutRelu, model.CallSignature())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, archive.Write(dir))

	layer := export.Reload(dir).CallEndpoint("serve").TrainingEndpoint("train_step").MustDone()
	input := []*tensors.Tensor{tensors.FromFlatDataAndDimensions([]float32{-1, -2, -3}, 1, 3)}
	inference := layer.Call(input, false)
	training := layer.Call(input, true)
	assert.Equal(t, []float32{0, 0}, tensors.Data[float32](inference[0]))
	assert.Equal(t, []float32{-3.5, -5.5}, tensors.Data[float32](training[0]))
}

func TestSummary(t *testing.T) {
	model := newDenseModel()
	archive := export.NewArchive()
	require.NoError(t, archive.Track(model))
	_, err := archive.AddEndpoint("serve", model.CallBuilder(), model.CallSignature())
	require.NoError(t, err)

	var sb strings.Builder
	dir := filepath.Join(t.TempDir(), "model")
	_, err = archive.WriteWithOptions(dir, export.WriteOptions{SummaryTo: &sb})
	require.NoError(t, err)
	summary := sb.String()
	assert.Contains(t, summary, `Endpoint "serve"`)
	assert.Contains(t, summary, "3 variables (2 trainable)")
	assert.Contains(t, summary, export.ServingDefault)
}
