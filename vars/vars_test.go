package vars

import (
	"testing"

	"github.com/gomlx/exporter/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariable(t *testing.T) {
	v := New("weights", tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2))
	w := New("weights", tensors.FromFlatDataAndDimensions([]float32{0, 0, 0, 0}, 2, 2))
	assert.NotEqual(t, v.Handle(), w.Handle(), "same name, distinct identity")
	assert.Equal(t, "var:weights", v.ParameterName())
	assert.True(t, v.IsTrainable())
	assert.False(t, v.SetTrainable(false).IsTrainable())

	v.SetValue(tensors.FromFlatDataAndDimensions([]float32{4, 3, 2, 1}, 2, 2))
	assert.Equal(t, []float32{4, 3, 2, 1}, tensors.Data[float32](v.Value()))
	require.Panics(t, func() {
		v.SetValue(tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
	})

	var invalid *Variable
	require.Panics(t, func() { invalid.AssertValid() })
	require.Panics(t, func() { (&Variable{}).AssertValid() })
}

func TestVariableSetFirstWins(t *testing.T) {
	a := New("a", tensors.FromScalarAndDimensions[float32](1))
	b := New("b", tensors.FromScalarAndDimensions[float32](2)).SetTrainable(false)
	c := New("c", tensors.FromScalarAndDimensions[float32](3))

	s := NewSet()
	require.True(t, s.Add(a))
	require.True(t, s.Add(b))
	require.True(t, s.Add(c))
	require.False(t, s.Add(a), "second insertion is a no-op")

	// Flipping the flag after insertion does not move the variable.
	a.SetTrainable(false)
	require.False(t, s.Add(a))
	assert.Equal(t, []*Variable{a, c}, s.Trainable())
	assert.Equal(t, []*Variable{b}, s.NonTrainable())
	assert.Equal(t, []*Variable{a, c, b}, s.Variables())
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Has(b.Handle()))

	// AddAs overrides the variable's own flag.
	d := New("d", tensors.FromScalarAndDimensions[float32](4))
	require.True(t, s.AddAs(d, false))
	assert.Equal(t, []*Variable{b, d}, s.NonTrainable())
}
