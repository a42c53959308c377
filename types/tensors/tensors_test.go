package tensors

import (
	"testing"

	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesRoundTrip(t *testing.T) {
	original := FromFlatDataAndDimensions([]float32{1.5, -2.25, 3, 4, 5, 6}, 2, 3)
	rebuilt, err := FromBytes(original.Shape(), original.Bytes())
	require.NoError(t, err)
	assert.True(t, original.Equal(rebuilt))

	// A raw view mutation is visible through the typed view.
	copy(rebuilt.Bytes(), FromFlatDataAndDimensions([]float32{9, 9, 9, 9, 9, 9}, 2, 3).Bytes())
	assert.Equal(t, []float32{9, 9, 9, 9, 9, 9}, Data[float32](rebuilt))

	_, err = FromBytes(original.Shape(), original.Bytes()[:4])
	require.Error(t, err, "byte count must match the shape")
	_, err = FromBytes(shapes.Make(dtypes.Float32, shapes.UnknownDim), nil)
	require.Error(t, err, "open shapes cannot be materialized")
}

func TestDataTypeMismatch(t *testing.T) {
	x := FromFlatDataAndDimensions([]float32{1, 2}, 2)
	require.Panics(t, func() { Data[float64](x) })
	require.Panics(t, func() { FromShape(shapes.Make(dtypes.Float32, shapes.UnknownDim, 2)) })
}

func TestCloneIsIndependent(t *testing.T) {
	x := FromScalarAndDimensions[float64](1, 2, 2)
	y := x.Clone()
	Data[float64](y)[0] = 42
	assert.Equal(t, float64(1), Data[float64](x)[0])
	assert.True(t, x.Shape().Equal(y.Shape()))
}

func TestFloat16Conversions(t *testing.T) {
	x := FromFlatDataAndDimensions([]float32{0.5, -1, 2}, 3)
	half := x.ToFloat16()
	assert.Equal(t, dtypes.Float16, half.DType())
	back := half.ToFloat32()
	assert.Equal(t, []float32{0.5, -1, 2}, Data[float32](back), "these values are exact in half precision")
}
