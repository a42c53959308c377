package kernels

import (
	"testing"

	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryBroadcast(t *testing.T) {
	a := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	bias := tensors.FromFlatDataAndDimensions([]float32{10, 20, 30}, 3)
	sum := Add(a, bias)
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, tensors.Data[float32](sum))

	scalar := tensors.FromScalarAndDimensions[float32](2)
	doubled := Mul(a, scalar)
	assert.Equal(t, []float32{2, 4, 6, 8, 10, 12}, tensors.Data[float32](doubled))

	diff := Sub(a, a)
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0}, tensors.Data[float32](diff))

	require.Panics(t, func() {
		Add(a, tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
	})
	require.Panics(t, func() {
		Add(a, tensors.FromFlatDataAndDimensions([]float64{1, 2, 3}, 3))
	})
}

func TestBinaryShapeOpenDims(t *testing.T) {
	open := shapes.Make(dtypes.Float32, shapes.UnknownDim, 3)
	concrete := shapes.Make(dtypes.Float32, 2, 3)
	require.True(t, BinaryShape(open, concrete).Equal(concrete))
	require.True(t, BinaryShape(open, open).Equal(open))
	require.True(t, BinaryShape(open, shapes.Make(dtypes.Float32, 3)).Equal(open))
}

func TestMatMul(t *testing.T) {
	a := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := tensors.FromFlatDataAndDimensions([]float32{1, 0, 0, 1, 1, 1}, 3, 2)
	got := MatMul(a, b)
	require.True(t, got.Shape().Equal(shapes.Make(dtypes.Float32, 2, 2)))
	assert.Equal(t, []float32{4, 5, 10, 11}, tensors.Data[float32](got))

	open := MatMulShape(shapes.Make(dtypes.Float32, shapes.UnknownDim, 3), shapes.Make(dtypes.Float32, 3, 4))
	require.True(t, open.Equal(shapes.Make(dtypes.Float32, shapes.UnknownDim, 4)))

	require.Panics(t, func() { MatMul(a, a) })
}

func TestUnary(t *testing.T) {
	x := tensors.FromFlatDataAndDimensions([]float64{-1, 0, 2}, 3)
	assert.Equal(t, []float64{0, 0, 2}, tensors.Data[float64](Relu(x)))
	assert.InDelta(t, 0.5, tensors.Data[float64](Sigmoid(x))[1], 1e-9)
	assert.InDelta(t, 1.0, tensors.Data[float64](Exp(x))[1], 1e-9)
	assert.InDelta(t, 0.0, tensors.Data[float64](Tanh(x))[1], 1e-9)

	require.Panics(t, func() {
		Relu(tensors.FromFlatDataAndDimensions([]int32{1, 2}, 2))
	})
}
