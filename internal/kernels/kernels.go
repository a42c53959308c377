// Package kernels implements the host CPU kernels shared by the trace interpreter
// and the eager cross-runtime arrays: elementwise binary ops with limited
// broadcasting, elementwise unary ops and 2D matrix multiplication.
//
// Broadcasting is deliberately narrow -- same shape, scalar against anything, or a
// rank-1 vector against the last axis (the bias-add pattern). Kernels compute on
// Float32 and Float64; half-precision values must be widened first
// (see tensors.Tensor.ToFloat32).
package kernels

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/exp/constraints"
)

// BinaryShape infers the result shape of an elementwise binary op between shapes
// a and b, which may contain open dimensions. It panics if the shapes cannot be
// broadcast together.
func BinaryShape(a, b shapes.Shape) shapes.Shape {
	if a.DType != b.DType {
		exceptions.Panicf("binary op between different dtypes: %s vs %s", a, b)
	}
	if a.IsScalar() {
		return b.Clone()
	}
	if b.IsScalar() {
		return a.Clone()
	}
	if a.Rank() == b.Rank() {
		result := a.Clone()
		for axis := range result.Dimensions {
			da, db := a.Dimensions[axis], b.Dimensions[axis]
			switch {
			case da == db:
				// Keep, even if both open.
			case da == shapes.UnknownDim:
				result.Dimensions[axis] = db
			case db == shapes.UnknownDim:
				result.Dimensions[axis] = da
			default:
				exceptions.Panicf("binary op between incompatible shapes %s and %s", a, b)
			}
		}
		return result
	}
	// Rank-1 vector against the last axis.
	if b.Rank() == 1 && lastAxisMatches(a, b) {
		return a.Clone()
	}
	if a.Rank() == 1 && lastAxisMatches(b, a) {
		return b.Clone()
	}
	exceptions.Panicf("binary op between incompatible shapes %s and %s", a, b)
	return shapes.Shape{}
}

func lastAxisMatches(full, vector shapes.Shape) bool {
	last := full.Dim(-1)
	return last == vector.Dimensions[0] || last == shapes.UnknownDim || vector.Dimensions[0] == shapes.UnknownDim
}

// MatMulShape infers the result shape of MatMul between shapes a=[m, k] and
// b=[k, n]. m may be open. It panics on rank or contraction mismatches.
func MatMulShape(a, b shapes.Shape) shapes.Shape {
	if a.DType != b.DType {
		exceptions.Panicf("MatMul between different dtypes: %s vs %s", a, b)
	}
	if a.Rank() != 2 || b.Rank() != 2 {
		exceptions.Panicf("MatMul requires rank-2 operands, got %s and %s", a, b)
	}
	k1, k2 := a.Dimensions[1], b.Dimensions[0]
	if k1 != k2 && k1 != shapes.UnknownDim && k2 != shapes.UnknownDim {
		exceptions.Panicf("MatMul contraction mismatch between %s and %s", a, b)
	}
	return shapes.Make(a.DType, a.Dimensions[0], b.Dimensions[1])
}

// Add returns a+b elementwise, with broadcasting per BinaryShape.
func Add(a, b *tensors.Tensor) *tensors.Tensor {
	return binary(a, b, func(x, y float64) float64 { return x + y })
}

// Sub returns a-b elementwise, with broadcasting per BinaryShape.
func Sub(a, b *tensors.Tensor) *tensors.Tensor {
	return binary(a, b, func(x, y float64) float64 { return x - y })
}

// Mul returns a*b elementwise, with broadcasting per BinaryShape.
func Mul(a, b *tensors.Tensor) *tensors.Tensor {
	return binary(a, b, func(x, y float64) float64 { return x * y })
}

// Div returns a/b elementwise, with broadcasting per BinaryShape.
func Div(a, b *tensors.Tensor) *tensors.Tensor {
	return binary(a, b, func(x, y float64) float64 { return x / y })
}

// Relu returns max(x, 0) elementwise.
func Relu(x *tensors.Tensor) *tensors.Tensor {
	return unary(x, func(v float64) float64 { return math.Max(v, 0) })
}

// Sigmoid returns 1/(1+exp(-x)) elementwise.
func Sigmoid(x *tensors.Tensor) *tensors.Tensor {
	return unary(x, func(v float64) float64 { return 1.0 / (1.0 + math.Exp(-v)) })
}

// Tanh returns tanh(x) elementwise.
func Tanh(x *tensors.Tensor) *tensors.Tensor {
	return unary(x, math.Tanh)
}

// Exp returns exp(x) elementwise.
func Exp(x *tensors.Tensor) *tensors.Tensor {
	return unary(x, math.Exp)
}

func checkFloatDType(t *tensors.Tensor) {
	if t.DType() != dtypes.Float32 && t.DType() != dtypes.Float64 {
		exceptions.Panicf("host kernels support Float32 and Float64, got %s", t.Shape())
	}
}

func unary(x *tensors.Tensor, fn func(float64) float64) *tensors.Tensor {
	checkFloatDType(x)
	result := tensors.FromShape(x.Shape())
	if x.DType() == dtypes.Float32 {
		unaryImpl(tensors.Data[float32](x), tensors.Data[float32](result), fn)
	} else {
		unaryImpl(tensors.Data[float64](x), tensors.Data[float64](result), fn)
	}
	return result
}

func unaryImpl[T constraints.Float](from, to []T, fn func(float64) float64) {
	for ii, v := range from {
		to[ii] = T(fn(float64(v)))
	}
}

func binary(a, b *tensors.Tensor, fn func(x, y float64) float64) *tensors.Tensor {
	checkFloatDType(a)
	checkFloatDType(b)
	resultShape := BinaryShape(a.Shape(), b.Shape())
	result := tensors.FromShape(resultShape)
	if a.DType() == dtypes.Float32 {
		binaryImpl(a, b, tensors.Data[float32](a), tensors.Data[float32](b), tensors.Data[float32](result), fn)
	} else {
		binaryImpl(a, b, tensors.Data[float64](a), tensors.Data[float64](b), tensors.Data[float64](result), fn)
	}
	return result
}

func binaryImpl[T constraints.Float](a, b *tensors.Tensor, aFlat, bFlat, to []T, fn func(x, y float64) float64) {
	aShape, bShape := a.Shape(), b.Shape()
	switch {
	case aShape.Equal(bShape):
		for ii := range to {
			to[ii] = T(fn(float64(aFlat[ii]), float64(bFlat[ii])))
		}
	case aShape.IsScalar():
		x := float64(aFlat[0])
		for ii := range to {
			to[ii] = T(fn(x, float64(bFlat[ii])))
		}
	case bShape.IsScalar():
		y := float64(bFlat[0])
		for ii := range to {
			to[ii] = T(fn(float64(aFlat[ii]), y))
		}
	case bShape.Rank() == 1 && aShape.Dim(-1) == bShape.Dimensions[0]:
		n := bShape.Dimensions[0]
		for ii := range to {
			to[ii] = T(fn(float64(aFlat[ii]), float64(bFlat[ii%n])))
		}
	case aShape.Rank() == 1 && bShape.Dim(-1) == aShape.Dimensions[0]:
		n := aShape.Dimensions[0]
		for ii := range to {
			to[ii] = T(fn(float64(aFlat[ii%n]), float64(bFlat[ii])))
		}
	default:
		exceptions.Panicf("binary op between incompatible shapes %s and %s", aShape, bShape)
	}
}

// MatMul returns the matrix product of a=[m, k] and b=[k, n].
func MatMul(a, b *tensors.Tensor) *tensors.Tensor {
	checkFloatDType(a)
	checkFloatDType(b)
	aShape, bShape := a.Shape(), b.Shape()
	if aShape.Rank() != 2 || bShape.Rank() != 2 || aShape.Dimensions[1] != bShape.Dimensions[0] {
		exceptions.Panicf("MatMul between incompatible shapes %s and %s", aShape, bShape)
	}
	m, k, n := aShape.Dimensions[0], aShape.Dimensions[1], bShape.Dimensions[1]
	result := tensors.FromShape(shapes.Make(aShape.DType, m, n))
	if aShape.DType == dtypes.Float32 {
		matMulImpl(tensors.Data[float32](a), tensors.Data[float32](b), tensors.Data[float32](result), m, k, n)
	} else {
		matMulImpl(tensors.Data[float64](a), tensors.Data[float64](b), tensors.Data[float64](result), m, k, n)
	}
	return result
}

func matMulImpl[T constraints.Float](a, b, to []T, m, k, n int) {
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			var sum T
			for inner := 0; inner < k; inner++ {
				sum += a[row*k+inner] * b[inner*n+col]
			}
			to[row*n+col] = sum
		}
	}
}
