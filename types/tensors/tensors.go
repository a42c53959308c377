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

// Package tensors implements a minimalistic host-memory tensor: a shape and its
// flat data. It is the value type held by variables and moved in and out of
// serialized artifacts.
//
// The main ways to construct a Tensor:
//
//   - FromShape(shape): a Tensor of the given shape initialized with zeros.
//   - FromFlatDataAndDimensions[T](data, dimensions...): a Tensor with the given
//     flat values and dimensions.
//   - FromScalarAndDimensions[T](value, dimensions...): a Tensor with every element
//     initialized to value.
//   - FromBytes(shape, raw): a Tensor decoded from its raw byte representation,
//     as stored in artifacts.
//
// Data is accessed with Data[T] (typed view) or Bytes (raw view, used by the
// artifact writer/reader). There is no device storage: everything lives on host.
package tensors

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is a multidimensional array of one of the supported dtypes.
// It is not thread-safe: serialize access externally if shared.
//
// Always use it by reference (pointer).
type Tensor struct {
	shape shapes.Shape

	// flat is a slice of the Go type corresponding to shape.DType, of length shape.Size().
	flat any
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
// The shape must be valid and fully defined.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		panic(errors.New("tensors.FromShape: invalid shape"))
	}
	if !shape.IsFullyDefined() {
		exceptions.Panicf("tensors.FromShape(%s): cannot materialize a tensor with open dimensions", shape)
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	return &Tensor{shape: shape, flat: flatV.Interface()}
}

// FromFlatDataAndDimensions creates a Tensor with the given flat data and dimensions.
// The data length must match the product of the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t := &Tensor{shape: shape}
	flat := make([]T, len(data))
	copy(flat, data)
	t.flat = flat
	return t
}

// FromScalarAndDimensions creates a Tensor with the given dimensions, with every
// element initialized to value. With no dimensions it creates a scalar.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	flat := make([]T, shape.Size())
	for ii := range flat {
		flat[ii] = value
	}
	return &Tensor{shape: shape, flat: flat}
}

// FromBytes creates a Tensor of the given shape from its raw byte representation,
// in little-endian host order -- the inverse of Tensor.Bytes. Used when reading
// variables back from an artifact.
func FromBytes(shape shapes.Shape, raw []byte) (*Tensor, error) {
	if !shape.Ok() || !shape.IsFullyDefined() {
		return nil, errors.Errorf("tensors.FromBytes: invalid or open shape %s", shape)
	}
	if uintptr(len(raw)) != shape.Memory() {
		return nil, errors.Errorf("tensors.FromBytes(%s): got %d bytes, shape requires %d",
			shape, len(raw), shape.Memory())
	}
	t := FromShape(shape)
	copy(t.Bytes(), raw)
	return t, nil
}

// Shape of the Tensor.
func (t *Tensor) Shape() shapes.Shape {
	if t == nil {
		return shapes.Shape{}
	}
	return t.shape
}

// DType of the Tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// AssertValid panics if the tensor is nil or holds no data.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensors.Tensor is nil")
	}
	if t.flat == nil {
		exceptions.Panicf("tensors.Tensor(%s) holds no data", t.shape)
	}
}

// Data returns the flat data of the tensor as a slice of the requested type.
// The slice is owned by the tensor -- mutations are seen by every other view.
// It panics if T does not match the tensor's dtype.
func Data[T dtypes.Supported](t *Tensor) []T {
	t.AssertValid()
	want := dtypes.FromGenericsType[T]()
	if t.shape.DType != want {
		exceptions.Panicf("tensors.Data[%s] called on tensor of dtype %s", want, t.shape.DType)
	}
	return t.flat.([]T)
}

// Bytes returns a view of the tensor data as raw bytes, in host order.
// The returned slice aliases the tensor storage.
func (t *Tensor) Bytes() []byte {
	t.AssertValid()
	flatV := reflect.ValueOf(t.flat)
	if flatV.Len() == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(flatV.Pointer())), int(t.Memory()))
}

// Equal returns whether two tensors have the same shape and bit-identical data.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	a, b := t.Bytes(), other.Bytes()
	if len(a) != len(b) {
		return false
	}
	for ii := range a {
		if a[ii] != b[ii] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	clone := FromShape(t.shape)
	copy(clone.Bytes(), t.Bytes())
	return clone
}

// String prints the shape and, for small tensors, the values.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	if t.flat == nil {
		return fmt.Sprintf("Tensor%s (finalized)", t.shape)
	}
	const maxElements = 8
	if t.Size() <= maxElements {
		return fmt.Sprintf("Tensor%s: %v", t.shape, t.flat)
	}
	return fmt.Sprintf("Tensor%s", t.shape)
}

// ToFloat32 converts Float16 and Float64 tensors to a newly allocated Float32
// tensor. Float32 tensors are cloned. Used when a half-precision variable needs
// to participate in host-side computation.
func (t *Tensor) ToFloat32() *Tensor {
	t.AssertValid()
	switch t.shape.DType {
	case dtypes.Float32:
		return t.Clone()
	case dtypes.Float64:
		from := Data[float64](t)
		to := make([]float32, len(from))
		for ii, v := range from {
			to[ii] = float32(v)
		}
		return FromFlatDataAndDimensions(to, t.shape.Dimensions...)
	case dtypes.Float16:
		from := Data[float16.Float16](t)
		to := make([]float32, len(from))
		for ii, v := range from {
			to[ii] = v.Float32()
		}
		return FromFlatDataAndDimensions(to, t.shape.Dimensions...)
	}
	exceptions.Panicf("Tensor.ToFloat32: unsupported conversion from %s", t.shape.DType)
	return nil
}

// ToFloat16 converts a Float32 tensor to a newly allocated Float16 tensor --
// the storage form used by half-precision exported weights.
func (t *Tensor) ToFloat16() *Tensor {
	t.AssertValid()
	if t.shape.DType != dtypes.Float32 {
		exceptions.Panicf("Tensor.ToFloat16: unsupported conversion from %s", t.shape.DType)
	}
	from := Data[float32](t)
	to := make([]float16.Float16, len(from))
	for ii, v := range from {
		to[ii] = float16.Fromfloat32(v)
	}
	return FromFlatDataAndDimensions(to, t.shape.Dimensions...)
}
