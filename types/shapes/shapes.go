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

// Package shapes defines Shape and associated tools.
//
// Shape represents the shape (rank, dimensions and DType) of either a concrete tensor
// value or the expected shape of a value in a traced computation. DType indicates the
// type of the unit element of a tensor, and is defined in github.com/gomlx/gopjrt/dtypes.
//
// A dimension may be left open (see UnknownDim), meaning its size is only fixed at
// execution time -- typically the batch dimension of a serving signature. A shape with
// open dimensions can describe values but cannot back a concrete tensor; see
// Shape.IsFullyDefined and Shape.AssignableFrom.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: the index of a dimension on a multidimensional tensor.
//   - Dimension: the size of a tensor in one of its axes.
//   - DType: the data type of the unit element in a tensor.
//   - Scalar: a shape with no axes, only a single value of the associated DType.
package shapes

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// UnknownDim marks a dimension whose size is left open until execution time.
// It is what a serving signature uses for the batch axis.
const UnknownDim = -1

// Shape represents the shape of either a concrete tensor or the expected shape
// of a value in a traced computation.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
// Dimensions must be positive or UnknownDim.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 && dim != UnknownDim {
			exceptions.Panicf("shapes.Make(%s): dimensions must be positive or UnknownDim, got %d", s, dim)
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given type.
func Scalar[T dtypes.Number]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it
// with Shape{}, will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// IsFullyDefined returns whether every dimension is concrete, that is, no dimension is UnknownDim.
func (s Shape) IsFullyDefined() bool {
	return !slices.Contains(s.Dimensions, UnknownDim)
}

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements stringer, pretty-prints the shape. Open dimensions print as "?".
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		if dim == UnknownDim {
			parts = append(parts, "?")
		} else {
			parts = append(parts, strconv.Itoa(dim))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Size returns the number of elements of DType needed for this shape. It's the product
// of all dimensions. It panics if the shape is not fully defined.
func (s Shape) Size() (size int) {
	if !s.IsFullyDefined() {
		exceptions.Panicf("Shape.Size() undefined for shape %s with open dimensions", s)
	}
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as
// the size in bytes. It panics if the shape is not fully defined.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
// Open dimensions only match open dimensions.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// AssignableFrom returns whether a value of shape `from` satisfies the (possibly open)
// shape s: dtypes and ranks must match, and each concrete dimension of s must match the
// corresponding dimension of `from`. An open dimension of s accepts any size.
func (s Shape) AssignableFrom(from Shape) bool {
	if s.DType != from.DType || s.Rank() != from.Rank() {
		return false
	}
	for axis, dim := range s.Dimensions {
		if dim == UnknownDim {
			continue
		}
		if dim != from.Dimensions[axis] {
			return false
		}
	}
	return true
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// shapeJSON is the on-the-wire representation of a Shape: the dtype goes by name,
// so manifests remain readable and robust to enum renumbering.
type shapeJSON struct {
	DType      string `json:"dtype"`
	Dimensions []int  `json:"dims,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s Shape) MarshalJSON() ([]byte, error) {
	return json.Marshal(shapeJSON{DType: s.DType.String(), Dimensions: s.Dimensions})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Shape) UnmarshalJSON(data []byte) error {
	var sj shapeJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return errors.Wrapf(err, "failed to unmarshal Shape from %q", data)
	}
	dtype, found := dtypes.MapOfNames[sj.DType]
	if !found {
		return errors.Errorf("unknown dtype %q unmarshalling Shape", sj.DType)
	}
	s.DType = dtype
	s.Dimensions = sj.Dimensions
	for _, dim := range s.Dimensions {
		if dim <= 0 && dim != UnknownDim {
			return errors.Errorf("invalid dimension %d unmarshalling Shape from %q", dim, data)
		}
	}
	return nil
}
