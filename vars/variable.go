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

// Package vars defines Variable, the unit of trainable or frozen state tracked
// by export archives, and VariableSet, the ordered deduplicating collection the
// archive accumulates variables into.
//
// Every Variable gets a process-unique integer handle at creation. Handles are
// what sets and serialized programs key on, so two variables that happen to hold
// equal tensors are still distinct, while the same variable reached through two
// different endpoints is deduplicated.
package vars

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
)

// VariableParameterPrefix is prepended to the variable name to build its
// parameter name, the key used in serialized programs and weight files.
const VariableParameterPrefix = "var:"

var handleArena atomic.Uint64

// Variable is a named tensor holder. Its value can be replaced with SetValue,
// but its shape is fixed at creation.
//
// Variables are created with New and are immediately usable ("built"). A
// zero-valued Variable is invalid.
type Variable struct {
	handle    uint64
	name      string
	shape     shapes.Shape
	value     *tensors.Tensor
	trainable bool
}

// New creates a Variable with the given name and initial value. It is created
// trainable; chain SetTrainable(false) for frozen state.
func New(name string, value *tensors.Tensor) *Variable {
	value.AssertValid()
	return &Variable{
		handle:    handleArena.Add(1),
		name:      name,
		shape:     value.Shape(),
		value:     value,
		trainable: true,
	}
}

// AssertValid panics if v is nil or was not created with New.
func (v *Variable) AssertValid() {
	if v == nil || v.handle == 0 {
		exceptions.Panicf("vars.Variable is nil or was not created with vars.New")
	}
}

// Handle returns the process-unique identity of the variable.
func (v *Variable) Handle() uint64 {
	v.AssertValid()
	return v.handle
}

// Name returns the name given at creation. Names are labels, not identities:
// two variables may share a name.
func (v *Variable) Name() string { return v.name }

// ParameterName returns the name under which the variable's value is stored in
// serialized programs and weight files.
func (v *Variable) ParameterName() string {
	return fmt.Sprintf("%s%s", VariableParameterPrefix, v.name)
}

// Shape returns the fixed shape of the variable.
func (v *Variable) Shape() shapes.Shape {
	v.AssertValid()
	return v.shape
}

// Value returns the current tensor held by the variable.
func (v *Variable) Value() *tensors.Tensor {
	v.AssertValid()
	return v.value
}

// SetValue replaces the variable's tensor. The new value must have the same
// shape as the one given at creation.
func (v *Variable) SetValue(value *tensors.Tensor) {
	v.AssertValid()
	value.AssertValid()
	if !v.shape.Equal(value.Shape()) {
		exceptions.Panicf("SetValue of variable %q with shape %s, but variable has shape %s",
			v.name, value.Shape(), v.shape)
	}
	v.value = value
}

// IsTrainable reports whether the variable takes part in training.
func (v *Variable) IsTrainable() bool { return v.trainable }

// SetTrainable sets whether the variable takes part in training. It returns the
// variable, so it can be chained after New.
func (v *Variable) SetTrainable(trainable bool) *Variable {
	v.trainable = trainable
	return v
}

// String implements fmt.Stringer.
func (v *Variable) String() string {
	if v == nil || v.handle == 0 {
		return "Variable(invalid)"
	}
	return fmt.Sprintf("Variable(%q, %s)", v.name, v.shape)
}
