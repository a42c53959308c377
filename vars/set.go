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

package vars

import "github.com/gomlx/exporter/types"

// Container is implemented by anything that owns variables: layers, models,
// reloaded archives. Export archives discover state by calling Variables and
// tracking each returned variable.
type Container interface {
	// Variables returns the variables owned by the container, in a stable order.
	Variables() []*Variable
}

// VariableSet is an ordered, deduplicating collection of variables, partitioned
// into trainable and non-trainable. Insertion order within each partition is
// preserved, and a variable's first insertion decides its partition: later
// insertions of the same handle are no-ops, even if the trainable flag changed
// in between.
type VariableSet struct {
	seen         types.Set[uint64]
	trainable    []*Variable
	nonTrainable []*Variable
}

// NewSet returns an empty VariableSet.
func NewSet() *VariableSet {
	return &VariableSet{seen: types.MakeSet[uint64]()}
}

// Add inserts v into the partition given by its current trainable flag.
// It returns true if the variable was newly inserted.
func (s *VariableSet) Add(v *Variable) bool {
	v.AssertValid()
	return s.AddAs(v, v.IsTrainable())
}

// AddAs inserts v into the partition given by trainable, regardless of the
// variable's own flag. It returns true if the variable was newly inserted.
func (s *VariableSet) AddAs(v *Variable, trainable bool) bool {
	v.AssertValid()
	if s.seen.Has(v.Handle()) {
		return false
	}
	s.seen.Insert(v.Handle())
	if trainable {
		s.trainable = append(s.trainable, v)
	} else {
		s.nonTrainable = append(s.nonTrainable, v)
	}
	return true
}

// Has reports whether a variable with the given handle was inserted.
func (s *VariableSet) Has(handle uint64) bool { return s.seen.Has(handle) }

// Len returns the number of distinct variables inserted.
func (s *VariableSet) Len() int { return len(s.trainable) + len(s.nonTrainable) }

// Trainable returns the trainable partition in insertion order.
// The returned slice is owned by the set.
func (s *VariableSet) Trainable() []*Variable { return s.trainable }

// NonTrainable returns the non-trainable partition in insertion order.
// The returned slice is owned by the set.
func (s *VariableSet) NonTrainable() []*Variable { return s.nonTrainable }

// Variables returns all variables, trainable first, then non-trainable, each in
// insertion order. It allocates a new slice.
func (s *VariableSet) Variables() []*Variable {
	all := make([]*Variable, 0, s.Len())
	all = append(all, s.trainable...)
	all = append(all, s.nonTrainable...)
	return all
}
