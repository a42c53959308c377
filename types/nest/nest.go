// Package nest implements the nested value structures used by serving signatures:
// an input contract is not always a single tensor -- it may be an ordered list or a
// string-keyed map of tensors, nested arbitrarily.
//
// A Nest[T] is either a leaf (one T), a list of sub-nests, or a map of sub-nests.
// Flattening is deterministic: lists in order, maps in sorted-key order. Two nests
// with the same structure flatten to leaves in the same positions, which is the
// property the endpoint-freezing machinery relies on to pair signature leaves with
// value leaves.
package nest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

type kind int

const (
	leafKind kind = iota
	listKind
	mapKind
)

// Nest is an immutable nested structure of values of type T.
// Build one with Leaf, List or MapOf.
type Nest[T any] struct {
	kind kind
	leaf T
	list []*Nest[T]

	// keys is kept sorted; entries is keyed by the same strings.
	keys    []string
	entries map[string]*Nest[T]
}

// Leaf returns a nest holding a single value.
func Leaf[T any](value T) *Nest[T] {
	return &Nest[T]{kind: leafKind, leaf: value}
}

// List returns a nest holding an ordered list of sub-nests.
func List[T any](items ...*Nest[T]) *Nest[T] {
	for ii, item := range items {
		if item == nil {
			exceptions.Panicf("nest.List: item %d is nil", ii)
		}
	}
	return &Nest[T]{kind: listKind, list: items}
}

// ListOf returns a nest holding an ordered list of leaves, one per value.
func ListOf[T any](values ...T) *Nest[T] {
	items := make([]*Nest[T], len(values))
	for ii, value := range values {
		items[ii] = Leaf(value)
	}
	return List(items...)
}

// MapOf returns a nest holding a string-keyed map of sub-nests.
// Key order is normalized to sorted order.
func MapOf[T any](entries map[string]*Nest[T]) *Nest[T] {
	keys := make([]string, 0, len(entries))
	for key, item := range entries {
		if item == nil {
			exceptions.Panicf("nest.MapOf: entry %q is nil", key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	cloned := make(map[string]*Nest[T], len(entries))
	for key, item := range entries {
		cloned[key] = item
	}
	return &Nest[T]{kind: mapKind, keys: keys, entries: cloned}
}

// IsLeaf returns whether the nest is a single value.
func (n *Nest[T]) IsLeaf() bool { return n.kind == leafKind }

// Value returns the leaf value. It panics if the nest is not a leaf.
func (n *Nest[T]) Value() T {
	if n.kind != leafKind {
		exceptions.Panicf("nest.Value called on non-leaf nest %s", n)
	}
	return n.leaf
}

// NumLeaves returns the number of leaves in the nest.
func (n *Nest[T]) NumLeaves() int {
	count := 0
	n.visit(func(T) { count++ })
	return count
}

func (n *Nest[T]) visit(fn func(value T)) {
	switch n.kind {
	case leafKind:
		fn(n.leaf)
	case listKind:
		for _, item := range n.list {
			item.visit(fn)
		}
	case mapKind:
		for _, key := range n.keys {
			n.entries[key].visit(fn)
		}
	}
}

// Flatten returns the leaves of the nest in deterministic order: depth-first,
// lists in order, maps in sorted-key order.
func (n *Nest[T]) Flatten() []T {
	leaves := make([]T, 0, 1)
	n.visit(func(value T) { leaves = append(leaves, value) })
	return leaves
}

// Map applies fn to every leaf, returning a new nest with the same structure.
func Map[T, U any](n *Nest[T], fn func(value T) U) *Nest[U] {
	switch n.kind {
	case leafKind:
		return Leaf(fn(n.leaf))
	case listKind:
		items := make([]*Nest[U], len(n.list))
		for ii, item := range n.list {
			items[ii] = Map(item, fn)
		}
		return &Nest[U]{kind: listKind, list: items}
	default:
		entries := make(map[string]*Nest[U], len(n.entries))
		for key, item := range n.entries {
			entries[key] = Map(item, fn)
		}
		return &Nest[U]{kind: mapKind, keys: append([]string(nil), n.keys...), entries: entries}
	}
}

// Pack builds a nest with the structure of `structure` and the given leaves, in
// Flatten order. It panics if the number of leaves doesn't match.
func Pack[T, U any](structure *Nest[T], leaves []U) *Nest[U] {
	packed, rest := pack(structure, leaves)
	if len(rest) != 0 {
		exceptions.Panicf("nest.Pack: %d leaves given, structure takes %d",
			len(leaves), len(leaves)-len(rest))
	}
	return packed
}

func pack[T, U any](structure *Nest[T], leaves []U) (*Nest[U], []U) {
	switch structure.kind {
	case leafKind:
		if len(leaves) == 0 {
			exceptions.Panicf("nest.Pack: not enough leaves for structure")
		}
		return Leaf(leaves[0]), leaves[1:]
	case listKind:
		items := make([]*Nest[U], len(structure.list))
		for ii, item := range structure.list {
			items[ii], leaves = pack(item, leaves)
		}
		return &Nest[U]{kind: listKind, list: items}, leaves
	default:
		entries := make(map[string]*Nest[U], len(structure.entries))
		for _, key := range structure.keys {
			entries[key], leaves = pack(structure.entries[key], leaves)
		}
		return &Nest[U]{kind: mapKind, keys: append([]string(nil), structure.keys...), entries: entries}, leaves
	}
}

// SameStructure returns whether a and b have the same shape of nesting,
// irrespective of the leaf values.
func SameStructure[T, U any](a *Nest[T], b *Nest[U]) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case leafKind:
		return true
	case listKind:
		if len(a.list) != len(b.list) {
			return false
		}
		for ii := range a.list {
			if !SameStructure(a.list[ii], b.list[ii]) {
				return false
			}
		}
		return true
	default:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for ii, key := range a.keys {
			if key != b.keys[ii] || !SameStructure(a.entries[key], b.entries[key]) {
				return false
			}
		}
		return true
	}
}

// Equal returns whether a and b have the same structure and leaf-wise equal values
// under eq.
func Equal[T any](a, b *Nest[T], eq func(x, y T) bool) bool {
	if !SameStructure(a, b) {
		return false
	}
	aLeaves, bLeaves := a.Flatten(), b.Flatten()
	for ii := range aLeaves {
		if !eq(aLeaves[ii], bLeaves[ii]) {
			return false
		}
	}
	return true
}

// String prints the nesting structure with the leaves' String or value form.
func (n *Nest[T]) String() string {
	switch n.kind {
	case leafKind:
		return fmt.Sprintf("%v", n.leaf)
	case listKind:
		parts := make([]string, len(n.list))
		for ii, item := range n.list {
			parts[ii] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		parts := make([]string, len(n.keys))
		for ii, key := range n.keys {
			parts[ii] = fmt.Sprintf("%s: %s", key, n.entries[key])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
}

// nestJSON is the on-the-wire representation: exactly one of the fields is set.
type nestJSON struct {
	Leaf json.RawMessage            `json:"leaf,omitempty"`
	List []json.RawMessage          `json:"list,omitempty"`
	Map  map[string]json.RawMessage `json:"map,omitempty"`
}

// MarshalJSON implements json.Marshaler. T must itself be JSON-marshalable.
func (n *Nest[T]) MarshalJSON() ([]byte, error) {
	switch n.kind {
	case leafKind:
		leaf, err := json.Marshal(n.leaf)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal nest leaf")
		}
		return json.Marshal(nestJSON{Leaf: leaf})
	case listKind:
		items := make([]json.RawMessage, len(n.list))
		for ii, item := range n.list {
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			items[ii] = data
		}
		return json.Marshal(nestJSON{List: items})
	default:
		entries := make(map[string]json.RawMessage, len(n.entries))
		for key, item := range n.entries {
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			entries[key] = data
		}
		// Empty maps still need the "map" key to round-trip:
		if len(entries) == 0 {
			return []byte(`{"map":{}}`), nil
		}
		return json.Marshal(nestJSON{Map: entries})
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Nest[T]) UnmarshalJSON(data []byte) error {
	var nj nestJSON
	if err := json.Unmarshal(data, &nj); err != nil {
		return errors.Wrapf(err, "failed to unmarshal nest from %q", data)
	}
	switch {
	case nj.Leaf != nil:
		var leaf T
		if err := json.Unmarshal(nj.Leaf, &leaf); err != nil {
			return errors.Wrapf(err, "failed to unmarshal nest leaf from %q", nj.Leaf)
		}
		*n = Nest[T]{kind: leafKind, leaf: leaf}
	case nj.Map != nil:
		entries := make(map[string]*Nest[T], len(nj.Map))
		keys := make([]string, 0, len(nj.Map))
		for key, raw := range nj.Map {
			item := &Nest[T]{}
			if err := item.UnmarshalJSON(raw); err != nil {
				return err
			}
			entries[key] = item
			keys = append(keys, key)
		}
		sort.Strings(keys)
		*n = Nest[T]{kind: mapKind, keys: keys, entries: entries}
	default:
		items := make([]*Nest[T], len(nj.List))
		for ii, raw := range nj.List {
			items[ii] = &Nest[T]{}
			if err := items[ii].UnmarshalJSON(raw); err != nil {
				return err
			}
		}
		*n = Nest[T]{kind: listKind, list: items}
	}
	return nil
}
