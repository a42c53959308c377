package xrt

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types/nest"
)

// Fn is a runtime function: it computes outputs from inputs, reading variable
// state only through the scope. Keeping state access explicit is what lets the
// export adapter re-run the same body with traced arrays and capture every
// variable read.
//
// It is a type alias so plain function literals satisfy it without conversion.
type Fn = func(s *Scope, inputs *nest.Nest[*Array]) *nest.Nest[*Array]

// Scope mediates variable reads during one Fn invocation. In eager mode an
// unbound read falls back to the variable's current value. In tracing mode
// every variable the function reads must have been bound beforehand, so the
// set and order of bindings fully determines the captured state.
type Scope struct {
	runtime *Runtime
	graph   *trace.Graph
	bound   map[uint64]*Array
	order   []*Variable
	resolve func(v *Variable) *Array
}

// NewScope returns an eager scope for the runtime.
func NewScope(r *Runtime) *Scope {
	return &Scope{runtime: r, bound: make(map[uint64]*Array)}
}

// NewTracingScope returns a scope whose reads must resolve to bindings on g.
// It is used when converting a runtime function into a trace.
func NewTracingScope(r *Runtime, g *trace.Graph) *Scope {
	if g == nil {
		exceptions.Panicf("xrt.NewTracingScope: nil graph")
	}
	return &Scope{runtime: r, graph: g, bound: make(map[uint64]*Array)}
}

// Runtime returns the runtime the scope was created for.
func (s *Scope) Runtime() *Runtime { return s.runtime }

// IsTracing reports whether the scope resolves reads into graph nodes.
func (s *Scope) IsTracing() bool { return s.graph != nil }

// Bind binds v to a for subsequent reads in this scope. Rebinding a variable
// replaces its value; the first binding fixes its position in BoundVariables.
func (s *Scope) Bind(v *Variable, a *Array) {
	if v.runtime != s.runtime {
		exceptions.Panicf("xrt.Scope.Bind: variable %q belongs to runtime %q, scope is for %q",
			v.Name(), v.runtime.name, s.runtime.name)
	}
	if s.graph != nil && !a.IsTraced() {
		exceptions.Panicf("xrt.Scope.Bind: eager value bound for %q in a tracing scope", v.Name())
	}
	if _, found := s.bound[v.Handle()]; !found {
		s.order = append(s.order, v)
	}
	s.bound[v.Handle()] = a
}

// SetResolver installs a fallback for reads of unbound variables. When the
// resolver returns non-nil, the result is bound as if by Bind; a nil result
// falls through to the unbound behavior. Converters use this to mint one
// binding per variable actually read, in read order.
func (s *Scope) SetResolver(fn func(v *Variable) *Array) { s.resolve = fn }

// Read returns the value bound for v. In eager mode an unbound variable reads
// its current tensor; in tracing mode an unbound read panics, since it would
// silently escape the captured state.
func (s *Scope) Read(v *Variable) *Array {
	if a, found := s.bound[v.Handle()]; found {
		return a
	}
	if s.resolve != nil {
		if a := s.resolve(v); a != nil {
			s.Bind(v, a)
			return a
		}
	}
	if s.graph != nil {
		exceptions.Panicf("xrt.Scope.Read: variable %q read while tracing but never bound", v.Name())
	}
	return FromTensor(v.Value())
}

// BoundVariables returns the variables bound so far, in first-binding order.
func (s *Scope) BoundVariables() []*Variable {
	return append([]*Variable(nil), s.order...)
}

// Invoke runs fn eagerly on the runtime. It is the direct execution path,
// useful to compare a converted trace against the runtime's own results.
func (r *Runtime) Invoke(fn Fn, inputs *nest.Nest[*Array]) *nest.Nest[*Array] {
	return fn(NewScope(r), inputs)
}
