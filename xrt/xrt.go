// Package xrt models a foreign accelerator runtime whose functions and
// variables can be adapted into host export archives.
//
// The runtime is deliberately small: it owns native Variables, and its
// functions (Fn) compute over Arrays through an explicit Scope that binds state
// to reads. Arrays are dual: eager (backed by a host tensor) when a function is
// executed directly, or traced (backed by a graph node) when the export adapter
// converts the function into a serializable trace. The same Fn body serves both
// modes unchanged.
package xrt

import (
	"sync"

	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/gomlx/exporter/vars"
)

// RuntimeName identifies this runtime family in artifact manifests.
const RuntimeName = "xrt"

// HostGPUProbe reports how many accelerator devices the current host exposes.
// It is a package variable so environments (and tests) can override the probe.
// The default sees none, which makes exports from accelerator-bound runtimes
// degrade to portable form.
var HostGPUProbe = func() int { return 0 }

// Runtime is one foreign runtime instance. It owns native variables and
// remembers which accelerator its state lives on ("" means host memory).
type Runtime struct {
	name        string
	accelerator string

	mu        sync.Mutex
	variables []*Variable
}

// NewRuntime creates a runtime. accelerator names the device class the
// runtime's state is committed to, for example "gpu"; leave it empty for host
// memory.
func NewRuntime(name, accelerator string) *Runtime {
	return &Runtime{name: name, accelerator: accelerator}
}

// Name returns the runtime's name.
func (r *Runtime) Name() string { return r.name }

// Accelerator returns the device class the runtime's state lives on, or "" for
// host memory.
func (r *Runtime) Accelerator() string { return r.accelerator }

// Variables returns the runtime's native variables in creation order.
func (r *Runtime) Variables() []*Variable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Variable(nil), r.variables...)
}

// Variable is a native variable owned by a Runtime. Unlike host variables it is
// not tracked directly by export archives: the adapter mirrors it into a host
// variable and rebinds the converted trace to the mirror.
type Variable struct {
	runtime   *Runtime
	host      *vars.Variable
	trainable bool
}

// NewVariable creates a native variable on the runtime, holding a copy of
// value. Native variables are non-trainable by default, matching runtimes that
// treat committed state as frozen.
func (r *Runtime) NewVariable(name string, value *tensors.Tensor) *Variable {
	value.AssertValid()
	v := &Variable{
		runtime: r,
		host:    vars.New(name, value.Clone()).SetTrainable(false),
	}
	r.mu.Lock()
	r.variables = append(r.variables, v)
	r.mu.Unlock()
	return v
}

// Runtime returns the owning runtime.
func (v *Variable) Runtime() *Runtime { return v.runtime }

// Handle returns the process-unique identity of the variable.
func (v *Variable) Handle() uint64 { return v.host.Handle() }

// Name returns the name given at creation.
func (v *Variable) Name() string { return v.host.Name() }

// ParameterName returns the name the variable's value is stored under.
func (v *Variable) ParameterName() string { return v.host.ParameterName() }

// Shape returns the fixed shape of the variable.
func (v *Variable) Shape() shapes.Shape { return v.host.Shape() }

// Value returns the current tensor held by the variable.
func (v *Variable) Value() *tensors.Tensor { return v.host.Value() }

// SetValue replaces the variable's tensor, which must keep the same shape.
func (v *Variable) SetValue(value *tensors.Tensor) { v.host.SetValue(value.Clone()) }

// IsTrainable reports whether the variable takes part in training.
func (v *Variable) IsTrainable() bool { return v.trainable }

// SetTrainable sets whether the variable takes part in training. It returns the
// variable, so it can be chained after NewVariable.
func (v *Variable) SetTrainable(trainable bool) *Variable {
	v.trainable = trainable
	v.host.SetTrainable(trainable)
	return v
}

// HostMirror returns the host variable that mirrors the native one. The mirror
// shares storage with the native variable, so converted traces always read its
// current value.
func (v *Variable) HostMirror() *vars.Variable { return v.host }

// Container is implemented by anything that owns native variables of a foreign
// runtime. Export archives created for that runtime discover native state by
// calling NativeVariables and mirroring each returned variable.
type Container interface {
	// NativeVariables returns the native variables owned by the container, in a
	// stable order.
	NativeVariables() []*Variable
}
