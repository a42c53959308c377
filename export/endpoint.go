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

package export

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types/nest"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/xrt"
	"github.com/pkg/errors"
)

const (
	// ServingDefault is the signature key servers look up when the client does
	// not name one. Unless an endpoint claims the name itself, Write aliases it
	// to the first endpoint added.
	ServingDefault = "serving_default"

	// DefaultEndpointName is the conventional name for a model's inference
	// endpoint. ExportModel and Reload use it.
	DefaultEndpointName = "serve"
)

// Serialization values recorded per endpoint.
const (
	// SerializationNative marks a trace exported as built, host and converted
	// foreign traces alike.
	SerializationNative = "native"
	// SerializationPortable marks a foreign trace that was downgraded to a
	// device-independent form because the exporting host could not see the
	// runtime's accelerator.
	SerializationPortable = "portable"
)

// Endpoint is one named, callable entry point of an artifact.
type Endpoint struct {
	name          string
	concrete      *trace.Concrete
	serialization string
}

// Name returns the endpoint's name.
func (e *Endpoint) Name() string { return e.name }

// Concrete returns the trace serving the endpoint.
func (e *Endpoint) Concrete() *trace.Concrete { return e.concrete }

// Serialization returns SerializationNative or SerializationPortable.
func (e *Endpoint) Serialization() string { return e.serialization }

// AddEndpoint registers fn as a callable endpoint under name. fn may be:
//
//   - *trace.Concrete: used as is; no signature needed.
//   - *trace.Function: the given signature selects (or freezes) a trace; with a
//     nil signature the function's first existing trace is used, and a function
//     with no traces fails with ErrUnspecializedFunction.
//   - trace.BuilderFn: frozen against the signature, which is required.
//   - xrt.Fn: converted to a host trace; cross-runtime archives only, and the
//     signature is required.
//
// Signature leaves may use shapes.UnknownDim for axes resolved per call,
// typically the batch axis. Endpoint names must be unique per archive.
func (a *Archive) AddEndpoint(name string, fn any, signature *nest.Nest[shapes.Shape]) (*Endpoint, error) {
	if name == "" {
		return nil, errors.New("endpoint name is empty")
	}
	for _, existing := range a.endpoints {
		if existing.name == name {
			return nil, errors.Wrapf(ErrDuplicateEndpointName, "%q", name)
		}
	}

	endpoint := &Endpoint{name: name, serialization: SerializationNative}
	switch f := fn.(type) {
	case *trace.Concrete:
		endpoint.concrete = f

	case *trace.Function:
		if signature != nil {
			endpoint.concrete = f.ConcreteFor(signature)
			break
		}
		traces := f.ConcreteTraces()
		if len(traces) == 0 {
			return nil, errors.Wrapf(ErrUnspecializedFunction,
				"endpoint %q: function %q was never invoked", name, f.Name())
		}
		endpoint.concrete = traces[0]

	case trace.BuilderFn:
		if signature == nil {
			return nil, errors.Wrapf(ErrMissingSignature, "endpoint %q wraps a builder", name)
		}
		var err error
		endpoint.concrete, err = freezeBuilder(name, f, signature)
		if err != nil {
			return nil, err
		}

	case xrt.Fn:
		if a.runtime == nil {
			return nil, errors.Wrapf(ErrUnsupportedRuntime,
				"endpoint %q wraps a runtime function, but the archive is host only", name)
		}
		if signature == nil {
			return nil, errors.Wrapf(ErrMissingSignature, "endpoint %q wraps a runtime function", name)
		}
		concrete, serialization, err := a.convert(name, f, signature)
		if err != nil {
			return nil, err
		}
		endpoint.concrete = concrete
		endpoint.serialization = serialization

	default:
		return nil, errors.Wrapf(ErrInvalidResource,
			"endpoint %q: fn is %T, want *trace.Concrete, *trace.Function, trace.BuilderFn or xrt.Fn", name, fn)
	}

	// State read by the endpoint is collected up front, so the variable order
	// of the artifact is already fixed when Write runs.
	a.sink.addUses(endpoint.concrete.VariableUses())
	a.endpoints = append(a.endpoints, endpoint)
	return endpoint, nil
}

// Endpoints returns the registered endpoints in registration order.
func (a *Archive) Endpoints() []*Endpoint {
	return append([]*Endpoint(nil), a.endpoints...)
}

// freezeBuilder converts Freeze panics into errors, so a misbehaving builder
// fails AddEndpoint instead of unwinding through the caller.
func freezeBuilder(name string, builder trace.BuilderFn, signature *nest.Nest[shapes.Shape]) (*trace.Concrete, error) {
	var concrete *trace.Concrete
	err := exceptions.TryCatch[error](func() {
		concrete = trace.Freeze(name, builder, signature)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "endpoint %q: tracing failed", name)
	}
	return concrete, nil
}
