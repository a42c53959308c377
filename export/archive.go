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

// Package export assembles inference artifacts: serving endpoints plus the
// variables, collections and assets they depend on, written as a self-contained
// directory that Load and Reload rebuild without the original program.
//
// The lifecycle is: create an Archive, Track the resources owning state, add
// one or more endpoints, then Write. Host archives accept host builders and
// functions; archives created with NewCrossRuntimeArchive additionally convert
// functions of a foreign runtime into host traces, rebinding their native
// variables to host mirrors.
package export

import (
	"reflect"

	"github.com/gomlx/exporter/assets"
	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/vars"
	"github.com/gomlx/exporter/xrt"
	"github.com/pkg/errors"
)

// HasBuildState is implemented by resources that distinguish a built state.
// Track refuses resources that report they are not built, since their variables
// do not exist yet.
type HasBuildState interface {
	IsBuilt() bool
}

// HasDescendants is implemented by composite resources. Track recurses into the
// descendants after handling the resource itself.
type HasDescendants interface {
	Descendants() []any
}

// Archive accumulates endpoints and state for one artifact. Create it with
// NewArchive or NewCrossRuntimeArchive; the zero value is not usable.
//
// An Archive is not safe for concurrent use.
type Archive struct {
	runtime *xrt.Runtime // nil for host archives.

	sink        *variableSink
	assets      []assets.Asset
	endpoints   []*Endpoint
	collections map[string][]trace.Variable
}

// NewArchive creates an archive for host state: host variables, containers and
// traces.
func NewArchive() *Archive {
	return &Archive{
		sink:        newVariableSink(),
		collections: make(map[string][]trace.Variable),
	}
}

// NewCrossRuntimeArchive creates an archive that additionally accepts the
// native resources and functions of rt, converting them to host form on export.
func NewCrossRuntimeArchive(rt *xrt.Runtime) (*Archive, error) {
	if rt == nil {
		return nil, errors.Wrap(ErrUnsupportedRuntime, "nil runtime")
	}
	a := NewArchive()
	a.runtime = rt
	return a, nil
}

// Runtime returns the foreign runtime the archive was created for, or nil for
// host archives.
func (a *Archive) Runtime() *xrt.Runtime { return a.runtime }

// Track registers a resource whose state the artifact must carry. Accepted
// resources: host variables and vars.Containers, native variables and
// xrt.Containers of the archive's runtime, assets, and composites implementing
// HasDescendants, which are recursed into.
//
// Tracking is idempotent: a variable reached twice keeps its first position and
// partition. The first Track (or endpoint trace) that sees a variable decides
// whether it lands in the trainable or non-trainable partition.
func (a *Archive) Track(resource any) error {
	if resource == nil {
		return errors.Wrap(ErrInvalidResource, "nil resource")
	}
	if buildable, ok := resource.(HasBuildState); ok && !buildable.IsBuilt() {
		return errors.Wrapf(ErrNotBuilt, "resource %T must be built before tracking", resource)
	}

	matched := false
	switch r := resource.(type) {
	case *vars.Variable:
		a.sink.add(r, r.IsTrainable())
		matched = true
	case *xrt.Variable:
		if err := a.checkNative(r); err != nil {
			return err
		}
		a.sink.add(r.HostMirror(), r.IsTrainable())
		matched = true
	}
	if container, ok := resource.(vars.Container); ok {
		for _, v := range container.Variables() {
			a.sink.add(v, v.IsTrainable())
		}
		matched = true
	}
	if container, ok := resource.(xrt.Container); ok {
		for _, v := range container.NativeVariables() {
			if err := a.checkNative(v); err != nil {
				return err
			}
			a.sink.add(v.HostMirror(), v.IsTrainable())
		}
		matched = true
	}
	if asset, ok := resource.(assets.Asset); ok {
		if err := a.trackAsset(asset); err != nil {
			return err
		}
		matched = true
	}
	if composite, ok := resource.(HasDescendants); ok {
		for _, child := range composite.Descendants() {
			if err := a.Track(child); err != nil {
				return err
			}
		}
		matched = true
	}
	if !matched {
		return errors.Wrapf(ErrInvalidResource,
			"%T implements none of *vars.Variable, vars.Container, *xrt.Variable, xrt.Container, assets.Asset or export.HasDescendants",
			resource)
	}
	return nil
}

func (a *Archive) checkNative(v *xrt.Variable) error {
	if a.runtime == nil {
		return errors.Wrapf(ErrUnsupportedRuntime,
			"native variable %q given to a host archive, use NewCrossRuntimeArchive", v.Name())
	}
	if v.Runtime() != a.runtime {
		return errors.Wrapf(ErrUnsupportedRuntime,
			"native variable %q belongs to runtime %q, archive was created for %q",
			v.Name(), v.Runtime().Name(), a.runtime.Name())
	}
	return nil
}

func (a *Archive) trackAsset(asset assets.Asset) error {
	name := asset.AssetName()
	for _, existing := range a.assets {
		if existing.AssetName() != name {
			continue
		}
		if existing == asset {
			return nil
		}
		return errors.Errorf("two different assets tracked under the name %q", name)
	}
	a.assets = append(a.assets, asset)
	return nil
}

// Assets returns the tracked assets in tracking order.
func (a *Archive) Assets() []assets.Asset {
	return append([]assets.Asset(nil), a.assets...)
}

// Variables returns the variables collected so far, trainable first, each
// partition in first-encounter order. Track and AddEndpoint update the
// collection immediately, so the result reflects everything tracked up to the
// call.
func (a *Archive) Variables() []trace.Variable {
	return a.sink.all()
}

// TrainableVariables returns the trainable partition of the collected
// variables.
func (a *Archive) TrainableVariables() []trace.Variable {
	return append([]trace.Variable(nil), a.sink.trainable...)
}

// NonTrainableVariables returns the frozen partition of the collected
// variables.
func (a *Archive) NonTrainableVariables() []trace.Variable {
	return append([]trace.Variable(nil), a.sink.nonTrainable...)
}

// AddVariableCollection stores a named group of variables in the artifact, for
// consumers that need state by role (say an optimizer's slots) rather than by
// endpoint. The collection must be a slice or array of variables, possibly
// empty; its members are tracked as a side effect.
func (a *Archive) AddVariableCollection(name string, collection any) error {
	if name == "" {
		return errors.Wrap(ErrBadCollectionType, "collection name is empty")
	}
	if _, found := a.collections[name]; found {
		return errors.Errorf("variable collection %q already added", name)
	}
	value := reflect.ValueOf(collection)
	if !value.IsValid() || (value.Kind() != reflect.Slice && value.Kind() != reflect.Array) {
		return errors.Wrapf(ErrBadCollectionType, "got %T", collection)
	}
	members := make([]trace.Variable, value.Len())
	for ii := 0; ii < value.Len(); ii++ {
		element := value.Index(ii).Interface()
		switch v := element.(type) {
		case *vars.Variable:
			members[ii] = v
		case *xrt.Variable:
			if err := a.checkNative(v); err != nil {
				return err
			}
			members[ii] = v.HostMirror()
		default:
			return errors.Wrapf(ErrBadElementType, "collection %q element #%d is %T", name, ii, element)
		}
		a.sink.add(members[ii], members[ii].IsTrainable())
	}
	a.collections[name] = members
	return nil
}
