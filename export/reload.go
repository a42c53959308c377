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
	"slices"
	"strings"

	"github.com/gomlx/exporter/assets"
	"github.com/gomlx/exporter/bundle"
	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/gomlx/exporter/vars"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// Loaded is an artifact read back into memory: fresh variables holding the
// stored weights, executable endpoint traces rebound to them, and the assets.
type Loaded struct {
	bundle    *bundle.Bundle
	variables []*vars.Variable
	endpoints map[string]*trace.Concrete
	assets    []assets.Asset
}

// Load reads the artifact at dir and rebuilds its state and endpoints. The
// returned variables are new: mutating them affects the Loaded endpoints but
// never the artifact on disk.
func Load(dir string) (*Loaded, error) {
	b, err := bundle.Read(dir)
	if err != nil {
		return nil, err
	}
	loaded := &Loaded{
		bundle:    b,
		variables: make([]*vars.Variable, len(b.Manifest.Variables)),
		endpoints: make(map[string]*trace.Concrete, len(b.Manifest.Endpoints)),
	}

	byName := make(map[string]*vars.Variable, len(b.Manifest.Variables))
	for ii, record := range b.Manifest.Variables {
		value, err := b.VariableValue(ii)
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(record.Name, vars.VariableParameterPrefix)
		loaded.variables[ii] = vars.New(name, value).SetTrainable(record.Trainable)
		byName[record.Name] = loaded.variables[ii]
	}

	for _, record := range b.Manifest.Endpoints {
		concrete, err := trace.NewConcreteFromProgram(record.Program,
			func(_ int, pv trace.ProgramVariable) (trace.Variable, error) {
				v, found := byName[pv.Name]
				if !found {
					return nil, errors.Errorf("artifact stores no variable named %q", pv.Name)
				}
				return v, nil
			})
		if err != nil {
			return nil, errors.WithMessagef(err, "rebuilding endpoint %q of artifact %q", record.Name, dir)
		}
		loaded.endpoints[record.Name] = concrete
	}

	loaded.assets = make([]assets.Asset, len(b.Manifest.Assets))
	for ii := range b.Manifest.Assets {
		loaded.assets[ii], err = b.Asset(ii)
		if err != nil {
			return nil, err
		}
	}
	return loaded, nil
}

// Manifest returns the artifact's manifest.
func (l *Loaded) Manifest() *bundle.Manifest { return &l.bundle.Manifest }

// Variables returns the rebuilt variables in storage order, so Loaded is itself
// a vars.Container.
func (l *Loaded) Variables() []*vars.Variable {
	return append([]*vars.Variable(nil), l.variables...)
}

// Collection returns the rebuilt variables of a named collection.
func (l *Loaded) Collection(name string) ([]*vars.Variable, bool) {
	indices, found := l.bundle.Manifest.Collections[name]
	if !found {
		return nil, false
	}
	members := make([]*vars.Variable, len(indices))
	for ii, idx := range indices {
		members[ii] = l.variables[idx]
	}
	return members, true
}

// Assets returns the rebuilt assets in storage order.
func (l *Loaded) Assets() []assets.Asset {
	return append([]assets.Asset(nil), l.assets...)
}

// Asset returns the rebuilt asset with the given name.
func (l *Loaded) Asset(name string) (assets.Asset, bool) {
	for _, asset := range l.assets {
		if asset.AssetName() == name {
			return asset, true
		}
	}
	return nil, false
}

// Endpoint resolves name to an executable trace: first against the endpoint
// names, then against the signature keys of the manifest. Unknown names fail
// with ErrEndpointNotFound, listing what the artifact offers.
func (l *Loaded) Endpoint(name string) (*trace.Concrete, error) {
	if concrete, found := l.endpoints[name]; found {
		return concrete, nil
	}
	if target, found := l.bundle.Manifest.Signatures[name]; found {
		if concrete, ok := l.endpoints[target]; ok {
			return concrete, nil
		}
	}
	return nil, errors.Wrapf(ErrEndpointNotFound, "%q, artifact offers endpoints [%s] and signatures [%s]",
		name, strings.Join(l.EndpointNames(), ", "), strings.Join(l.signatureKeys(), ", "))
}

// EndpointNames returns the artifact's endpoint names, sorted.
func (l *Loaded) EndpointNames() []string {
	names := make([]string, 0, len(l.endpoints))
	for name := range l.endpoints {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (l *Loaded) signatureKeys() []string {
	keys := make([]string, 0, len(l.bundle.Manifest.Signatures))
	for key := range l.bundle.Manifest.Signatures {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// ReloadConfig configures reloading an artifact as a callable layer. Change
// the defaults with the chain methods, then call Done.
type ReloadConfig struct {
	dir              string
	callEndpoint     string
	trainingEndpoint string
}

// Reload starts reloading the artifact at dir as a callable layer. By default
// the layer calls the endpoint named "serve" and has no separate training
// behavior; artifacts whose endpoints use other names need CallEndpoint.
func Reload(dir string) *ReloadConfig {
	return &ReloadConfig{dir: dir, callEndpoint: DefaultEndpointName}
}

// CallEndpoint selects the endpoint (or signature key) the layer calls for
// inference.
func (c *ReloadConfig) CallEndpoint(name string) *ReloadConfig {
	c.callEndpoint = name
	return c
}

// TrainingEndpoint selects the endpoint (or signature key) the layer calls
// when invoked with training=true.
func (c *ReloadConfig) TrainingEndpoint(name string) *ReloadConfig {
	c.trainingEndpoint = name
	return c
}

// Done loads the artifact and builds the layer.
func (c *ReloadConfig) Done() (*ReloadedLayer, error) {
	loaded, err := Load(c.dir)
	if err != nil {
		return nil, err
	}
	layer := &ReloadedLayer{loaded: loaded, config: *c, variables: vars.NewSet()}
	layer.call, err = loaded.Endpoint(c.callEndpoint)
	if err != nil {
		return nil, errors.WithMessagef(err, "reloading %q", c.dir)
	}
	layer.trackUses(layer.call)
	if c.trainingEndpoint != "" {
		layer.training, err = loaded.Endpoint(c.trainingEndpoint)
		if err != nil {
			return nil, errors.WithMessagef(err, "reloading %q", c.dir)
		}
		layer.trackUses(layer.training)
	}
	return layer, nil
}

// MustDone is Done, panicking on error.
func (c *ReloadConfig) MustDone() *ReloadedLayer {
	return must.M1(c.Done())
}

// ReloadedLayer is an artifact reloaded as a callable inference layer. It owns
// the variables its selected endpoints read, trainable first, so it plugs in
// wherever a vars.Container is expected.
type ReloadedLayer struct {
	loaded    *Loaded
	config    ReloadConfig
	call      *trace.Concrete
	training  *trace.Concrete
	variables *vars.VariableSet
}

// trackUses adopts the variables a trace reads, keeping the trace's recorded
// partition and first-seen order.
func (l *ReloadedLayer) trackUses(concrete *trace.Concrete) {
	for _, use := range concrete.VariableUses() {
		if v, ok := use.Variable.(*vars.Variable); ok {
			l.variables.AddAs(v, use.Trainable)
		}
	}
}

// Call executes the layer. With training=true the training endpoint runs if one
// was selected, otherwise the call endpoint serves both modes. Inputs follow
// the endpoint signature's flattening order; shape mismatches panic.
func (l *ReloadedLayer) Call(inputs []*tensors.Tensor, training bool) []*tensors.Tensor {
	if training && l.training != nil {
		return l.training.Execute(inputs...)
	}
	return l.call.Execute(inputs...)
}

// Variables returns the variables the layer's endpoints read, trainable first.
func (l *ReloadedLayer) Variables() []*vars.Variable { return l.variables.Variables() }

// TrainableVariables returns the trainable partition of the layer's variables.
func (l *ReloadedLayer) TrainableVariables() []*vars.Variable { return l.variables.Trainable() }

// NonTrainableVariables returns the frozen partition of the layer's variables.
func (l *ReloadedLayer) NonTrainableVariables() []*vars.Variable { return l.variables.NonTrainable() }

// IsBuilt reports true: a reloaded layer always carries its variables, so it
// can be tracked into a new Archive as-is.
func (l *ReloadedLayer) IsBuilt() bool { return true }

// Loaded returns the underlying loaded artifact.
func (l *ReloadedLayer) Loaded() *Loaded { return l.loaded }

// Config returns the arguments needed to rebuild the layer, in the spirit of
// layer configs: the artifact path and the selected endpoints.
func (l *ReloadedLayer) Config() map[string]any {
	config := map[string]any{
		"artifact":      l.config.dir,
		"call_endpoint": l.config.callEndpoint,
	}
	if l.config.trainingEndpoint != "" {
		config["training_endpoint"] = l.config.trainingEndpoint
	}
	return config
}
