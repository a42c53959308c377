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
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exporter/bundle"
	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RuntimeHost is the manifest runtime value of artifacts written by host
// archives.
const RuntimeHost = "host"

// WriteOptions adjusts Write behavior.
type WriteOptions struct {
	// SummaryTo receives the human-readable artifact summary. When nil the
	// summary goes to the verbose log instead.
	SummaryTo io.Writer
}

// Write stores the archive as an artifact directory at dir. It fails with
// ErrNoEndpoints if no endpoint was added: an artifact with state but nothing
// callable cannot serve.
func (a *Archive) Write(dir string) error {
	_, err := a.WriteWithOptions(dir, WriteOptions{})
	return err
}

// WriteWithOptions is Write with options, returning the manifest as written.
func (a *Archive) WriteWithOptions(dir string, opts WriteOptions) (*bundle.Manifest, error) {
	if len(a.endpoints) == 0 {
		return nil, errors.Wrapf(ErrNoEndpoints, "writing artifact to %q", dir)
	}

	variables := a.sink.all()
	records := make([]bundle.VariableRecord, len(variables))
	values := make([]*tensors.Tensor, len(variables))
	nameOfHandle := make(map[uint64]string, len(variables))
	indexOfHandle := make(map[uint64]int, len(variables))
	taken := make(map[string]bool, len(variables))
	for ii, v := range variables {
		name := v.ParameterName()
		if taken[name] {
			// Names are labels and may collide; storage keys may not.
			for jj := 2; ; jj++ {
				candidate := fmt.Sprintf("%s#%d", v.ParameterName(), jj)
				if !taken[candidate] {
					name = candidate
					break
				}
			}
		}
		taken[name] = true
		nameOfHandle[v.Handle()] = name
		indexOfHandle[v.Handle()] = ii
		records[ii] = bundle.VariableRecord{
			Name:      name,
			Shape:     v.Shape(),
			Trainable: ii < len(a.sink.trainable),
		}
		values[ii] = v.Value()
	}

	endpointRecords := make([]bundle.EndpointRecord, len(a.endpoints))
	signatures := make(map[string]string, len(a.endpoints)+1)
	for ii, endpoint := range a.endpoints {
		endpointRecords[ii] = bundle.EndpointRecord{
			Name:          endpoint.name,
			Serialization: endpoint.serialization,
			Program: endpoint.concrete.ProgramWithNames(func(v trace.Variable) string {
				if name, found := nameOfHandle[v.Handle()]; found {
					return name
				}
				return v.ParameterName()
			}),
		}
		signatures[endpoint.name] = endpoint.name
	}
	if _, found := signatures[ServingDefault]; !found {
		signatures[ServingDefault] = a.endpoints[0].name
	}

	var collections map[string][]int
	if len(a.collections) > 0 {
		collections = make(map[string][]int, len(a.collections))
		for name, members := range a.collections {
			indices := make([]int, len(members))
			for ii, member := range members {
				indices[ii] = indexOfHandle[member.Handle()]
			}
			collections[name] = indices
		}
	}

	runtime, accelerator := RuntimeHost, ""
	if a.runtime != nil {
		runtime = a.runtime.Name()
		accelerator = a.runtime.Accelerator()
	}

	manifest, err := bundle.Write(dir, &bundle.Artifact{
		Runtime:     runtime,
		Accelerator: accelerator,
		Variables:   records,
		Values:      values,
		Endpoints:   endpointRecords,
		Signatures:  signatures,
		Collections: collections,
		Assets:      a.assets,
	})
	if err != nil {
		return nil, err
	}

	summary := a.summary(dir, manifest)
	if opts.SummaryTo != nil {
		if _, err := io.WriteString(opts.SummaryTo, summary); err != nil {
			return nil, errors.Wrap(err, "writing artifact summary")
		}
	} else if klog.V(1).Enabled() {
		klog.Infof("%s", summary)
	}
	return manifest, nil
}

func (a *Archive) summary(dir string, manifest *bundle.Manifest) string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Saved artifact at %q (runtime %s", dir, manifest.Runtime)
	if manifest.Accelerator != "" {
		_, _ = fmt.Fprintf(&sb, ", accelerator %s", manifest.Accelerator)
	}
	var weightBytes int64
	for _, record := range manifest.Variables {
		weightBytes += record.Length
	}
	_, _ = fmt.Fprintf(&sb, ")\n%d variables (%d trainable), %s of weights\n",
		len(manifest.Variables), len(a.sink.trainable), humanize.Bytes(uint64(weightBytes)))
	for _, endpoint := range a.endpoints {
		_, _ = fmt.Fprintf(&sb, "* Endpoint %q [%s]\n    inputs:  %s\n    outputs: %s\n",
			endpoint.name, endpoint.serialization,
			endpoint.concrete.InputSpec(), endpoint.concrete.OutputSpec())
	}
	if len(manifest.Signatures) > 0 {
		keys := make([]string, 0, len(manifest.Signatures))
		for key := range manifest.Signatures {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			_, _ = fmt.Fprintf(&sb, "* Signature %q -> endpoint %q\n", key, manifest.Signatures[key])
		}
	}
	for _, asset := range manifest.Assets {
		_, _ = fmt.Fprintf(&sb, "* Asset %q (%s)\n", asset.Name, asset.Type)
	}
	return sb.String()
}
