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

// Package bundle reads and writes the on-disk artifact format: a directory with
// a JSON manifest, a raw weights file and an assets subdirectory.
//
//	<dir>/manifest.json    MANIFEST: format version, id, runtime, records.
//	<dir>/weights.bin      Variable values, concatenated raw tensor bytes.
//	<dir>/assets/<name>    One file per auxiliary asset.
//
// The manifest records each variable's position and length inside weights.bin
// and a SHA256 checksum of the whole file, which Read verifies. Writes go to a
// temporary sibling directory first and are renamed into place, so a crash
// never leaves a half-written artifact at the target path.
package bundle

import (
	"time"

	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types/shapes"
)

const (
	// ManifestName is the manifest file name inside an artifact directory.
	ManifestName = "manifest.json"
	// WeightsName is the weights file name inside an artifact directory.
	WeightsName = "weights.bin"
	// AssetsDir is the assets subdirectory name inside an artifact directory.
	AssetsDir = "assets"

	// FormatVersion is the manifest format this package writes and the only
	// one it reads.
	FormatVersion = 1
)

// VariableRecord describes one stored variable: the unique name its value is
// keyed on, its shape, the partition it was collected into, and its byte range
// inside the weights file.
type VariableRecord struct {
	Name      string       `json:"name"`
	Shape     shapes.Shape `json:"shape"`
	Trainable bool         `json:"trainable"`
	Pos       int64        `json:"pos"`
	Length    int64        `json:"length"`
}

// EndpointRecord describes one stored endpoint: its name, how it was serialized
// ("native" for host traces and runtime-converted traces on a matching host,
// "portable" for degraded cross-runtime exports) and its program.
type EndpointRecord struct {
	Name          string         `json:"name"`
	Serialization string         `json:"serialization"`
	Program       *trace.Program `json:"program"`
}

// AssetRecord describes one stored asset and the file holding its contents,
// relative to the assets subdirectory.
type AssetRecord struct {
	Name string `json:"name"`
	Type string `json:"type"`
	File string `json:"file"`
}

// Manifest is the JSON document at the root of every artifact.
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`

	// Runtime and Accelerator record where the exported state came from.
	Runtime     string `json:"runtime"`
	Accelerator string `json:"accelerator,omitempty"`

	// Checksum is the hex SHA256 of the weights file.
	Checksum string `json:"checksum"`

	Variables []VariableRecord `json:"variables"`
	Endpoints []EndpointRecord `json:"endpoints"`

	// Signatures maps signature keys to endpoint names. Loaders resolve an
	// endpoint first by name, then through this map.
	Signatures map[string]string `json:"signatures,omitempty"`

	// Collections maps collection names to indices into Variables.
	Collections map[string][]int `json:"collections,omitempty"`

	Assets []AssetRecord `json:"assets,omitempty"`
}
