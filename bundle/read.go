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

package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gomlx/exporter/assets"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/pkg/errors"
)

// Bundle is a read artifact: its manifest plus the weights bytes, already
// verified against the manifest checksum.
type Bundle struct {
	Dir      string
	Manifest Manifest

	weights []byte
}

// Read opens the artifact at dir, parses its manifest and verifies the weights
// file against the recorded checksum. It fails with ErrChecksumMismatch on
// corruption, ErrUnsupportedVersion on unknown formats and ErrInvalidManifest
// on inconsistent manifests.
func Read(dir string) (*Bundle, error) {
	manifestPath := filepath.Join(dir, ManifestName)
	encoded, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", manifestPath)
	}
	b := &Bundle{Dir: dir}
	if err := json.Unmarshal(encoded, &b.Manifest); err != nil {
		return nil, errors.Wrapf(ErrInvalidManifest, "parsing %q: %v", manifestPath, err)
	}
	if b.Manifest.FormatVersion != FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "artifact %q has format version %d, this build reads %d",
			dir, b.Manifest.FormatVersion, FormatVersion)
	}

	weightsPath := filepath.Join(dir, WeightsName)
	b.weights, err = os.ReadFile(weightsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", weightsPath)
	}
	sum := sha256.Sum256(b.weights)
	if got := hex.EncodeToString(sum[:]); got != b.Manifest.Checksum {
		return nil, errors.Wrapf(ErrChecksumMismatch, "artifact %q: weights hash to %s, manifest records %s",
			dir, got, b.Manifest.Checksum)
	}

	for ii, record := range b.Manifest.Variables {
		if record.Pos < 0 || record.Length < 0 || record.Pos+record.Length > int64(len(b.weights)) {
			return nil, errors.Wrapf(ErrInvalidManifest,
				"artifact %q: variable #%d (%q) range [%d, %d) outside the %d weight bytes",
				dir, ii, record.Name, record.Pos, record.Pos+record.Length, len(b.weights))
		}
	}
	return b, nil
}

// WeightsSize returns the size in bytes of the verified weights file.
func (b *Bundle) WeightsSize() int64 { return int64(len(b.weights)) }

// VariableValue decodes the stored value of variable record index.
func (b *Bundle) VariableValue(index int) (*tensors.Tensor, error) {
	if index < 0 || index >= len(b.Manifest.Variables) {
		return nil, errors.Errorf("variable index %d out of range, artifact has %d", index, len(b.Manifest.Variables))
	}
	record := b.Manifest.Variables[index]
	raw := b.weights[record.Pos : record.Pos+record.Length]
	value, err := tensors.FromBytes(record.Shape, raw)
	if err != nil {
		return nil, errors.WithMessagef(err, "decoding variable %q", record.Name)
	}
	return value, nil
}

// Asset loads and rebuilds the asset of record index.
func (b *Bundle) Asset(index int) (assets.Asset, error) {
	if index < 0 || index >= len(b.Manifest.Assets) {
		return nil, errors.Errorf("asset index %d out of range, artifact has %d", index, len(b.Manifest.Assets))
	}
	record := b.Manifest.Assets[index]
	path := filepath.Join(b.Dir, AssetsDir, record.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading asset %q", path)
	}
	asset, err := assets.Unmarshal(record.Type, record.Name, data)
	if err != nil {
		return nil, errors.WithMessagef(err, "rebuilding asset %q", record.Name)
	}
	return asset, nil
}
