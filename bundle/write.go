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
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/exporter/assets"
	"github.com/gomlx/exporter/types/tensors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Artifact is the input to Write: the manifest contents a writer decides, plus
// the live values and assets to store. Write fills in the fields it owns, the
// byte ranges, checksum, id and timestamps.
type Artifact struct {
	Runtime     string
	Accelerator string

	// Variables and Values are parallel: Values[i] is stored under
	// Variables[i].Name. Pos and Length are computed by Write.
	Variables []VariableRecord
	Values    []*tensors.Tensor

	Endpoints   []EndpointRecord
	Signatures  map[string]string
	Collections map[string][]int

	Assets []assets.Asset
}

// Write stores the artifact under dir, which must not exist yet. The artifact
// is assembled in a temporary sibling directory and renamed into place, so on
// error nothing appears at dir. It returns the manifest as written.
func Write(dir string, artifact *Artifact) (*Manifest, error) {
	if len(artifact.Variables) != len(artifact.Values) {
		return nil, errors.Errorf("artifact has %d variable records but %d values",
			len(artifact.Variables), len(artifact.Values))
	}
	names := make(map[string]bool, len(artifact.Variables))
	for ii, record := range artifact.Variables {
		if record.Name == "" {
			return nil, errors.Errorf("variable record #%d has an empty name", ii)
		}
		if names[record.Name] {
			return nil, errors.Errorf("duplicate variable record name %q", record.Name)
		}
		names[record.Name] = true
		value := artifact.Values[ii]
		value.AssertValid()
		if !record.Shape.Equal(value.Shape()) {
			return nil, errors.Errorf("variable %q records shape %s but its value has shape %s",
				record.Name, record.Shape, value.Shape())
		}
	}
	for name, indices := range artifact.Collections {
		for _, idx := range indices {
			if idx < 0 || idx >= len(artifact.Variables) {
				return nil, errors.Errorf("collection %q references variable #%d, artifact has %d",
					name, idx, len(artifact.Variables))
			}
		}
	}

	if _, err := os.Stat(dir); err == nil {
		return nil, errors.Wrapf(ErrAlreadyExists, "writing artifact to %q", dir)
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking artifact directory %q", dir)
	}
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating parent directory %q", parent)
	}
	tmpDir, err := os.MkdirTemp(parent, ".artifact-*")
	if err != nil {
		return nil, errors.Wrapf(err, "creating staging directory in %q", parent)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	manifest := &Manifest{
		FormatVersion: FormatVersion,
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Runtime:       artifact.Runtime,
		Accelerator:   artifact.Accelerator,
		Variables:     append([]VariableRecord(nil), artifact.Variables...),
		Endpoints:     artifact.Endpoints,
		Signatures:    artifact.Signatures,
		Collections:   artifact.Collections,
	}

	if err := writeWeights(filepath.Join(tmpDir, WeightsName), manifest, artifact.Values); err != nil {
		return nil, err
	}
	if err := writeAssets(tmpDir, manifest, artifact.Assets); err != nil {
		return nil, err
	}

	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding manifest")
	}
	manifestPath := filepath.Join(tmpDir, ManifestName)
	if err := os.WriteFile(manifestPath, encoded, 0644); err != nil {
		return nil, errors.Wrapf(err, "writing %q", manifestPath)
	}

	if err := os.Rename(tmpDir, dir); err != nil {
		return nil, errors.Wrapf(err, "moving artifact into place at %q", dir)
	}
	return manifest, nil
}

func writeWeights(path string, manifest *Manifest, values []*tensors.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	hasher := sha256.New()
	w := io.MultiWriter(f, hasher)
	var pos int64
	for ii, value := range values {
		raw := value.Bytes()
		n, err := w.Write(raw)
		if err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "writing variable %q to %q", manifest.Variables[ii].Name, path)
		}
		manifest.Variables[ii].Pos = pos
		manifest.Variables[ii].Length = int64(n)
		pos += int64(n)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %q", path)
	}
	manifest.Checksum = hex.EncodeToString(hasher.Sum(nil))
	return nil
}

func writeAssets(tmpDir string, manifest *Manifest, assetList []assets.Asset) error {
	if len(assetList) == 0 {
		return nil
	}
	assetsPath := filepath.Join(tmpDir, AssetsDir)
	if err := os.Mkdir(assetsPath, 0755); err != nil {
		return errors.Wrapf(err, "creating %q", assetsPath)
	}
	seen := make(map[string]bool, len(assetList))
	for _, asset := range assetList {
		name := asset.AssetName()
		if name == "" || strings.ContainsAny(name, "/\\") {
			return errors.Errorf("asset name %q is empty or contains path separators", name)
		}
		if seen[name] {
			return errors.Errorf("duplicate asset name %q", name)
		}
		seen[name] = true
		data, err := asset.MarshalAsset()
		if err != nil {
			return errors.WithMessagef(err, "serializing asset %q", name)
		}
		if err := os.WriteFile(filepath.Join(assetsPath, name), data, 0644); err != nil {
			return errors.Wrapf(err, "writing asset %q", name)
		}
		manifest.Assets = append(manifest.Assets, AssetRecord{
			Name: name,
			Type: asset.AssetType(),
			File: name,
		})
	}
	return nil
}
