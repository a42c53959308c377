// Package assets defines the auxiliary, non-tensor resources an artifact can
// carry next to its programs and weights: vocabularies and similar lookup
// tables that endpoints depend on at inference time.
//
// Each asset serializes itself to bytes and registers an unmarshal function per
// asset type, so loaders rebuild assets without knowing concrete types.
package assets

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Asset is a named, serializable resource stored alongside an artifact's
// weights.
type Asset interface {
	// AssetName names the asset inside the artifact. Names must be unique per
	// artifact and are used as file names.
	AssetName() string
	// AssetType identifies the asset's concrete type for unmarshaling.
	AssetType() string
	// MarshalAsset serializes the asset's contents.
	MarshalAsset() ([]byte, error)
}

// UnmarshalFn rebuilds an asset of one type from its serialized contents.
type UnmarshalFn func(name string, data []byte) (Asset, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]UnmarshalFn)
)

// Register installs the unmarshal function for an asset type. It panics if the
// type was already registered, which would indicate two packages claiming the
// same type name.
func Register(assetType string, fn UnmarshalFn) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[assetType]; found {
		panic(errors.Errorf("assets.Register: type %q registered twice", assetType))
	}
	registry[assetType] = fn
}

// Unmarshal rebuilds an asset from its type, name and serialized contents.
func Unmarshal(assetType, name string, data []byte) (Asset, error) {
	registryMu.Lock()
	fn, found := registry[assetType]
	registryMu.Unlock()
	if !found {
		return nil, errors.Errorf("no asset type %q registered", assetType)
	}
	return fn(name, data)
}

// NotFound is the index lookups return for keys absent from the vocabulary.
const NotFound int64 = -1

// StringLookup maps strings to their index in a fixed vocabulary. Keys not in
// the vocabulary map to NotFound.
type StringLookup struct {
	name       string
	vocabulary []string
	index      map[string]int64
}

const stringLookupType = "string_lookup"

// NewStringLookup builds a lookup over the vocabulary. Indices follow the
// vocabulary order; duplicate entries keep their first index.
func NewStringLookup(name string, vocabulary []string) *StringLookup {
	l := &StringLookup{
		name:       name,
		vocabulary: append([]string(nil), vocabulary...),
		index:      make(map[string]int64, len(vocabulary)),
	}
	for ii, key := range l.vocabulary {
		if _, found := l.index[key]; !found {
			l.index[key] = int64(ii)
		}
	}
	return l
}

// AssetName implements Asset.
func (l *StringLookup) AssetName() string { return l.name }

// AssetType implements Asset.
func (l *StringLookup) AssetType() string { return stringLookupType }

// MarshalAsset implements Asset.
func (l *StringLookup) MarshalAsset() ([]byte, error) {
	data, err := json.Marshal(l.vocabulary)
	return data, errors.Wrapf(err, "marshaling vocabulary of %q", l.name)
}

// Vocabulary returns the lookup's vocabulary in index order.
func (l *StringLookup) Vocabulary() []string {
	return append([]string(nil), l.vocabulary...)
}

// Lookup returns the index of key, or NotFound if it is not in the vocabulary.
func (l *StringLookup) Lookup(key string) int64 {
	if idx, found := l.index[key]; found {
		return idx
	}
	return NotFound
}

// IntegerLookup maps int64 keys to their index in a fixed vocabulary. Keys not
// in the vocabulary map to NotFound.
type IntegerLookup struct {
	name       string
	vocabulary []int64
	index      map[int64]int64
}

const integerLookupType = "integer_lookup"

// NewIntegerLookup builds a lookup over the vocabulary. Indices follow the
// vocabulary order; duplicate entries keep their first index.
func NewIntegerLookup(name string, vocabulary []int64) *IntegerLookup {
	l := &IntegerLookup{
		name:       name,
		vocabulary: append([]int64(nil), vocabulary...),
		index:      make(map[int64]int64, len(vocabulary)),
	}
	for ii, key := range l.vocabulary {
		if _, found := l.index[key]; !found {
			l.index[key] = int64(ii)
		}
	}
	return l
}

// AssetName implements Asset.
func (l *IntegerLookup) AssetName() string { return l.name }

// AssetType implements Asset.
func (l *IntegerLookup) AssetType() string { return integerLookupType }

// MarshalAsset implements Asset.
func (l *IntegerLookup) MarshalAsset() ([]byte, error) {
	data, err := json.Marshal(l.vocabulary)
	return data, errors.Wrapf(err, "marshaling vocabulary of %q", l.name)
}

// Vocabulary returns the lookup's vocabulary in index order.
func (l *IntegerLookup) Vocabulary() []int64 {
	return append([]int64(nil), l.vocabulary...)
}

// Lookup returns the index of key, or NotFound if it is not in the vocabulary.
func (l *IntegerLookup) Lookup(key int64) int64 {
	if idx, found := l.index[key]; found {
		return idx
	}
	return NotFound
}

func init() {
	Register(stringLookupType, func(name string, data []byte) (Asset, error) {
		var vocabulary []string
		if err := json.Unmarshal(data, &vocabulary); err != nil {
			return nil, errors.Wrapf(err, "unmarshaling vocabulary of %q", name)
		}
		return NewStringLookup(name, vocabulary), nil
	})
	Register(integerLookupType, func(name string, data []byte) (Asset, error) {
		var vocabulary []int64
		if err := json.Unmarshal(data, &vocabulary); err != nil {
			return nil, errors.Wrapf(err, "unmarshaling vocabulary of %q", name)
		}
		return NewIntegerLookup(name, vocabulary), nil
	})
}
