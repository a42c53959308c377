package bundle

import "github.com/pkg/errors"

var (
	// ErrAlreadyExists is returned by Write when the target directory exists.
	// Artifacts are immutable once written; pick a fresh directory instead.
	ErrAlreadyExists = errors.New("artifact directory already exists")

	// ErrChecksumMismatch is returned by Read when the weights file does not
	// match the checksum recorded in the manifest.
	ErrChecksumMismatch = errors.New("weights checksum mismatch")

	// ErrInvalidManifest is returned by Read when the manifest is missing,
	// unparseable or internally inconsistent.
	ErrInvalidManifest = errors.New("invalid artifact manifest")

	// ErrUnsupportedVersion is returned by Read when the manifest declares a
	// format version this package does not know.
	ErrUnsupportedVersion = errors.New("unsupported artifact format version")
)
