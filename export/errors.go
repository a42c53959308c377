package export

import "github.com/pkg/errors"

var (
	// ErrInvalidResource is returned by Track when the resource implements none
	// of the trackable capabilities, and by AddEndpoint when fn is not one of
	// the supported function kinds.
	ErrInvalidResource = errors.New("resource is not trackable")

	// ErrNotBuilt is returned by Track when the resource reports it was not
	// built yet, so its variables do not exist.
	ErrNotBuilt = errors.New("resource is not built")

	// ErrUnsupportedRuntime is returned when a native resource or function is
	// given to an archive created for a different runtime, or to a host
	// archive.
	ErrUnsupportedRuntime = errors.New("resource belongs to an unsupported runtime")

	// ErrDuplicateEndpointName is returned by AddEndpoint when the name was
	// already registered.
	ErrDuplicateEndpointName = errors.New("endpoint name already registered")

	// ErrUnspecializedFunction is returned by AddEndpoint when fn is a Function
	// with no traces yet and no signature was given to freeze one.
	ErrUnspecializedFunction = errors.New("function has no traces and no signature was given")

	// ErrMissingSignature is returned by AddEndpoint when fn needs a signature
	// to be traced and none was given.
	ErrMissingSignature = errors.New("endpoint requires an input signature")

	// ErrNoEndpoints is returned by Write on an archive with no endpoints.
	ErrNoEndpoints = errors.New("archive has no endpoints")

	// ErrBadCollectionType is returned by AddVariableCollection when the
	// collection is not a non-empty slice or array.
	ErrBadCollectionType = errors.New("variable collection must be a non-empty slice or array")

	// ErrBadElementType is returned by AddVariableCollection when an element of
	// the collection is not a variable.
	ErrBadElementType = errors.New("variable collection element is not a variable")

	// ErrEndpointNotFound is returned when reloading an artifact and the
	// requested endpoint matches neither an endpoint name nor a signature key.
	ErrEndpointNotFound = errors.New("endpoint not found in artifact")
)
