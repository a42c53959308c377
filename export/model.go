package export

import (
	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types/nest"
	"github.com/gomlx/exporter/types/shapes"
	"github.com/gomlx/exporter/vars"
)

// Model is the minimal surface ExportModel needs: a variable container that can
// describe its inference computation and the signature it accepts.
type Model interface {
	vars.Container

	// CallSignature returns the input signature of the model's inference call.
	// Batch axes are typically open (shapes.UnknownDim).
	CallSignature() *nest.Nest[shapes.Shape]

	// CallBuilder returns the builder of the model's inference computation.
	CallBuilder() trace.BuilderFn
}

// ExportModel is the one-call export path: it archives the model with a single
// "serve" endpoint over its call signature and writes the artifact to dir. Use
// an Archive directly for multiple endpoints, collections or assets.
func ExportModel(model Model, dir string) error {
	archive := NewArchive()
	if err := archive.Track(model); err != nil {
		return err
	}
	if _, err := archive.AddEndpoint(DefaultEndpointName, model.CallBuilder(), model.CallSignature()); err != nil {
		return err
	}
	return archive.Write(dir)
}
