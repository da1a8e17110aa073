package network

import (
	"errors"
	"fmt"
	"log/slog"
)

// Reader loads handles from disk through a registry of generations.
type Reader struct {
	registry *Registry
}

// NewReader creates a reader. A nil registry means DefaultRegistry().
func NewReader(r *Registry) *Reader {
	if r == nil {
		r = DefaultRegistry()
	}
	return &Reader{registry: r}
}

// Registry returns the reader's generation table.
func (r *Reader) Registry() *Registry { return r.registry }

// Read loads the model at path. Every failure is a *FormatError carrying
// path; no partial handle is returned.
func (r *Reader) Read(path string) (*Handle, error) {
	gen := r.registry.Detect(path)
	return r.load(gen, path)
}

// ReadAs loads path with the named generation, skipping detection.
func (r *Reader) ReadAs(generation, path string) (*Handle, error) {
	gen, ok := r.registry.Lookup(generation)
	if !ok {
		return nil, &FormatError{Path: path, Err: fmt.Errorf("%w: %q", ErrUnknownGeneration, generation)}
	}
	return r.load(gen, path)
}

func (r *Reader) load(gen Generation, path string) (*Handle, error) {
	h, err := gen.Load(path)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &FormatError{Path: path, Err: err}
	}
	slog.Info("loaded network", "path", path, "generation", gen.Name,
		"inputs", h.inputs.Len(), "outputs", h.outputs.Len(), "layers", len(h.graph.Layers()))
	return h, nil
}

// Open reads path and wraps the handle in a Facade.
func (r *Reader) Open(path string, opts ...FacadeOption) (*Facade, error) {
	h, err := r.Read(path)
	if err != nil {
		return nil, err
	}
	return NewFacade(h, opts...)
}
