package network

import (
	"errors"
	"fmt"

	"github.com/born-ml/dlnet/internal/graph"
	"github.com/born-ml/dlnet/internal/onnx"
	"github.com/born-ml/dlnet/internal/savedmodel"
)

// Builtin generation names.
const (
	GenerationLayers = "layers"
	GenerationONNX   = "onnx"
)

// Generation is one way of turning a path into a Handle.
type Generation struct {
	Name string
	// Detect reports whether the generation recognizes path. It must not
	// fail; unreadable paths are simply not recognized.
	Detect func(path string) bool
	// Load builds a handle from path.
	Load func(path string) (*Handle, error)
}

// Registry is a table of generations, consulted in registration order.
// The first generation is the fallback for paths no generation detects.
type Registry struct {
	gens   []Generation
	byName map[string]int
}

// NewRegistry builds a registry from gens. Names must be unique and every
// generation needs Detect and Load.
func NewRegistry(gens ...Generation) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(gens))}
	for _, g := range gens {
		if g.Name == "" || g.Detect == nil || g.Load == nil {
			return nil, fmt.Errorf("generation %q: name, Detect and Load are required", g.Name)
		}
		if _, dup := r.byName[g.Name]; dup {
			return nil, fmt.Errorf("generation %q registered twice", g.Name)
		}
		r.byName[g.Name] = len(r.gens)
		r.gens = append(r.gens, g)
	}
	if len(r.gens) == 0 {
		return nil, errors.New("registry needs at least one generation")
	}
	return r, nil
}

// DefaultRegistry returns a fresh registry holding the native layers
// generation, which is the fallback, and the ONNX generation.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(LayersGeneration(graph.NewRegistry()), ONNXGeneration())
	if err != nil {
		panic(err)
	}
	return r
}

// LayersGeneration loads native exports, resolving layer kinds through
// kinds.
func LayersGeneration(kinds *graph.Registry) Generation {
	return Generation{
		Name: GenerationLayers,
		Detect: func(path string) bool {
			format, err := savedmodel.ReadFormat(path)
			return err == nil && format == savedmodel.Format
		},
		Load: func(path string) (*Handle, error) {
			return loadLayers(path, kinds)
		},
	}
}

// ONNXGeneration imports .onnx models.
func ONNXGeneration() Generation {
	return Generation{
		Name:   GenerationONNX,
		Detect: onnx.Detect,
		Load:   loadONNX,
	}
}

func loadONNX(path string) (*Handle, error) {
	m, err := onnx.Load(path)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithGeneration(GenerationONNX)}
	if len(m.Tags) > 0 {
		opts = append(opts, WithTags(m.Tags...))
	}
	if m.MethodName != "" {
		opts = append(opts, WithMethodName(m.MethodName))
	}
	return NewHandle(m.Inputs, m.Outputs, m.Graph, opts...)
}

// Names returns the generation names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.gens))
	for i, g := range r.gens {
		names[i] = g.Name
	}
	return names
}

// Lookup returns the generation called name.
func (r *Registry) Lookup(name string) (Generation, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Generation{}, false
	}
	return r.gens[i], true
}

// Detect returns the first generation recognizing path, or the fallback.
func (r *Registry) Detect(path string) Generation {
	for _, g := range r.gens {
		if g.Detect(path) {
			return g
		}
	}
	return r.gens[0]
}
