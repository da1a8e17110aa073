package graph

import (
	"fmt"
	"sort"

	"github.com/pdevine/tensor"
)

// Op is the computation behind a layer.
type Op interface {
	// Kind is the registry name used to rebuild the op.
	Kind() string
	// Attrs returns the op configuration. Values must survive a JSON round trip.
	Attrs() Attrs
	// Weights returns the op's variables.
	Weights() []Weight
	// Infer computes output types from input types.
	Infer(in []TensorType) ([]TensorType, error)
	// Forward computes output arrays. Inputs must not be modified.
	Forward(in []*tensor.Dense) ([]*tensor.Dense, error)
}

// Weight is a named variable of an op.
type Weight struct {
	Name  string
	Value *tensor.Dense
}

// Attrs is an op configuration. Getters accept the forms JSON decoding
// produces (float64 numbers, []any lists).
type Attrs map[string]any

// Int returns an integer attribute or def.
func (a Attrs) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Ints returns an integer list attribute.
func (a Attrs) Ints(key string) ([]int, bool) {
	switch v := a[key].(type) {
	case []int:
		return v, true
	case []int64:
		out := make([]int, len(v))
		for i, x := range v {
			out[i] = int(x)
		}
		return out, true
	case []any:
		out := make([]int, len(v))
		for i, x := range v {
			f, ok := x.(float64)
			if !ok {
				return nil, false
			}
			out[i] = int(f)
		}
		return out, true
	}
	return nil, false
}

// String returns a string attribute or def.
func (a Attrs) String(key, def string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return def
}

// Bool returns a boolean attribute or def.
func (a Attrs) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

// Builder rebuilds an op from its attributes and weights.
type Builder func(attrs Attrs, weights map[string]*tensor.Dense) (Op, error)

// Registry maps layer kinds to builders.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry creates a registry holding every builtin kind.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.builders[KindInput] = buildInputLayer
	r.builders[KindDense] = buildDense
	r.builders[KindBiasAdd] = buildBiasAdd
	r.builders[KindActivation] = buildActivation
	r.builders[KindAdd] = buildAdd
	r.builders[KindConcatenate] = buildConcatenate
	r.builders[KindFlatten] = buildFlatten
	r.builders[KindReshape] = buildReshape
	r.builders[KindGlobalAveragePooling] = buildGlobalAveragePooling
	r.builders[KindCast] = buildCast
	r.builders[KindIdentity] = buildIdentity
	r.builders[KindSplit] = buildSplit
	return r
}

// Register adds a builder for a custom kind.
func (r *Registry) Register(kind string, b Builder) error {
	if _, dup := r.builders[kind]; dup {
		return fmt.Errorf("layer kind %q already registered", kind)
	}
	r.builders[kind] = b
	return nil
}

// Build creates an op of the given kind.
func (r *Registry) Build(kind string, attrs Attrs, weights map[string]*tensor.Dense) (Op, error) {
	b, ok := r.builders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if attrs == nil {
		attrs = Attrs{}
	}
	return b(attrs, weights)
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
