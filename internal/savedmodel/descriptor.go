package savedmodel

import (
	"fmt"

	"github.com/born-ml/dlnet/internal/netspec"
	"github.com/born-ml/dlnet/internal/orderedmap"
)

// Layout constants.
const (
	DescriptorFile = "saved_model.json"
	VariablesDir   = "variables"
	VariablesFile  = "variables.safetensors"
)

// Format identification.
const (
	Format        = "dlnet.layers"
	FormatVersion = 1
)

// Descriptor is the contents of saved_model.json.
type Descriptor struct {
	Format          string      `json:"format"`
	FormatVersion   int         `json:"format_version"`
	Producer        string      `json:"producer,omitempty"`
	MetaGraphs      []MetaGraph `json:"meta_graphs"`
	VariablesSHA256 string      `json:"variables_sha256,omitempty"`
}

// MetaGraph is one tagged graph with its signatures.
type MetaGraph struct {
	Tags           []string                              `json:"tags"`
	Graph          GraphDef                              `json:"graph"`
	SignatureDefs  *orderedmap.Map[string, SignatureDef] `json:"signature_defs"`
	TrainingConfig *netspec.TrainingConfig               `json:"training_config,omitempty"`
}

// GraphDef lists layers in insertion order. A node may reference tensors
// of layers listed after it when a layer is shared.
type GraphDef struct {
	Name   string     `json:"name"`
	Layers []LayerDef `json:"layers"`
}

// LayerDef is one layer and its node instances.
type LayerDef struct {
	Name  string         `json:"name"`
	Kind  string         `json:"kind"`
	Attrs map[string]any `json:"attrs,omitempty"`
	Nodes []NodeDef      `json:"nodes"`
}

// NodeDef is one application of a layer.
type NodeDef struct {
	Inbound []TensorRef `json:"inbound"`
}

// TensorRef points at output Tensor of node Node of layer Layer.
type TensorRef struct {
	Layer  string `json:"layer"`
	Node   int    `json:"node"`
	Tensor int    `json:"tensor"`
}

// String formats the reference like a graph tensor name.
func (r TensorRef) String() string {
	return fmt.Sprintf("%s_%d:%d", r.Layer, r.Node, r.Tensor)
}

// TensorInfo binds a signature name to a graph tensor.
type TensorInfo struct {
	TensorRef
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

// SignatureDef is a named entry point.
type SignatureDef struct {
	MethodName string                              `json:"method_name"`
	Inputs     *orderedmap.Map[string, TensorInfo] `json:"inputs"`
	Outputs    *orderedmap.Map[string, TensorInfo] `json:"outputs"`
}

// Validate checks the cardinality rules: a known format and version,
// exactly one meta graph, exactly one signature with inputs and outputs.
func (d *Descriptor) Validate() error {
	if d.Format != Format {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, d.Format)
	}
	if d.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, d.FormatVersion)
	}
	switch n := len(d.MetaGraphs); {
	case n == 0:
		return ErrNoGraph
	case n > 1:
		return fmt.Errorf("%w: found %d", ErrMultipleGraphs, n)
	}
	mg := &d.MetaGraphs[0]
	switch n := mg.SignatureDefs.Len(); {
	case n == 0:
		return ErrNoSignature
	case n > 1:
		return fmt.Errorf("%w: found %d (%v)", ErrMultipleSignatures, n, mg.SignatureDefs.Keys())
	}
	for key, sig := range mg.SignatureDefs.All() {
		if sig.Inputs.Len() == 0 || sig.Outputs.Len() == 0 {
			return fmt.Errorf("%w: signature %q binds no inputs or outputs", ErrMalformedDescriptor, key)
		}
	}
	return nil
}

// Signature returns the single signature of the single meta graph.
// Call Validate first.
func (d *Descriptor) Signature() (string, SignatureDef) {
	for key, sig := range d.MetaGraphs[0].SignatureDefs.All() {
		return key, sig
	}
	return "", SignatureDef{}
}
