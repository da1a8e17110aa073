package netspec

import (
	"encoding/json"
	"fmt"
)

// Unknown marks a dimension or batch size that is only fixed at execution time.
const Unknown = -1

// ElementType is the closed set of element types the host can represent.
type ElementType string

// Supported element types.
const (
	Float64 ElementType = "float64"
	Float32 ElementType = "float32"
	Int64   ElementType = "int64"
	Int32   ElementType = "int32"
	Int16   ElementType = "int16"
	Int8    ElementType = "int8"
	Uint8   ElementType = "uint8"
	Bool    ElementType = "bool"
	String  ElementType = "string"
)

// ElementTypes lists every supported element type.
var ElementTypes = []ElementType{Float64, Float32, Int64, Int32, Int16, Int8, Uint8, Bool, String}

// Valid reports whether t is one of the supported element types.
func (t ElementType) Valid() bool {
	for _, et := range ElementTypes {
		if t == et {
			return true
		}
	}
	return false
}

// ParseElementType parses the string form of an element type.
func ParseElementType(s string) (ElementType, error) {
	t := ElementType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown element type %q", s)
	}
	return t, nil
}

// DimensionOrder describes how shape entries map to time, depth, height,
// width and channel axes.
type DimensionOrder string

// Supported dimension orders.
const (
	ChannelsLast  DimensionOrder = "TDHWC"
	ChannelsFirst DimensionOrder = "TCDHW"
)

// String returns the tag form of the order.
func (o DimensionOrder) String() string { return string(o) }

// IsChannelsFirst reports whether o places channels before spatial axes.
func (o DimensionOrder) IsChannelsFirst() bool { return o == ChannelsFirst }

// TrainingConfig records how an exported network was compiled for training.
// It is carried through exports untouched and absent for inference-only loads.
type TrainingConfig struct {
	Optimizer  string            `json:"optimizer,omitempty"`
	Loss       string            `json:"loss,omitempty"`
	Metrics    []string          `json:"metrics,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of c.
func (c *TrainingConfig) Clone() *TrainingConfig {
	if c == nil {
		return nil
	}
	out := &TrainingConfig{
		Optimizer: c.Optimizer,
		Loss:      c.Loss,
		Metrics:   append([]string(nil), c.Metrics...),
	}
	if c.Attributes != nil {
		out.Attributes = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// TensorSpec describes one tensor of a network.
type TensorSpec struct {
	id        string
	name      string
	batchSize int
	shape     []int
	elemType  ElementType
	order     DimensionOrder
}

// NewTensorSpec validates and builds a TensorSpec. Negative sizes other
// than Unknown are rejected, as are unknown element types.
func NewTensorSpec(id, name string, batchSize int, shape []int, elemType ElementType, order DimensionOrder) (*TensorSpec, error) {
	if id == "" {
		return nil, fmt.Errorf("tensor spec: empty identifier")
	}
	if batchSize < Unknown || batchSize == 0 {
		return nil, fmt.Errorf("tensor spec %q: invalid batch size %d", id, batchSize)
	}
	for i, d := range shape {
		if d < Unknown {
			return nil, fmt.Errorf("tensor spec %q: invalid dimension %d at %d", id, d, i)
		}
	}
	if !elemType.Valid() {
		return nil, fmt.Errorf("tensor spec %q: unknown element type %q", id, elemType)
	}
	if order != ChannelsFirst && order != ChannelsLast {
		return nil, fmt.Errorf("tensor spec %q: unknown dimension order %q", id, order)
	}
	return &TensorSpec{
		id:        id,
		name:      name,
		batchSize: batchSize,
		shape:     append([]int{}, shape...),
		elemType:  elemType,
		order:     order,
	}, nil
}

// ID returns the stable identifier.
func (s *TensorSpec) ID() string { return s.id }

// Name returns the display name.
func (s *TensorSpec) Name() string { return s.name }

// BatchSize returns the batch size or Unknown.
func (s *TensorSpec) BatchSize() int { return s.batchSize }

// Shape returns a copy of the non-batch shape.
func (s *TensorSpec) Shape() []int { return append([]int{}, s.shape...) }

// ElementType returns the element type.
func (s *TensorSpec) ElementType() ElementType { return s.elemType }

// DimensionOrder returns the dimension order.
func (s *TensorSpec) DimensionOrder() DimensionOrder { return s.order }

// HasUnknownDims reports whether any non-batch dimension is Unknown.
func (s *TensorSpec) HasUnknownDims() bool {
	for _, d := range s.shape {
		if d == Unknown {
			return true
		}
	}
	return false
}

// String formats the spec for logs.
func (s *TensorSpec) String() string {
	return fmt.Sprintf("%s(%s %s %v %s)", s.id, s.name, s.elemType, s.shape, s.order)
}

type tensorSpecJSON struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	BatchSize      int            `json:"batch_size"`
	Shape          []int          `json:"shape"`
	ElementType    ElementType    `json:"element_type"`
	DimensionOrder DimensionOrder `json:"dimension_order"`
}

// MarshalJSON implements json.Marshaler.
func (s *TensorSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(tensorSpecJSON{
		ID:             s.id,
		Name:           s.name,
		BatchSize:      s.batchSize,
		Shape:          s.Shape(),
		ElementType:    s.elemType,
		DimensionOrder: s.order,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded spec is validated
// like one built with NewTensorSpec.
func (s *TensorSpec) UnmarshalJSON(data []byte) error {
	var raw tensorSpecJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	spec, err := NewTensorSpec(raw.ID, raw.Name, raw.BatchSize, raw.Shape, raw.ElementType, raw.DimensionOrder)
	if err != nil {
		return err
	}
	*s = *spec
	return nil
}
