package netspec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Identifier prefixes.
const (
	InputPrefix  = "input_"
	OutputPrefix = "output_"
	HiddenPrefix = "hidden/"
)

// InputID returns the identifier of the n-th declared input.
func InputID(n int) string { return InputPrefix + strconv.Itoa(n) }

// OutputID returns the identifier of the n-th declared output.
func OutputID(n int) string { return OutputPrefix + strconv.Itoa(n) }

// HiddenID returns the identifier of output tensor of node instance node of layer.
func HiddenID(layer string, node, tensor int) string {
	return fmt.Sprintf("%s%s_%d:%d", HiddenPrefix, layer, node, tensor)
}

// ParseHiddenID splits a hidden identifier into layer name, node index and
// tensor index. Layer names may themselves contain underscores; the node
// index is taken from the last one.
func ParseHiddenID(id string) (layer string, node, tensor int, err error) {
	rest, ok := strings.CutPrefix(id, HiddenPrefix)
	if !ok {
		return "", 0, 0, fmt.Errorf("%q is not a hidden tensor identifier", id)
	}
	colon := strings.LastIndexByte(rest, ':')
	if colon < 0 {
		return "", 0, 0, fmt.Errorf("%q: missing tensor index", id)
	}
	if tensor, err = strconv.Atoi(rest[colon+1:]); err != nil || tensor < 0 {
		return "", 0, 0, fmt.Errorf("%q: bad tensor index", id)
	}
	under := strings.LastIndexByte(rest[:colon], '_')
	if under <= 0 {
		return "", 0, 0, fmt.Errorf("%q: missing node index", id)
	}
	if node, err = strconv.Atoi(rest[under+1 : colon]); err != nil || node < 0 {
		return "", 0, 0, fmt.Errorf("%q: bad node index", id)
	}
	return rest[:under], node, tensor, nil
}

// NetworkSpec is the declarative description of a network's tensors.
type NetworkSpec struct {
	inputs   []*TensorSpec
	hidden   []*TensorSpec
	outputs  []*TensorSpec
	training *TrainingConfig
	byID     map[string]*TensorSpec
}

// NewNetworkSpec builds a NetworkSpec. Identifiers must be unique across
// inputs, hidden and outputs combined.
func NewNetworkSpec(inputs, hidden, outputs []*TensorSpec, training *TrainingConfig) (*NetworkSpec, error) {
	s := &NetworkSpec{
		inputs:   append([]*TensorSpec{}, inputs...),
		hidden:   append([]*TensorSpec{}, hidden...),
		outputs:  append([]*TensorSpec{}, outputs...),
		training: training.Clone(),
		byID:     make(map[string]*TensorSpec, len(inputs)+len(hidden)+len(outputs)),
	}
	for _, t := range s.Tensors() {
		if t == nil {
			return nil, fmt.Errorf("network spec: nil tensor spec")
		}
		if _, dup := s.byID[t.id]; dup {
			return nil, fmt.Errorf("network spec: duplicate tensor identifier %q", t.id)
		}
		s.byID[t.id] = t
	}
	return s, nil
}

// Inputs returns the declared inputs in declaration order.
func (s *NetworkSpec) Inputs() []*TensorSpec { return append([]*TensorSpec{}, s.inputs...) }

// Hidden returns the intermediate tensors.
func (s *NetworkSpec) Hidden() []*TensorSpec { return append([]*TensorSpec{}, s.hidden...) }

// Outputs returns the declared outputs in declaration order.
func (s *NetworkSpec) Outputs() []*TensorSpec { return append([]*TensorSpec{}, s.outputs...) }

// TrainingConfig returns a copy of the training configuration, or nil.
func (s *NetworkSpec) TrainingConfig() *TrainingConfig { return s.training.Clone() }

// Tensors returns inputs, hidden and outputs in that order.
func (s *NetworkSpec) Tensors() []*TensorSpec {
	all := make([]*TensorSpec, 0, len(s.inputs)+len(s.hidden)+len(s.outputs))
	all = append(all, s.inputs...)
	all = append(all, s.hidden...)
	return append(all, s.outputs...)
}

// Lookup finds a tensor spec by identifier.
func (s *NetworkSpec) Lookup(id string) (*TensorSpec, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// IsOutput reports whether id names a declared output.
func (s *NetworkSpec) IsOutput(id string) bool {
	for _, t := range s.outputs {
		if t.id == id {
			return true
		}
	}
	return false
}

type networkSpecJSON struct {
	Inputs         []*TensorSpec   `json:"inputs"`
	Hidden         []*TensorSpec   `json:"hidden"`
	Outputs        []*TensorSpec   `json:"outputs"`
	TrainingConfig *TrainingConfig `json:"training_config,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s *NetworkSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(networkSpecJSON{
		Inputs:         s.inputs,
		Hidden:         s.hidden,
		Outputs:        s.outputs,
		TrainingConfig: s.training,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *NetworkSpec) UnmarshalJSON(data []byte) error {
	var raw networkSpecJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	spec, err := NewNetworkSpec(raw.Inputs, raw.Hidden, raw.Outputs, raw.TrainingConfig)
	if err != nil {
		return err
	}
	*s = *spec
	return nil
}
