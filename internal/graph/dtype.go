package graph

import (
	"fmt"
	"sort"

	"github.com/pdevine/tensor"
)

var dtypesByName = map[string]tensor.Dtype{
	"float64": tensor.Float64,
	"float32": tensor.Float32,
	"int64":   tensor.Int64,
	"int32":   tensor.Int32,
	"int16":   tensor.Int16,
	"int8":    tensor.Int8,
	"uint64":  tensor.Uint64,
	"uint32":  tensor.Uint32,
	"uint16":  tensor.Uint16,
	"uint8":   tensor.Uint8,
	"bool":    tensor.Bool,
	"string":  tensor.String,
}

// ParseDType resolves a dtype name such as "float32".
func ParseDType(name string) (tensor.Dtype, error) {
	dt, ok := dtypesByName[name]
	if !ok {
		return tensor.Dtype{}, fmt.Errorf("%w: %q", ErrDType, name)
	}
	return dt, nil
}

// DTypeName returns the name ParseDType accepts for dt.
func DTypeName(dt tensor.Dtype) string {
	for name, d := range dtypesByName {
		if d == dt {
			return name
		}
	}
	return dt.String()
}

// DTypeNames lists every dtype the runtime can hold, sorted.
func DTypeNames() []string {
	names := make([]string, 0, len(dtypesByName))
	for name := range dtypesByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isFloat(dt tensor.Dtype) bool {
	return dt == tensor.Float32 || dt == tensor.Float64
}

func isNumeric(dt tensor.Dtype) bool {
	return dt != tensor.Bool && dt != tensor.String
}
