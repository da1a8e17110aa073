package savedmodel

import (
	"fmt"
	"sort"
	"strings"
)

// Validation limits.
const (
	MaxHeaderSize      = 100 * 1024 * 1024
	MaxVariableCount   = 100_000
	MaxVariableNameLen = 4096
)

type variableMeta struct {
	Name   string
	Offset int64
	Size   int64
}

// ValidateOffsets rejects negative, out-of-bounds and overlapping regions.
func ValidateOffsets(vars []variableMeta, dataSize int64) error {
	if len(vars) > MaxVariableCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(vars), MaxVariableCount),
		}
	}

	sorted := make([]variableMeta, len(vars))
	copy(sorted, vars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, v := range sorted {
		if v.Offset < 0 || v.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  v.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", v.Offset, v.Size),
			}
		}
		if v.Offset+v.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  v.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", v.Offset, v.Size, dataSize),
			}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if v.Offset+v.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  v.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						v.Offset, v.Offset+v.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}
	return nil
}

// ValidateVariableName checks a "layer/weight" key. Exactly one '/' is
// allowed; traversal sequences, backslashes and null bytes are not.
func ValidateVariableName(name string) error {
	if len(name) > MaxVariableNameLen {
		return &ValidationError{
			Type:    "name_too_long",
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxVariableNameLen),
		}
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "\\\x00") {
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: "contains '..', '\\' or a null byte"}
	}
	layer, weight, ok := strings.Cut(name, "/")
	if !ok || layer == "" || weight == "" || strings.Contains(weight, "/") {
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: "want <layer>/<weight>"}
	}
	return nil
}

// SplitVariableName returns the layer and weight parts of a variable key.
func SplitVariableName(name string) (layer, weight string) {
	layer, weight, _ = strings.Cut(name, "/")
	return layer, weight
}
