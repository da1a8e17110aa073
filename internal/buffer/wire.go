package buffer

import (
	"encoding/json"
	"fmt"

	"github.com/born-ml/dlnet/internal/netspec"
)

// Wire is the JSON form of a buffer.
type Wire struct {
	DType netspec.ElementType `json:"dtype"`
	Shape []int               `json:"shape"`
	Rows  int                 `json:"rows,omitempty"`
	Data  json.RawMessage     `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (b *Typed[T]) MarshalJSON() ([]byte, error) {
	var values any = b.data
	if u8, ok := values.([]uint8); ok {
		// keep uint8 data as a number list rather than base64
		ints := make([]int, len(u8))
		for i, v := range u8 {
			ints[i] = int(v)
		}
		values = ints
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	shape := b.shape
	if shape == nil {
		shape = []int{}
	}
	return json.Marshal(Wire{DType: b.elem, Shape: shape, Rows: b.Rows(), Data: data})
}

// Decode parses the JSON form of a buffer.
func Decode(data []byte) (Buffer, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return w.Buffer()
}

// Buffer converts the wire form into a typed buffer.
func (w Wire) Buffer() (Buffer, error) {
	switch w.DType {
	case netspec.Float64:
		return decodeAs[float64](w)
	case netspec.Float32:
		return decodeAs[float32](w)
	case netspec.Int64:
		return decodeAs[int64](w)
	case netspec.Int32:
		return decodeAs[int32](w)
	case netspec.Int16:
		return decodeAs[int16](w)
	case netspec.Int8:
		return decodeAs[int8](w)
	case netspec.Uint8:
		return decodeAs[uint8](w)
	case netspec.Bool:
		return decodeAs[bool](w)
	case netspec.String:
		return decodeAs[string](w)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, w.DType)
}

func decodeAs[T Element](w Wire) (Buffer, error) {
	var values []T
	if len(w.Data) > 0 {
		if err := json.Unmarshal(w.Data, &values); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", w.DType, err)
		}
	}
	b, err := New(values, w.Shape...)
	if err != nil {
		return nil, err
	}
	if w.Rows != 0 && w.Rows != b.Rows() {
		return nil, fmt.Errorf("%w: %d rows declared, %d present", ErrShape, w.Rows, b.Rows())
	}
	return b, nil
}
