// Package buffer holds the host-side columnar data buffers exchanged with
// a network: a flat backing slice plus the shape of one row.
package buffer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pdevine/tensor"

	"github.com/born-ml/dlnet/internal/netspec"
)

// ErrUnsupportedType reports an element type outside netspec.ElementTypes.
var ErrUnsupportedType = errors.New("unsupported element type")

// ErrShape reports a backing slice that does not fit the row shape.
var ErrShape = errors.New("data does not match shape")

// Buffer is a batch of rows of one element type.
type Buffer interface {
	// ElementType is the element type of every value.
	ElementType() netspec.ElementType
	// Shape is the shape of a single row.
	Shape() []int
	// Rows is the number of rows.
	Rows() int
	// Len is the number of elements across all rows.
	Len() int
	// Array returns the flat backing slice, e.g. []float32.
	Array() any
}

// Element is the set of Go types a buffer can hold.
type Element interface {
	~float64 | ~float32 | ~int64 | ~int32 | ~int16 | ~int8 | ~uint8 | ~bool | ~string
}

// Typed is the buffer kind for element type T.
type Typed[T Element] struct {
	elem  netspec.ElementType
	shape []int
	data  []T
}

// New creates a buffer from flat data and a row shape. len(data) must be a
// multiple of the row size.
func New[T Element](data []T, shape ...int) (*Typed[T], error) {
	elem, ok := elementTypeOf[T]()
	if !ok {
		return nil, ErrUnsupportedType
	}
	size := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
		size *= d
	}
	if size == 0 && len(data) != 0 || size != 0 && len(data)%size != 0 {
		return nil, fmt.Errorf("%w: %d values for row shape %v", ErrShape, len(data), shape)
	}
	return &Typed[T]{elem: elem, shape: slices.Clone(shape), data: data}, nil
}

// ElementType implements Buffer.
func (b *Typed[T]) ElementType() netspec.ElementType { return b.elem }

// Shape implements Buffer.
func (b *Typed[T]) Shape() []int { return slices.Clone(b.shape) }

// Len implements Buffer.
func (b *Typed[T]) Len() int { return len(b.data) }

// Rows implements Buffer.
func (b *Typed[T]) Rows() int {
	size := 1
	for _, d := range b.shape {
		size *= d
	}
	if size == 0 {
		return 0
	}
	return len(b.data) / size
}

// Array implements Buffer.
func (b *Typed[T]) Array() any { return b.data }

// Data returns the typed backing slice.
func (b *Typed[T]) Data() []T { return b.data }

// Row returns row i.
func (b *Typed[T]) Row(i int) []T {
	size := len(b.data) / max(b.Rows(), 1)
	return b.data[i*size : (i+1)*size]
}

func elementTypeOf[T Element]() (netspec.ElementType, bool) {
	var zero T
	switch any(zero).(type) {
	case float64:
		return netspec.Float64, true
	case float32:
		return netspec.Float32, true
	case int64:
		return netspec.Int64, true
	case int32:
		return netspec.Int32, true
	case int16:
		return netspec.Int16, true
	case int8:
		return netspec.Int8, true
	case uint8:
		return netspec.Uint8, true
	case bool:
		return netspec.Bool, true
	case string:
		return netspec.String, true
	}
	return "", false
}

// ElementTypeOf maps a runtime dtype to the host element type.
func ElementTypeOf(dt tensor.Dtype) (netspec.ElementType, error) {
	switch dt {
	case tensor.Float64:
		return netspec.Float64, nil
	case tensor.Float32:
		return netspec.Float32, nil
	case tensor.Int64:
		return netspec.Int64, nil
	case tensor.Int32:
		return netspec.Int32, nil
	case tensor.Int16:
		return netspec.Int16, nil
	case tensor.Int8:
		return netspec.Int8, nil
	case tensor.Uint8:
		return netspec.Uint8, nil
	case tensor.Bool:
		return netspec.Bool, nil
	case tensor.String:
		return netspec.String, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, dt)
}

// DTypeOf maps a host element type to the runtime dtype.
func DTypeOf(et netspec.ElementType) (tensor.Dtype, error) {
	switch et {
	case netspec.Float64:
		return tensor.Float64, nil
	case netspec.Float32:
		return tensor.Float32, nil
	case netspec.Int64:
		return tensor.Int64, nil
	case netspec.Int32:
		return tensor.Int32, nil
	case netspec.Int16:
		return tensor.Int16, nil
	case netspec.Int8:
		return tensor.Int8, nil
	case netspec.Uint8:
		return tensor.Uint8, nil
	case netspec.Bool:
		return tensor.Bool, nil
	case netspec.String:
		return tensor.String, nil
	}
	return tensor.Dtype{}, fmt.Errorf("%w: %q", ErrUnsupportedType, et)
}

// FromArray converts a native array into the buffer kind whose element
// type matches the array's dtype exactly. The leading axis becomes the row
// count. There is no fallback for other dtypes.
func FromArray(a *tensor.Dense) (Buffer, error) {
	shape := []int(a.Shape())
	if len(shape) == 0 {
		return nil, fmt.Errorf("%w: array has no batch axis", ErrShape)
	}
	row := slices.Clone(shape[1:])
	switch data := a.Data().(type) {
	case []float64:
		return fromSlice(data, row)
	case []float32:
		return fromSlice(data, row)
	case []int64:
		return fromSlice(data, row)
	case []int32:
		return fromSlice(data, row)
	case []int16:
		return fromSlice(data, row)
	case []int8:
		return fromSlice(data, row)
	case []uint8:
		return fromSlice(data, row)
	case []bool:
		return fromSlice(data, row)
	case []string:
		return fromSlice(data, row)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, a.Dtype())
}

func fromSlice[T Element](data []T, row []int) (Buffer, error) {
	b, err := New(slices.Clone(data), row...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ToArray reshapes b's flat data into a native array of the given shape.
// The element count must match exactly.
func ToArray(b Buffer, shape ...int) (*tensor.Dense, error) {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size != b.Len() {
		return nil, fmt.Errorf("%w: %d values cannot fill %v", ErrShape, b.Len(), shape)
	}
	if _, err := DTypeOf(b.ElementType()); err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(b.Array())), nil
}
