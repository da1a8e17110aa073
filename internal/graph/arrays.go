package graph

import (
	"fmt"
	"slices"

	"github.com/pdevine/tensor"
)

type float interface{ ~float32 | ~float64 }

type number interface {
	~float64 | ~float32 | ~int64 | ~int32 | ~int16 | ~int8 | ~uint64 | ~uint32 | ~uint16 | ~uint8
}

func shapeOf(d *tensor.Dense) []int {
	return slices.Clone([]int(d.Shape()))
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

func cloneDense(d *tensor.Dense) *tensor.Dense {
	return d.Clone().(*tensor.Dense)
}

// reshaped returns a dense array sharing d's backing data with a new shape.
func reshaped(d *tensor.Dense, shape ...int) (*tensor.Dense, error) {
	if product(shape) != d.Shape().TotalSize() {
		return nil, fmt.Errorf("%w: cannot view %v as %v", ErrShape, d.Shape(), shape)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(d.Data())), nil
}

// alloc makes a zeroed backing slice for dt.
func alloc(dt tensor.Dtype, n int) (any, error) {
	switch dt {
	case tensor.Float64:
		return make([]float64, n), nil
	case tensor.Float32:
		return make([]float32, n), nil
	case tensor.Int64:
		return make([]int64, n), nil
	case tensor.Int32:
		return make([]int32, n), nil
	case tensor.Int16:
		return make([]int16, n), nil
	case tensor.Int8:
		return make([]int8, n), nil
	case tensor.Uint64:
		return make([]uint64, n), nil
	case tensor.Uint32:
		return make([]uint32, n), nil
	case tensor.Uint16:
		return make([]uint16, n), nil
	case tensor.Uint8:
		return make([]uint8, n), nil
	case tensor.Bool:
		return make([]bool, n), nil
	case tensor.String:
		return make([]string, n), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDType, dt)
}

// Zeros allocates a zero-filled array.
func Zeros(dt tensor.Dtype, shape ...int) (*tensor.Dense, error) {
	backing, err := alloc(dt, product(shape))
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}

func castDense(src *tensor.Dense, to tensor.Dtype) (*tensor.Dense, error) {
	var (
		out any
		err error
	)
	switch to {
	case tensor.Float64:
		out, err = convertTo[float64](src)
	case tensor.Float32:
		out, err = convertTo[float32](src)
	case tensor.Int64:
		out, err = convertTo[int64](src)
	case tensor.Int32:
		out, err = convertTo[int32](src)
	case tensor.Int16:
		out, err = convertTo[int16](src)
	case tensor.Int8:
		out, err = convertTo[int8](src)
	case tensor.Uint64:
		out, err = convertTo[uint64](src)
	case tensor.Uint32:
		out, err = convertTo[uint32](src)
	case tensor.Uint16:
		out, err = convertTo[uint16](src)
	case tensor.Uint8:
		out, err = convertTo[uint8](src)
	case tensor.Bool:
		out, err = convertToBool(src)
	default:
		err = fmt.Errorf("%w: cast to %s", ErrDType, to)
	}
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(shapeOf(src)...), tensor.WithBacking(out)), nil
}

func convertTo[D number](src *tensor.Dense) ([]D, error) {
	switch s := src.Data().(type) {
	case []float64:
		return convertSlice[float64, D](s), nil
	case []float32:
		return convertSlice[float32, D](s), nil
	case []int64:
		return convertSlice[int64, D](s), nil
	case []int32:
		return convertSlice[int32, D](s), nil
	case []int16:
		return convertSlice[int16, D](s), nil
	case []int8:
		return convertSlice[int8, D](s), nil
	case []uint64:
		return convertSlice[uint64, D](s), nil
	case []uint32:
		return convertSlice[uint32, D](s), nil
	case []uint16:
		return convertSlice[uint16, D](s), nil
	case []uint8:
		return convertSlice[uint8, D](s), nil
	case []bool:
		out := make([]D, len(s))
		for i, b := range s {
			if b {
				out[i] = 1
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: cast from %s", ErrDType, src.Dtype())
}

func convertSlice[S, D number](s []S) []D {
	out := make([]D, len(s))
	for i, v := range s {
		out[i] = D(v)
	}
	return out
}

func convertToBool(src *tensor.Dense) ([]bool, error) {
	if b, ok := src.Data().([]bool); ok {
		return slices.Clone(b), nil
	}
	f, err := convertTo[float64](src)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(f))
	for i, v := range f {
		out[i] = v != 0
	}
	return out, nil
}
