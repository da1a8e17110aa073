package onnx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/pdevine/tensor"
	"github.com/x448/float16"
)

// ErrUnsupportedDType reports an element type the runtime cannot hold.
var ErrUnsupportedDType = errors.New("unsupported onnx data type")

// valueDTypes maps ONNX element types of graph values to runtime dtypes.
var valueDTypes = map[int32]tensor.Dtype{
	TensorProtoFloat:  tensor.Float32,
	TensorProtoDouble: tensor.Float64,
	TensorProtoInt8:   tensor.Int8,
	TensorProtoInt16:  tensor.Int16,
	TensorProtoInt32:  tensor.Int32,
	TensorProtoInt64:  tensor.Int64,
	TensorProtoUint8:  tensor.Uint8,
	TensorProtoUint16: tensor.Uint16,
	TensorProtoUint32: tensor.Uint32,
	TensorProtoUint64: tensor.Uint64,
	TensorProtoBool:   tensor.Bool,
	TensorProtoString: tensor.String,
}

// DType returns the runtime dtype for an ONNX element type.
func DType(elemType int32) (tensor.Dtype, error) {
	dt, ok := valueDTypes[elemType]
	if !ok {
		return tensor.Dtype{}, fmt.Errorf("%w: %d", ErrUnsupportedDType, elemType)
	}
	return dt, nil
}

// Dense decodes an initializer. FLOAT16 and BFLOAT16 are widened to
// float32. Data is read from raw_data when present, else from the typed
// field for the element type.
func Dense(t *TensorProto) (*tensor.Dense, error) {
	shape := make([]int, len(t.Dims))
	count := 1
	for i, d := range t.Dims {
		if d < 0 {
			return nil, fmt.Errorf("initializer %s: negative dim %d", t.Name, d)
		}
		hi, lo := bits.Mul64(uint64(count), uint64(d))
		if hi != 0 || lo > math.MaxInt {
			return nil, fmt.Errorf("initializer %s: dims %v overflow", t.Name, t.Dims)
		}
		shape[i] = int(d)
		count = int(lo)
	}

	backing, err := decodeData(t, count)
	if err != nil {
		return nil, fmt.Errorf("initializer %s: %w", t.Name, err)
	}
	if len(shape) == 0 {
		// scalars are carried as one-element vectors
		shape = []int{1}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}

func decodeData(t *TensorProto, count int) (any, error) {
	raw := len(t.RawData) > 0
	switch t.DataType {
	case TensorProtoFloat:
		if raw {
			return readRaw[float32](t.RawData, count)
		}
		return checkLen(t.FloatData, count)
	case TensorProtoDouble:
		if raw {
			return readRaw[float64](t.RawData, count)
		}
		return checkLen(t.DoubleData, count)
	case TensorProtoInt64:
		if raw {
			return readRaw[int64](t.RawData, count)
		}
		return checkLen(t.Int64Data, count)
	case TensorProtoInt32:
		if raw {
			return readRaw[int32](t.RawData, count)
		}
		return checkLen(t.Int32Data, count)
	case TensorProtoInt8:
		if raw {
			return readRaw[int8](t.RawData, count)
		}
		return narrow[int8](t.Int32Data, count)
	case TensorProtoUint8:
		if raw {
			return readRaw[uint8](t.RawData, count)
		}
		return narrow[uint8](t.Int32Data, count)
	case TensorProtoBool:
		var bs []uint8
		var err error
		if raw {
			bs, err = readRaw[uint8](t.RawData, count)
		} else {
			bs, err = narrow[uint8](t.Int32Data, count)
		}
		if err != nil {
			return nil, err
		}
		out := make([]bool, len(bs))
		for i, b := range bs {
			out[i] = b != 0
		}
		return out, nil
	case TensorProtoFloat16:
		bits, err := halfBits(t, count)
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(bits))
		for i, b := range bits {
			out[i] = float16.Frombits(b).Float32()
		}
		return out, nil
	case TensorProtoBfloat16:
		if raw {
			if len(t.RawData)%2 != 0 || len(t.RawData)/2 != count {
				return nil, fmt.Errorf("raw_data holds %d bytes for %d values", len(t.RawData), count)
			}
			return bfloat16.DecodeFloat32(t.RawData), nil
		}
		bits, err := halfBits(t, count)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 2*len(bits))
		for i, b := range bits {
			binary.LittleEndian.PutUint16(buf[2*i:], b)
		}
		return bfloat16.DecodeFloat32(buf), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedDType, t.DataType)
}

// readRaw decodes count little-endian values of T. The length of raw is
// checked before anything is allocated.
func readRaw[T any](raw []byte, count int) ([]T, error) {
	var zero T
	size := binary.Size(zero)
	if len(raw)%size != 0 || len(raw)/size != count {
		return nil, fmt.Errorf("raw_data holds %d bytes for %d values of %d bytes", len(raw), count, size)
	}
	out := make([]T, count)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkLen[T any](data []T, count int) ([]T, error) {
	if len(data) != count {
		return nil, fmt.Errorf("holds %d values, want %d", len(data), count)
	}
	return data, nil
}

// narrow converts int32_data, where small integer types are widened on
// the wire, back to T.
func narrow[T int8 | uint8 | uint16](data []int32, count int) ([]T, error) {
	if _, err := checkLen(data, count); err != nil {
		return nil, err
	}
	out := make([]T, len(data))
	for i, v := range data {
		out[i] = T(v) //nolint:gosec // G115: values were narrowed by the producer
	}
	return out, nil
}

// halfBits returns the 16-bit patterns of a FLOAT16 or BFLOAT16 tensor.
func halfBits(t *TensorProto, count int) ([]uint16, error) {
	if len(t.RawData) > 0 {
		return readRaw[uint16](t.RawData, count)
	}
	return narrow[uint16](t.Int32Data, count)
}
