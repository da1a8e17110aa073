package savedmodel

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"sort"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/pdevine/tensor"
	"github.com/x448/float16"
)

// safetensorHeader is one tensor entry of a SafeTensors header.
type safetensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

var safetensorsDTypes = map[tensor.Dtype]string{
	tensor.Float64: "F64",
	tensor.Float32: "F32",
	tensor.Int64:   "I64",
	tensor.Int32:   "I32",
	tensor.Int16:   "I16",
	tensor.Int8:    "I8",
	tensor.Uint64:  "U64",
	tensor.Uint32:  "U32",
	tensor.Uint16:  "U16",
	tensor.Uint8:   "U8",
	tensor.Bool:    "BOOL",
}

// elementSize returns the byte width of a SafeTensors dtype.
func elementSize(dtype string) (int64, bool) {
	switch dtype {
	case "F64", "I64", "U64":
		return 8, true
	case "F32", "I32", "U32":
		return 4, true
	case "F16", "BF16", "I16", "U16":
		return 2, true
	case "I8", "U8", "BOOL":
		return 1, true
	}
	return 0, false
}

// WriteVariables writes vars to w in SafeTensors format:
//
//	[8 bytes: header size, uint64 LE][JSON header][tensor data]
//
// Tensors are written in name order. String tensors are rejected.
func WriteVariables(w io.Writer, vars map[string]*tensor.Dense, metadata map[string]string) error {
	names := make([]string, 0, len(vars))
	for name := range vars {
		if err := ValidateVariableName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var offset int64
	for _, name := range names {
		v := vars[name]
		dtype, ok := safetensorsDTypes[v.Dtype()]
		if !ok {
			return fmt.Errorf("%w: %s is %s", ErrUnsupportedDType, name, v.Dtype())
		}
		size, _ := elementSize(dtype)
		shape := make([]int64, 0, v.Dims())
		for _, d := range v.Shape() {
			shape = append(shape, int64(d))
		}
		n := int64(v.Shape().TotalSize()) * size
		header[name] = safetensorHeader{DType: dtype, Shape: shape, DataOffsets: [2]int64{offset, offset + n}}
		offset += n
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if err := binary.Write(w, binary.LittleEndian, vars[name].Data()); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

// ReadVariables parses a SafeTensors file. F16 and BF16 tensors are widened
// to float32.
func ReadVariables(path string) (map[string]*tensor.Dense, error) {
	//nolint:gosec // G304: reading a user supplied export is the purpose here
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeVariables(data)
}

func decodeVariables(data []byte) (map[string]*tensor.Dense, error) {
	if len(data) < 8 {
		return nil, &ValidationError{Type: "truncated", Details: "file shorter than header size field"}
	}
	headerSize := binary.LittleEndian.Uint64(data[:8])
	if headerSize > MaxHeaderSize || headerSize > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &raw); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	delete(raw, "__metadata__")

	body := data[8+headerSize:]
	entries := make(map[string]safetensorHeader, len(raw))
	metas := make([]variableMeta, 0, len(raw))
	for name, msg := range raw {
		if err := ValidateVariableName(name); err != nil {
			return nil, err
		}
		var h safetensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		size, ok := elementSize(h.DType)
		if !ok {
			return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedDType, name, h.DType)
		}
		count := int64(1)
		for _, d := range h.Shape {
			if d < 0 {
				return nil, &ValidationError{Type: "negative_dim", Tensor: name, Details: fmt.Sprintf("shape %v", h.Shape)}
			}
			var ok bool
			if count, ok = mulChecked(count, d); !ok {
				return nil, &ValidationError{Type: "shape_overflow", Tensor: name, Details: fmt.Sprintf("shape %v", h.Shape)}
			}
		}
		nbytes, ok := mulChecked(count, size)
		if !ok {
			return nil, &ValidationError{Type: "shape_overflow", Tensor: name, Details: fmt.Sprintf("shape %v of %s", h.Shape, h.DType)}
		}
		if h.DataOffsets[1]-h.DataOffsets[0] != nbytes {
			return nil, &ValidationError{
				Type:    "size_mismatch",
				Tensor:  name,
				Details: fmt.Sprintf("%d bytes for %d x %s", h.DataOffsets[1]-h.DataOffsets[0], count, h.DType),
			}
		}
		entries[name] = h
		metas = append(metas, variableMeta{Name: name, Offset: h.DataOffsets[0], Size: h.DataOffsets[1] - h.DataOffsets[0]})
	}
	if err := ValidateOffsets(metas, int64(len(body))); err != nil {
		return nil, err
	}

	vars := make(map[string]*tensor.Dense, len(entries))
	for name, h := range entries {
		v, err := decodeTensor(h, body[h.DataOffsets[0]:h.DataOffsets[1]])
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		vars[name] = v
	}
	return vars, nil
}

// mulChecked returns a*b for non-negative a and b, or false when the
// product does not fit in an int.
func mulChecked(a, b int64) (int64, bool) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt {
		return 0, false
	}
	return int64(lo), true
}

func decodeTensor(h safetensorHeader, raw []byte) (*tensor.Dense, error) {
	shape := make([]int, len(h.Shape))
	count := 1
	for i, d := range h.Shape {
		shape[i] = int(d)
		count *= int(d)
	}

	var backing any
	switch h.DType {
	case "F64":
		backing = make([]float64, count)
	case "F32":
		backing = make([]float32, count)
	case "I64":
		backing = make([]int64, count)
	case "I32":
		backing = make([]int32, count)
	case "I16":
		backing = make([]int16, count)
	case "I8":
		backing = make([]int8, count)
	case "U64":
		backing = make([]uint64, count)
	case "U32":
		backing = make([]uint32, count)
	case "U16":
		backing = make([]uint16, count)
	case "U8":
		backing = make([]uint8, count)
	case "BOOL":
		backing = make([]bool, count)
	case "F16":
		u16s := make([]uint16, count)
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, u16s); err != nil {
			return nil, err
		}
		f32s := make([]float32, count)
		for i := range u16s {
			f32s[i] = float16.Frombits(u16s[i]).Float32()
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(f32s)), nil
	case "BF16":
		f32s := bfloat16.DecodeFloat32(raw)
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(f32s)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, h.DType)
	}

	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, backing); err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}
