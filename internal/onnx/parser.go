package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed reports bytes that are not a valid ONNX protobuf.
var ErrMalformed = errors.New("malformed onnx protobuf")

// ParseFile decodes the ONNX model at path.
func ParseFile(path string) (*ModelProto, error) {
	//nolint:gosec // G304: reading a user supplied model is the purpose here
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes an ONNX model.
func Parse(data []byte) (*ModelProto, error) {
	var m ModelProto
	if err := decodeModel(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// field is one undecoded field value.
type field struct {
	num protowire.Number
	typ protowire.Type
	raw []byte
}

func malformed(num protowire.Number, format string, args ...any) error {
	return fmt.Errorf("%w: field %d: %s", ErrMalformed, num, fmt.Sprintf(format, args...))
}

// eachField calls fn for every field of the message in b.
func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(m))
		}
		if err := fn(field{num: num, typ: typ, raw: b[:m]}); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func (f field) bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, malformed(f.num, "wire type %d, want bytes", f.typ)
	}
	v, _ := protowire.ConsumeBytes(f.raw)
	return v, nil
}

func (f field) str() (string, error) {
	b, err := f.bytes()
	return string(b), err
}

func (f field) varint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, malformed(f.num, "wire type %d, want varint", f.typ)
	}
	v, _ := protowire.ConsumeVarint(f.raw)
	return v, nil
}

func (f field) i64() (int64, error) {
	v, err := f.varint()
	return int64(v), err //nolint:gosec // G115: two's complement is the wire encoding of int64
}

func (f field) f32() (float32, error) {
	if f.typ != protowire.Fixed32Type {
		return 0, malformed(f.num, "wire type %d, want fixed32", f.typ)
	}
	v, _ := protowire.ConsumeFixed32(f.raw)
	return math.Float32frombits(v), nil
}

// varints decodes a repeated varint field, packed or not.
func (f field) varints() ([]uint64, error) {
	if f.typ == protowire.VarintType {
		v, _ := protowire.ConsumeVarint(f.raw)
		return []uint64{v}, nil
	}
	b, err := f.bytes()
	if err != nil {
		return nil, err
	}
	var out []uint64
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, malformed(f.num, "%v", protowire.ParseError(n))
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

// fixed32s decodes a repeated fixed32 field, packed or not.
func (f field) fixed32s() ([]uint32, error) {
	if f.typ == protowire.Fixed32Type {
		v, _ := protowire.ConsumeFixed32(f.raw)
		return []uint32{v}, nil
	}
	b, err := f.bytes()
	if err != nil {
		return nil, err
	}
	if len(b)%4 != 0 {
		return nil, malformed(f.num, "packed fixed32 length %d", len(b))
	}
	out := make([]uint32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

// fixed64s decodes a repeated fixed64 field, packed or not.
func (f field) fixed64s() ([]uint64, error) {
	if f.typ == protowire.Fixed64Type {
		v, _ := protowire.ConsumeFixed64(f.raw)
		return []uint64{v}, nil
	}
	b, err := f.bytes()
	if err != nil {
		return nil, err
	}
	if len(b)%8 != 0 {
		return nil, malformed(f.num, "packed fixed64 length %d", len(b))
	}
	out := make([]uint64, 0, len(b)/8)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

// message decodes a nested message field with dec.
func message[T any](f field, dec func([]byte, *T) error) (T, error) {
	var v T
	b, err := f.bytes()
	if err != nil {
		return v, err
	}
	err = dec(b, &v)
	return v, err
}

func decodeModel(b []byte, m *ModelProto) error {
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.IRVersion, err = f.i64()
		case 2:
			m.ProducerName, err = f.str()
		case 3:
			m.ProducerVersion, err = f.str()
		case 4:
			m.Domain, err = f.str()
		case 5:
			m.ModelVersion, err = f.i64()
		case 6:
			m.DocString, err = f.str()
		case 7:
			var g GraphProto
			g, err = message(f, decodeGraph)
			m.Graph = &g
		case 8:
			var o OperatorSetID
			o, err = message(f, decodeOpset)
			m.OpsetImport = append(m.OpsetImport, o)
		case 14:
			var e StringStringEntry
			e, err = message(f, decodeEntry)
			m.MetadataProps = append(m.MetadataProps, e)
		}
		return err
	})
}

func decodeGraph(b []byte, g *GraphProto) error {
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var n NodeProto
			n, err = message(f, decodeNode)
			g.Nodes = append(g.Nodes, n)
		case 2:
			g.Name, err = f.str()
		case 5:
			var t TensorProto
			t, err = message(f, decodeTensor)
			g.Initializers = append(g.Initializers, t)
		case 11, 12, 13:
			var v ValueInfoProto
			if v, err = message(f, decodeValueInfo); err != nil {
				return err
			}
			switch f.num {
			case 11:
				g.Inputs = append(g.Inputs, v)
			case 12:
				g.Outputs = append(g.Outputs, v)
			default:
				g.ValueInfo = append(g.ValueInfo, v)
			}
		}
		return err
	})
}

func decodeNode(b []byte, n *NodeProto) error {
	return eachField(b, func(f field) (err error) {
		var s string
		switch f.num {
		case 1:
			s, err = f.str()
			n.Inputs = append(n.Inputs, s)
		case 2:
			s, err = f.str()
			n.Outputs = append(n.Outputs, s)
		case 3:
			n.Name, err = f.str()
		case 4:
			n.OpType, err = f.str()
		case 5:
			var a AttributeProto
			a, err = message(f, decodeAttribute)
			n.Attributes = append(n.Attributes, a)
		case 7:
			n.Domain, err = f.str()
		}
		return err
	})
}

func decodeAttribute(b []byte, a *AttributeProto) error {
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			a.Name, err = f.str()
		case 2:
			a.F, err = f.f32()
		case 3:
			a.I, err = f.i64()
		case 4:
			a.S, err = f.bytes()
		case 5:
			var t TensorProto
			t, err = message(f, decodeTensor)
			a.T = &t
		case 7:
			var bits []uint32
			bits, err = f.fixed32s()
			for _, v := range bits {
				a.Floats = append(a.Floats, math.Float32frombits(v))
			}
		case 8:
			var vs []uint64
			vs, err = f.varints()
			for _, v := range vs {
				a.Ints = append(a.Ints, int64(v)) //nolint:gosec // G115: int64 wire encoding
			}
		case 9:
			var s []byte
			s, err = f.bytes()
			a.Strings = append(a.Strings, s)
		case 20:
			var v uint64
			v, err = f.varint()
			a.Type = int32(v) //nolint:gosec // G115: enum value
		}
		return err
	})
}

func decodeTensor(b []byte, t *TensorProto) error {
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var vs []uint64
			vs, err = f.varints()
			for _, v := range vs {
				t.Dims = append(t.Dims, int64(v)) //nolint:gosec // G115: int64 wire encoding
			}
		case 2:
			var v uint64
			v, err = f.varint()
			t.DataType = int32(v) //nolint:gosec // G115: enum value
		case 4:
			var bits []uint32
			bits, err = f.fixed32s()
			for _, v := range bits {
				t.FloatData = append(t.FloatData, math.Float32frombits(v))
			}
		case 5:
			var vs []uint64
			vs, err = f.varints()
			for _, v := range vs {
				t.Int32Data = append(t.Int32Data, int32(v)) //nolint:gosec // G115: int32 wire encoding
			}
		case 7:
			var vs []uint64
			vs, err = f.varints()
			for _, v := range vs {
				t.Int64Data = append(t.Int64Data, int64(v)) //nolint:gosec // G115: int64 wire encoding
			}
		case 8:
			t.Name, err = f.str()
		case 9:
			t.RawData, err = f.bytes()
		case 10:
			var bits []uint64
			bits, err = f.fixed64s()
			for _, v := range bits {
				t.DoubleData = append(t.DoubleData, math.Float64frombits(v))
			}
		case 11:
			var vs []uint64
			vs, err = f.varints()
			t.Uint64Data = append(t.Uint64Data, vs...)
		}
		return err
	})
}

func decodeValueInfo(b []byte, v *ValueInfoProto) error {
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			v.Name, err = f.str()
		case 2:
			var tp TypeProto
			tp, err = message(f, decodeType)
			v.Type = &tp
		}
		return err
	})
}

func decodeType(b []byte, t *TypeProto) error {
	return eachField(b, func(f field) (err error) {
		if f.num == 1 {
			var tt TensorTypeProto
			tt, err = message(f, decodeTensorType)
			t.TensorType = &tt
		}
		return err
	})
}

func decodeTensorType(b []byte, t *TensorTypeProto) error {
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var v uint64
			v, err = f.varint()
			t.ElemType = int32(v) //nolint:gosec // G115: enum value
		case 2:
			var s TensorShapeProto
			s, err = message(f, decodeShape)
			t.Shape = &s
		}
		return err
	})
}

func decodeShape(b []byte, s *TensorShapeProto) error {
	return eachField(b, func(f field) (err error) {
		if f.num == 1 {
			var d DimensionProto
			d, err = message(f, decodeDim)
			s.Dims = append(s.Dims, d)
		}
		return err
	})
}

func decodeDim(b []byte, d *DimensionProto) error {
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			d.DimValue, err = f.i64()
		case 2:
			d.DimParam, err = f.str()
		}
		return err
	})
}

func decodeOpset(b []byte, o *OperatorSetID) error {
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			o.Domain, err = f.str()
		case 2:
			o.Version, err = f.i64()
		}
		return err
	})
}

func decodeEntry(b []byte, e *StringStringEntry) error {
	return eachField(b, func(f field) (err error) {
		switch f.num {
		case 1:
			e.Key, err = f.str()
		case 2:
			e.Value, err = f.str()
		}
		return err
	})
}
