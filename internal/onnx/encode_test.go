package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Test-only encoder mirroring the decoder's field numbers.

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedVarints[T int64 | int32](b []byte, num protowire.Number, vs []T) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}

func encodeModel(m *ModelProto) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.IRVersion))
	if m.ProducerName != "" {
		b = appendString(b, 2, m.ProducerName)
	}
	if m.Graph != nil {
		b = appendMessage(b, 7, encodeGraph(m.Graph))
	}
	for _, o := range m.OpsetImport {
		var ob []byte
		ob = appendString(ob, 1, o.Domain)
		ob = appendVarint(ob, 2, uint64(o.Version))
		b = appendMessage(b, 8, ob)
	}
	for _, e := range m.MetadataProps {
		var eb []byte
		eb = appendString(eb, 1, e.Key)
		eb = appendString(eb, 2, e.Value)
		b = appendMessage(b, 14, eb)
	}
	return b
}

func encodeGraph(g *GraphProto) []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, 1, encodeNode(&g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, encodeTensor(&g.Initializers[i]))
	}
	for _, vi := range g.Inputs {
		b = appendMessage(b, 11, encodeValueInfo(vi))
	}
	for _, vi := range g.Outputs {
		b = appendMessage(b, 12, encodeValueInfo(vi))
	}
	return b
}

func encodeNode(n *NodeProto) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendString(b, 1, in)
	}
	for _, out := range n.Outputs {
		b = appendString(b, 2, out)
	}
	if n.Name != "" {
		b = appendString(b, 3, n.Name)
	}
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, encodeAttribute(&n.Attributes[i]))
	}
	if n.Domain != "" {
		b = appendString(b, 7, n.Domain)
	}
	return b
}

func encodeAttribute(a *AttributeProto) []byte {
	var b []byte
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = appendVarint(b, 3, uint64(a.I))
	case AttributeProtoString:
		b = appendMessage(b, 4, a.S)
	case AttributeProtoFloats:
		var packed []byte
		for _, f := range a.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendMessage(b, 7, packed)
	case AttributeProtoInts:
		b = appendPackedVarints(b, 8, a.Ints)
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			b = appendMessage(b, 9, s)
		}
	}
	return appendVarint(b, 20, uint64(a.Type))
}

func encodeTensor(t *TensorProto) []byte {
	var b []byte
	b = appendPackedVarints(b, 1, t.Dims)
	b = appendVarint(b, 2, uint64(t.DataType))
	if len(t.FloatData) > 0 {
		var packed []byte
		for _, f := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendMessage(b, 4, packed)
	}
	b = appendPackedVarints(b, 5, t.Int32Data)
	b = appendPackedVarints(b, 7, t.Int64Data)
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = appendMessage(b, 9, t.RawData)
	}
	for _, d := range t.DoubleData {
		// unpacked on purpose: both encodings must decode
		b = protowire.AppendTag(b, 10, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(d))
	}
	return b
}

func encodeValueInfo(vi ValueInfoProto) []byte {
	var b []byte
	b = appendString(b, 1, vi.Name)
	if vi.Type == nil || vi.Type.TensorType == nil {
		return b
	}
	tt := vi.Type.TensorType
	var ttb []byte
	ttb = appendVarint(ttb, 1, uint64(tt.ElemType))
	if tt.Shape != nil {
		var sb []byte
		for _, d := range tt.Shape.Dims {
			var db []byte
			if d.DimParam != "" {
				db = appendString(db, 2, d.DimParam)
			} else {
				db = appendVarint(db, 1, uint64(d.DimValue))
			}
			sb = appendMessage(sb, 1, db)
		}
		ttb = appendMessage(ttb, 2, sb)
	}
	return appendMessage(b, 2, appendMessage(nil, 1, ttb))
}

// valueInfo declares a tensor value with a symbolic batch axis followed by
// dims.
func valueInfo(name string, elemType int32, dims ...int64) ValueInfoProto {
	shape := &TensorShapeProto{Dims: []DimensionProto{{DimParam: "batch"}}}
	for _, d := range dims {
		shape.Dims = append(shape.Dims, DimensionProto{DimValue: d})
	}
	return ValueInfoProto{Name: name, Type: &TypeProto{TensorType: &TensorTypeProto{ElemType: elemType, Shape: shape}}}
}

func intAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}
