package onnx

// Decoded ONNX messages. Only the fields the importer reads are kept;
// everything else is skipped on the wire.

// ModelProto is the top-level message of an .onnx file.
type ModelProto struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	OpsetImport     []OperatorSetID
	MetadataProps   []StringStringEntry
}

// Metadata returns metadata_props as a map. Later keys win.
func (m *ModelProto) Metadata() map[string]string {
	meta := make(map[string]string, len(m.MetadataProps))
	for _, p := range m.MetadataProps {
		meta[p.Key] = p.Value
	}
	return meta
}

// Opset returns the default-domain opset version, or 0.
func (m *ModelProto) Opset() int64 {
	for _, o := range m.OpsetImport {
		if o.Domain == "" || o.Domain == "ai.onnx" {
			return o.Version
		}
	}
	return 0
}

// GraphProto is the computation graph.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Initializers []TensorProto
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	ValueInfo    []ValueInfoProto
}

// NodeProto is one operator application.
type NodeProto struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []AttributeProto
}

// Attr returns the attribute called name.
func (n *NodeProto) Attr(name string) (*AttributeProto, bool) {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i], true
		}
	}
	return nil, false
}

// AttrInt returns an INT attribute or def.
func (n *NodeProto) AttrInt(name string, def int64) int64 {
	if a, ok := n.Attr(name); ok {
		return a.I
	}
	return def
}

// AttrFloat returns a FLOAT attribute or def.
func (n *NodeProto) AttrFloat(name string, def float32) float32 {
	if a, ok := n.Attr(name); ok {
		return a.F
	}
	return def
}

// AttributeProto is a named operator attribute.
type AttributeProto struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	S       []byte
	T       *TensorProto
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// TensorProto is a constant tensor, usually an initializer.
type TensorProto struct {
	Name       string
	DataType   int32
	Dims       []int64
	RawData    []byte
	FloatData  []float32
	Int32Data  []int32
	Int64Data  []int64
	DoubleData []float64
	Uint64Data []uint64
}

// ValueInfoProto names a graph value and its type.
type ValueInfoProto struct {
	Name string
	Type *TypeProto
}

// TypeProto holds the tensor type of a value. Sequence and map types are
// not decoded.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto is an element type and an optional shape.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto lists dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto is a fixed size or a symbolic name.
type DimensionProto struct {
	DimValue int64
	DimParam string
}

// OperatorSetID identifies an opset.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry is one metadata pair.
type StringStringEntry struct {
	Key   string
	Value string
}

// TensorProto.DataType values.
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1
	TensorProtoUint8     = 2
	TensorProtoInt8      = 3
	TensorProtoUint16    = 4
	TensorProtoInt16     = 5
	TensorProtoInt32     = 6
	TensorProtoInt64     = 7
	TensorProtoString    = 8
	TensorProtoBool      = 9
	TensorProtoFloat16   = 10
	TensorProtoDouble    = 11
	TensorProtoUint32    = 12
	TensorProtoUint64    = 13
	TensorProtoBfloat16  = 16
)

// AttributeProto.Type values.
const (
	AttributeProtoFloat   = 1
	AttributeProtoInt     = 2
	AttributeProtoString  = 3
	AttributeProtoTensor  = 4
	AttributeProtoFloats  = 6
	AttributeProtoInts    = 7
	AttributeProtoStrings = 8
)
