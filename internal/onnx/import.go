package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pdevine/tensor"

	"github.com/born-ml/dlnet/internal/graph"
	"github.com/born-ml/dlnet/internal/orderedmap"
)

// ModelFile is the file Load looks for when given a directory.
const ModelFile = "model.onnx"

// Metadata keys read from metadata_props.
const (
	MetaTags       = "tags"
	MetaMethodName = "method_name"
)

// Import errors.
var (
	ErrNoGraph        = errors.New("onnx model has no graph")
	ErrUnsupportedOp  = errors.New("unsupported onnx operator")
	ErrUnknownValue   = errors.New("onnx value is never produced")
	ErrCycle          = errors.New("onnx graph has a cycle")
	ErrNotInitializer = errors.New("operand must be an initializer")
)

// Model is an imported ONNX graph with its signature bindings. Input and
// output maps are keyed by ONNX value name in declaration order.
type Model struct {
	Graph      *graph.Graph
	Inputs     *orderedmap.Map[string, *graph.Tensor]
	Outputs    *orderedmap.Map[string, *graph.Tensor]
	Tags       []string
	MethodName string
	Producer   string
	Opset      int64
}

// Load imports the model at path, which is an .onnx file or a directory
// holding ModelFile.
func Load(path string) (*Model, error) {
	if fi, err := os.Stat(path); err != nil {
		return nil, err
	} else if fi.IsDir() {
		path = filepath.Join(path, ModelFile)
	}
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Import(proto)
}

// Detect reports whether path looks like an ONNX model: a *.onnx file or a
// directory holding ModelFile.
func Detect(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	if fi.IsDir() {
		_, err := os.Stat(filepath.Join(path, ModelFile))
		return err == nil
	}
	return strings.EqualFold(filepath.Ext(path), ".onnx")
}

// importer carries state while lowering nodes onto a graph.
type importer struct {
	g      *graph.Graph
	consts map[string]*tensor.Dense
	values map[string]*graph.Tensor
	names  map[string]int
}

// Import lowers an ONNX model onto a graph. Each supported node becomes
// one layer; initializers become layer weights.
func Import(m *ModelProto) (*Model, error) {
	gp := m.Graph
	if gp == nil {
		return nil, ErrNoGraph
	}
	name := gp.Name
	if name == "" {
		name = "onnx"
	}

	im := &importer{
		g:      graph.New(name),
		consts: make(map[string]*tensor.Dense, len(gp.Initializers)),
		values: make(map[string]*graph.Tensor),
		names:  make(map[string]int),
	}
	for i := range gp.Initializers {
		init := &gp.Initializers[i]
		d, err := Dense(init)
		if err != nil {
			return nil, err
		}
		im.consts[init.Name] = d
	}

	inputs := orderedmap.New[string, *graph.Tensor]()
	for _, vi := range gp.Inputs {
		if _, ok := im.consts[vi.Name]; ok {
			// older exporters list initializers as inputs
			continue
		}
		t, err := im.input(vi)
		if err != nil {
			return nil, err
		}
		inputs.Set(vi.Name, t)
	}

	nodes, err := sortNodes(gp.Nodes)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		if err := im.lower(&nodes[i], i); err != nil {
			return nil, err
		}
	}

	outputs := orderedmap.New[string, *graph.Tensor]()
	for _, vi := range gp.Outputs {
		t, ok := im.values[vi.Name]
		if !ok {
			return nil, fmt.Errorf("%w: graph output %q", ErrUnknownValue, vi.Name)
		}
		outputs.Set(vi.Name, t)
	}

	meta := m.Metadata()
	var tags []string
	for _, tag := range strings.Split(meta[MetaTags], ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	slog.Debug("imported onnx model", "graph", name, "nodes", len(nodes), "opset", m.Opset(), "producer", m.ProducerName)
	return &Model{
		Graph:      im.g,
		Inputs:     inputs,
		Outputs:    outputs,
		Tags:       tags,
		MethodName: meta[MetaMethodName],
		Producer:   m.ProducerName,
		Opset:      m.Opset(),
	}, nil
}

func (im *importer) input(vi ValueInfoProto) (*graph.Tensor, error) {
	if vi.Type == nil || vi.Type.TensorType == nil {
		return nil, fmt.Errorf("input %q: %w: not a tensor", vi.Name, ErrUnsupportedDType)
	}
	tt := vi.Type.TensorType
	dt, err := DType(tt.ElemType)
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", vi.Name, err)
	}
	var shape []int
	if tt.Shape != nil {
		for _, d := range tt.Shape.Dims {
			if d.DimValue > 0 {
				shape = append(shape, int(d.DimValue))
			} else {
				shape = append(shape, -1)
			}
		}
	}
	t, err := im.g.Input(im.layerName(vi.Name, "input"), dt, shape...)
	if err != nil {
		return nil, err
	}
	im.values[vi.Name] = t
	return t, nil
}

// layerName makes an ONNX name usable as a layer name: '/' and ':' are
// reserved by tensor identifiers, and names must be unique.
func (im *importer) layerName(name, fallback string) string {
	name = strings.NewReplacer("/", "_", ":", "_").Replace(strings.Trim(name, "/"))
	if name == "" {
		name = fallback
	}
	base := name
	for im.names[name] > 0 {
		name = fmt.Sprintf("%s_%d", base, im.names[base])
		im.names[base]++
	}
	im.names[name]++
	return name
}

// tensor resolves a node operand produced by the graph.
func (im *importer) tensor(node *NodeProto, name string) (*graph.Tensor, error) {
	if t, ok := im.values[name]; ok {
		return t, nil
	}
	if _, ok := im.consts[name]; ok {
		return nil, fmt.Errorf("%s %q: constant operand %q is not supported here", node.OpType, node.Name, name)
	}
	return nil, fmt.Errorf("%w: %q used by %s %q", ErrUnknownValue, name, node.OpType, node.Name)
}

// constant resolves a node operand that must be an initializer.
func (im *importer) constant(node *NodeProto, name string) (*tensor.Dense, error) {
	if d, ok := im.consts[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s %q operand %q", ErrNotInitializer, node.OpType, node.Name, name)
}

func (im *importer) lower(node *NodeProto, index int) error {
	if node.Domain != "" && node.Domain != "ai.onnx" {
		return fmt.Errorf("%w: %s in domain %q", ErrUnsupportedOp, node.OpType, node.Domain)
	}
	op, operands, err := im.translate(node)
	if err != nil {
		return err
	}

	inputs := make([]*graph.Tensor, len(operands))
	for i, name := range operands {
		if inputs[i], err = im.tensor(node, name); err != nil {
			return err
		}
	}

	fallback := fmt.Sprintf("%s_%d", strings.ToLower(node.OpType), index)
	layer, err := im.g.AddLayer(im.layerName(node.Name, fallback), op)
	if err != nil {
		return err
	}
	outs, err := layer.Call(inputs...)
	if err != nil {
		return fmt.Errorf("%s %q: %w", node.OpType, node.Name, err)
	}
	if len(outs) < len(node.Outputs) {
		return fmt.Errorf("%s %q: %d outputs declared, layer produces %d", node.OpType, node.Name, len(node.Outputs), len(outs))
	}
	for i, name := range node.Outputs {
		if name != "" {
			im.values[name] = outs[i]
		}
	}
	return nil
}

// translate maps a node to a layer op and the operands fed to it.
//
//nolint:gocyclo,cyclop // one case per operator
func (im *importer) translate(node *NodeProto) (graph.Op, []string, error) {
	in := node.Inputs
	need := func(n int) error {
		if len(in) < n {
			return fmt.Errorf("%s %q: want %d inputs, got %d", node.OpType, node.Name, n, len(in))
		}
		return nil
	}

	switch node.OpType {
	case "Gemm":
		if err := need(2); err != nil {
			return nil, nil, err
		}
		return im.gemm(node)

	case "MatMul":
		if err := need(2); err != nil {
			return nil, nil, err
		}
		kernel, err := im.constant(node, in[1])
		if err != nil {
			return nil, nil, err
		}
		if kernel.Dims() != 2 {
			return nil, nil, fmt.Errorf("MatMul %q: kernel rank %d, want 2", node.Name, kernel.Dims())
		}
		return graph.NewDense(kernel, nil, "linear"), in[:1], nil

	case "Add":
		if err := need(2); err != nil {
			return nil, nil, err
		}
		for i := range 2 {
			if bias, ok := im.consts[in[i]]; ok {
				b, err := vector(bias)
				if err != nil {
					return nil, nil, fmt.Errorf("Add %q: %w", node.Name, err)
				}
				return graph.NewBiasAdd(b), []string{in[1-i]}, nil
			}
		}
		return graph.NewAdd(), in[:2], nil

	case "Relu", "Sigmoid", "Tanh":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return graph.NewActivation(strings.ToLower(node.OpType)), in[:1], nil

	case "Softmax":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		x, err := im.tensor(node, in[0])
		if err != nil {
			return nil, nil, err
		}
		if axis := node.AttrInt("axis", -1); axis != -1 && int(axis) != len(x.Shape())-1 {
			return nil, nil, fmt.Errorf("%w: Softmax over axis %d", ErrUnsupportedOp, axis)
		}
		return graph.NewActivation("softmax"), in[:1], nil

	case "Identity":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return graph.NewIdentity(), in[:1], nil

	case "Concat":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return graph.NewConcatenate(int(node.AttrInt("axis", 1))), in, nil

	case "Flatten":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		if axis := node.AttrInt("axis", 1); axis != 1 {
			return nil, nil, fmt.Errorf("%w: Flatten at axis %d", ErrUnsupportedOp, axis)
		}
		return graph.NewFlatten(), in[:1], nil

	case "Reshape":
		if err := need(2); err != nil {
			return nil, nil, err
		}
		return im.reshape(node)

	case "GlobalAveragePool":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return graph.NewGlobalAveragePooling(graph.ChannelsFirst, true), in[:1], nil

	case "Cast":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		to, ok := node.Attr("to")
		if !ok {
			return nil, nil, fmt.Errorf("Cast %q: missing 'to'", node.Name)
		}
		dt, err := DType(int32(to.I)) //nolint:gosec // G115: enum value
		if err != nil {
			return nil, nil, fmt.Errorf("Cast %q: %w", node.Name, err)
		}
		return graph.NewCast(dt), in[:1], nil

	case "Split":
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return im.split(node)
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, node.OpType)
}

// gemm lowers Y = A * B' + C with alpha = beta = 1 and A not transposed.
func (im *importer) gemm(node *NodeProto) (graph.Op, []string, error) {
	if node.AttrInt("transA", 0) != 0 {
		return nil, nil, fmt.Errorf("%w: Gemm with transA", ErrUnsupportedOp)
	}
	if node.AttrFloat("alpha", 1) != 1 || node.AttrFloat("beta", 1) != 1 {
		return nil, nil, fmt.Errorf("%w: Gemm with alpha or beta other than 1", ErrUnsupportedOp)
	}
	kernel, err := im.constant(node, node.Inputs[1])
	if err != nil {
		return nil, nil, err
	}
	if kernel.Dims() != 2 {
		return nil, nil, fmt.Errorf("Gemm %q: kernel rank %d, want 2", node.Name, kernel.Dims())
	}
	if node.AttrInt("transB", 0) != 0 {
		kt := kernel.Clone().(*tensor.Dense)
		if err := kt.T(); err != nil {
			return nil, nil, err
		}
		if err := kt.Transpose(); err != nil {
			return nil, nil, err
		}
		kernel = kt
	}

	var bias *tensor.Dense
	if len(node.Inputs) > 2 && node.Inputs[2] != "" {
		c, err := im.constant(node, node.Inputs[2])
		if err != nil {
			return nil, nil, err
		}
		if bias, err = vector(c); err != nil {
			return nil, nil, fmt.Errorf("Gemm %q: %w", node.Name, err)
		}
	}
	return graph.NewDense(kernel, bias, "linear"), node.Inputs[:1], nil
}

// reshape lowers Reshape with a constant target whose leading entry keeps
// the batch axis.
func (im *importer) reshape(node *NodeProto) (graph.Op, []string, error) {
	target, err := im.constant(node, node.Inputs[1])
	if err != nil {
		return nil, nil, err
	}
	dims, ok := target.Data().([]int64)
	if !ok {
		return nil, nil, fmt.Errorf("Reshape %q: shape is %s, want int64", node.Name, target.Dtype())
	}
	if len(dims) == 0 || (dims[0] != 0 && dims[0] != -1) {
		return nil, nil, fmt.Errorf("%w: Reshape %q changes the batch axis (%v)", ErrUnsupportedOp, node.Name, dims)
	}
	x, err := im.tensor(node, node.Inputs[0])
	if err != nil {
		return nil, nil, err
	}
	in := x.Shape()
	out := make([]int, len(dims)-1)
	for i, d := range dims[1:] {
		switch {
		case d != 0:
			out[i] = int(d)
		case i+1 < len(in) && in[i+1] > 0:
			// 0 copies the input dimension
			out[i] = in[i+1]
		default:
			return nil, nil, fmt.Errorf("Reshape %q: cannot copy unknown dimension %d", node.Name, i+1)
		}
	}
	return graph.NewReshape(out...), node.Inputs[:1], nil
}

// split lowers Split into equal parts, one per declared output.
func (im *importer) split(node *NodeProto) (graph.Op, []string, error) {
	parts := len(node.Outputs)
	var sizes []int64
	if a, ok := node.Attr("split"); ok {
		sizes = a.Ints
	} else if len(node.Inputs) > 1 && node.Inputs[1] != "" {
		s, err := im.constant(node, node.Inputs[1])
		if err != nil {
			return nil, nil, err
		}
		v, ok := s.Data().([]int64)
		if !ok {
			return nil, nil, fmt.Errorf("Split %q: sizes are %s, want int64", node.Name, s.Dtype())
		}
		sizes = v
	}
	if len(sizes) > 0 && slices.ContainsFunc(sizes, func(s int64) bool { return s != sizes[0] }) {
		return nil, nil, fmt.Errorf("%w: Split %q into unequal parts %v", ErrUnsupportedOp, node.Name, sizes)
	}
	return graph.NewSplit(int(node.AttrInt("axis", 0)), parts), node.Inputs[:1], nil
}

// vector flattens a [n] or [1, n] constant to [n].
func vector(d *tensor.Dense) (*tensor.Dense, error) {
	shape := d.Shape()
	switch {
	case len(shape) == 1:
		return d, nil
	case len(shape) == 2 && shape[0] == 1:
		v := d.Clone().(*tensor.Dense)
		if err := v.Reshape(shape[1]); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("constant shape %v is not a row vector", shape)
}

// sortNodes orders nodes so producers precede consumers.
func sortNodes(nodes []NodeProto) ([]NodeProto, error) {
	producer := make(map[string]int)
	for i := range nodes {
		for _, out := range nodes[i].Outputs {
			producer[out] = i
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(nodes))
	sorted := make([]NodeProto, 0, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w at %s %q", ErrCycle, nodes[i].OpType, nodes[i].Name)
		}
		state[i] = visiting
		for _, in := range nodes[i].Inputs {
			if dep, ok := producer[in]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[i] = done
		sorted = append(sorted, nodes[i])
		return nil
	}
	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}
