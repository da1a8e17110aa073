package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pdevine/tensor"
)

// TensorType is the static type of a graph tensor. Shape includes the
// leading batch dimension; -1 marks a dimension fixed only at run time.
type TensorType struct {
	DType tensor.Dtype
	Shape []int
}

// String formats the type as "float32[-1 3]".
func (t TensorType) String() string {
	return fmt.Sprintf("%s%v", DTypeName(t.DType), t.Shape)
}

// compatible reports whether a concrete shape fits the static one.
func (t TensorType) compatible(shape []int) bool {
	if len(shape) != len(t.Shape) {
		return false
	}
	for i, d := range t.Shape {
		if d >= 0 && d != shape[i] {
			return false
		}
	}
	return true
}

// Graph is a named collection of layers.
type Graph struct {
	name   string
	layers []*Layer
	byName map[string]*Layer
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{name: name, byName: make(map[string]*Layer)}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Layers returns the layers in insertion order.
func (g *Graph) Layers() []*Layer { return slices.Clone(g.layers) }

// Layer returns the layer with the given name.
func (g *Graph) Layer(name string) (*Layer, bool) {
	l, ok := g.byName[name]
	return l, ok
}

// AddLayer registers op under name. Names must be unique within the graph
// and may not contain '/' or ':', which separate weight and tensor names.
func (g *Graph) AddLayer(name string, op Op) (*Layer, error) {
	if name == "" || strings.ContainsAny(name, "/:") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if op == nil {
		return nil, fmt.Errorf("layer %q: nil op", name)
	}
	if _, dup := g.byName[name]; dup {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateLayer, name)
	}
	l := &Layer{graph: g, name: name, op: op}
	g.layers = append(g.layers, l)
	g.byName[name] = l
	return l, nil
}

// Input adds an input layer and returns its placeholder tensor. The shape
// includes the batch dimension.
func (g *Graph) Input(name string, dtype tensor.Dtype, shape ...int) (*Tensor, error) {
	l, err := g.AddLayer(name, NewInputLayer(dtype, shape...))
	if err != nil {
		return nil, err
	}
	return l.Apply()
}

// Layer is a named operation. Each call creates a new Node.
type Layer struct {
	graph *Graph
	name  string
	op    Op
	nodes []*Node
}

// Name returns the layer name.
func (l *Layer) Name() string { return l.name }

// Graph returns the owning graph.
func (l *Layer) Graph() *Graph { return l.graph }

// Op returns the layer's operation.
func (l *Layer) Op() Op { return l.op }

// Kind returns the registry kind of the layer's operation.
func (l *Layer) Kind() string { return l.op.Kind() }

// Nodes returns the node instances in call order.
func (l *Layer) Nodes() []*Node { return slices.Clone(l.nodes) }

// DataFormat returns the layer's declared data layout, if any.
func (l *Layer) DataFormat() (string, bool) {
	s, ok := l.op.Attrs()["data_format"].(string)
	return s, ok && s != ""
}

// Call applies the layer to inputs, creating a new node instance.
func (l *Layer) Call(inputs ...*Tensor) ([]*Tensor, error) {
	if _, ok := l.op.(*inputLayer); ok && len(l.nodes) > 0 {
		return nil, fmt.Errorf("layer %q: %w", l.name, ErrInputReused)
	}

	types := make([]TensorType, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("layer %q: input %d is nil", l.name, i)
		}
		if in.Graph() != l.graph {
			return nil, fmt.Errorf("layer %q: input %s: %w", l.name, in.Name(), ErrForeignTensor)
		}
		types[i] = in.Type()
	}

	outTypes, err := l.op.Infer(types)
	if err != nil {
		return nil, fmt.Errorf("layer %q (%s): %w", l.name, l.op.Kind(), err)
	}

	n := &Node{layer: l, index: len(l.nodes), inbound: slices.Clone(inputs)}
	n.outputs = make([]*Tensor, len(outTypes))
	for i, typ := range outTypes {
		n.outputs[i] = &Tensor{node: n, index: i, typ: TensorType{DType: typ.DType, Shape: slices.Clone(typ.Shape)}}
	}
	l.nodes = append(l.nodes, n)
	return slices.Clone(n.outputs), nil
}

// Apply calls the layer and returns its single output.
func (l *Layer) Apply(inputs ...*Tensor) (*Tensor, error) {
	outs, err := l.Call(inputs...)
	if err != nil {
		return nil, err
	}
	if len(outs) != 1 {
		return nil, fmt.Errorf("layer %q produces %d outputs, use Call", l.name, len(outs))
	}
	return outs[0], nil
}

// Node is one application of a layer.
type Node struct {
	layer   *Layer
	index   int
	inbound []*Tensor
	outputs []*Tensor
}

// Layer returns the layer this node instantiates.
func (n *Node) Layer() *Layer { return n.layer }

// Index returns the node's position among its layer's nodes.
func (n *Node) Index() int { return n.index }

// Inbound returns the node's input tensors.
func (n *Node) Inbound() []*Tensor { return slices.Clone(n.inbound) }

// Outputs returns the node's output tensors.
func (n *Node) Outputs() []*Tensor { return slices.Clone(n.outputs) }

// Tensor is a symbolic value produced by a node.
type Tensor struct {
	node  *Node
	index int
	typ   TensorType
}

// Node returns the producing node.
func (t *Tensor) Node() *Node { return t.node }

// Layer returns the producing layer.
func (t *Tensor) Layer() *Layer { return t.node.layer }

// Graph returns the owning graph.
func (t *Tensor) Graph() *Graph { return t.node.layer.graph }

// Index returns the output position within the producing node.
func (t *Tensor) Index() int { return t.index }

// Type returns a copy of the static type.
func (t *Tensor) Type() TensorType {
	return TensorType{DType: t.typ.DType, Shape: slices.Clone(t.typ.Shape)}
}

// DType returns the element dtype.
func (t *Tensor) DType() tensor.Dtype { return t.typ.DType }

// Shape returns a copy of the static shape, batch first.
func (t *Tensor) Shape() []int { return slices.Clone(t.typ.Shape) }

// Name returns "<layer>_<node>:<index>".
func (t *Tensor) Name() string {
	return fmt.Sprintf("%s_%d:%d", t.node.layer.name, t.node.index, t.index)
}

// IsPlaceholder reports whether t is produced by an input layer.
func (t *Tensor) IsPlaceholder() bool {
	_, ok := t.node.layer.op.(*inputLayer)
	return ok
}
