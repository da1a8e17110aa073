package network

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/pdevine/tensor"

	"github.com/born-ml/dlnet/internal/graph"
	"github.com/born-ml/dlnet/internal/netspec"
	"github.com/born-ml/dlnet/internal/orderedmap"
	"github.com/born-ml/dlnet/internal/savedmodel"
)

// Defaults applied by NewHandle.
const (
	DefaultTag          = "serve"
	DefaultMethodName   = "dlnet/serving/predict"
	DefaultSignatureKey = "serving_default"
	Producer            = "dlnet"
)

// Handle owns a graph, the execution session run on it, and the signature
// binding names to the graph's input and output tensors.
type Handle struct {
	graph   *graph.Graph
	session *graph.Session
	inputs  *orderedmap.Map[string, *graph.Tensor]
	outputs *orderedmap.Map[string, *graph.Tensor]

	tags         []string
	methodName   string
	signatureKey string
	generation   string
	training     *netspec.TrainingConfig
	closed       bool
}

type handleOptions struct {
	tags         []string
	methodName   string
	signatureKey string
	generation   string
	training     *netspec.TrainingConfig
	session      *graph.Session
}

// Option configures NewHandle.
type Option func(*handleOptions)

// WithTags sets the export tags.
func WithTags(tags ...string) Option {
	return func(o *handleOptions) { o.tags = slices.Clone(tags) }
}

// WithMethodName sets the signature's invocation method.
func WithMethodName(name string) Option {
	return func(o *handleOptions) { o.methodName = name }
}

// WithSignatureKey sets the key the signature is exported under.
func WithSignatureKey(key string) Option {
	return func(o *handleOptions) { o.signatureKey = key }
}

// WithTrainingConfig attaches a training configuration.
func WithTrainingConfig(c *netspec.TrainingConfig) Option {
	return func(o *handleOptions) { o.training = c.Clone() }
}

// WithSession supplies the execution session. The handle takes ownership
// and closes it on Close.
func WithSession(s *graph.Session) Option {
	return func(o *handleOptions) { o.session = s }
}

// WithGeneration records the runtime generation the handle was loaded by.
func WithGeneration(name string) Option {
	return func(o *handleOptions) { o.generation = name }
}

// NewHandle binds inputs and outputs of g. The runtime context is g, the
// graph of a session passed with WithSession, or both when they agree.
// Every bound tensor must belong to that graph.
func NewHandle(inputs, outputs *orderedmap.Map[string, *graph.Tensor], g *graph.Graph, opts ...Option) (*Handle, error) {
	const op = "new handle"
	o := handleOptions{
		tags:         []string{DefaultTag},
		methodName:   DefaultMethodName,
		signatureKey: DefaultSignatureKey,
		generation:   GenerationLayers,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if inputs.Len() == 0 {
		return nil, invalid(op, ErrEmptyTensors, "no inputs")
	}
	if outputs.Len() == 0 {
		return nil, invalid(op, ErrEmptyTensors, "no outputs")
	}

	switch {
	case g == nil && o.session == nil:
		return nil, invalid(op, ErrMissingContext, "")
	case g == nil:
		g = o.session.Graph()
	case o.session != nil && o.session.Graph() != g:
		return nil, invalid(op, ErrConflictingContext, "session runs graph %q, handle binds graph %q", o.session.Graph().Name(), g.Name())
	}
	if o.session != nil && o.session.Closed() {
		return nil, invalid(op, ErrMissingContext, "session is closed")
	}

	for _, side := range []struct {
		kind string
		m    *orderedmap.Map[string, *graph.Tensor]
	}{{"input", inputs}, {"output", outputs}} {
		for name, t := range side.m.All() {
			if t == nil {
				return nil, invalid(op, ErrEmptyTensors, "%s %q is nil", side.kind, name)
			}
			if t.Graph() != g {
				return nil, invalid(op, ErrConflictingContext, "%s %q belongs to graph %q", side.kind, name, t.Graph().Name())
			}
		}
	}
	if o.signatureKey == "" {
		return nil, invalid(op, ErrEmptyTensors, "empty signature key")
	}

	return &Handle{
		graph:        g,
		session:      o.session,
		inputs:       clone(inputs),
		outputs:      clone(outputs),
		tags:         o.tags,
		methodName:   o.methodName,
		signatureKey: o.signatureKey,
		generation:   o.generation,
		training:     o.training,
	}, nil
}

func clone[V any](m *orderedmap.Map[string, V]) *orderedmap.Map[string, V] {
	out := orderedmap.New[string, V]()
	for k, v := range m.All() {
		out.Set(k, v)
	}
	return out
}

// Graph returns the handle's graph.
func (h *Handle) Graph() *graph.Graph { return h.graph }

// Inputs returns the signature inputs in declaration order.
func (h *Handle) Inputs() *orderedmap.Map[string, *graph.Tensor] { return clone(h.inputs) }

// Outputs returns the signature outputs in declaration order.
func (h *Handle) Outputs() *orderedmap.Map[string, *graph.Tensor] { return clone(h.outputs) }

// Tags returns the export tags.
func (h *Handle) Tags() []string { return slices.Clone(h.tags) }

// MethodName returns the signature's invocation method.
func (h *Handle) MethodName() string { return h.methodName }

// SignatureKey returns the key the signature is exported under.
func (h *Handle) SignatureKey() string { return h.signatureKey }

// Generation returns the runtime generation that produced the handle.
func (h *Handle) Generation() string { return h.generation }

// TrainingConfig returns a copy of the training configuration, or nil.
func (h *Handle) TrainingConfig() *netspec.TrainingConfig { return h.training.Clone() }

// Session returns the handle's execution session, opening it on first use.
func (h *Handle) Session() (*graph.Session, error) {
	if h.closed {
		return nil, ErrReleased
	}
	if h.session == nil {
		h.session = h.graph.NewSession()
	}
	return h.session, nil
}

// Close releases the execution session. Calling Close twice is a no-op.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.session == nil {
		return nil
	}
	return h.session.Close()
}

// Save writes the handle as a native export at path. The write is atomic
// and never replaces an existing path.
func (h *Handle) Save(path string) error {
	if h.closed {
		return ErrReleased
	}

	// weights are snapshotted through a session scoped to this call
	sess := h.graph.NewSession()
	defer sess.Close()
	vars, err := sess.Variables()
	if err != nil {
		return err
	}

	d := h.descriptor()
	if err := savedmodel.Write(path, d, vars); err != nil {
		return err
	}
	slog.Info("saved network", "path", path, "layers", len(d.MetaGraphs[0].Graph.Layers), "variables", len(vars))
	return nil
}

func (h *Handle) descriptor() *savedmodel.Descriptor {
	gd := savedmodel.GraphDef{Name: h.graph.Name()}
	for _, l := range h.graph.Layers() {
		ld := savedmodel.LayerDef{Name: l.Name(), Kind: l.Kind(), Attrs: l.Op().Attrs()}
		for _, n := range l.Nodes() {
			var nd savedmodel.NodeDef
			for _, t := range n.Inbound() {
				nd.Inbound = append(nd.Inbound, tensorRef(t))
			}
			ld.Nodes = append(ld.Nodes, nd)
		}
		gd.Layers = append(gd.Layers, ld)
	}

	sig := savedmodel.SignatureDef{
		MethodName: h.methodName,
		Inputs:     orderedmap.New[string, savedmodel.TensorInfo](),
		Outputs:    orderedmap.New[string, savedmodel.TensorInfo](),
	}
	for name, t := range h.inputs.All() {
		sig.Inputs.Set(name, tensorInfo(t))
	}
	for name, t := range h.outputs.All() {
		sig.Outputs.Set(name, tensorInfo(t))
	}
	sigs := orderedmap.New[string, savedmodel.SignatureDef]()
	sigs.Set(h.signatureKey, sig)

	return &savedmodel.Descriptor{
		Format:        savedmodel.Format,
		FormatVersion: savedmodel.FormatVersion,
		Producer:      Producer,
		MetaGraphs: []savedmodel.MetaGraph{{
			Tags:           slices.Clone(h.tags),
			Graph:          gd,
			SignatureDefs:  sigs,
			TrainingConfig: h.training.Clone(),
		}},
	}
}

func tensorRef(t *graph.Tensor) savedmodel.TensorRef {
	return savedmodel.TensorRef{Layer: t.Layer().Name(), Node: t.Node().Index(), Tensor: t.Index()}
}

func tensorInfo(t *graph.Tensor) savedmodel.TensorInfo {
	return savedmodel.TensorInfo{TensorRef: tensorRef(t), DType: graph.DTypeName(t.DType()), Shape: t.Shape()}
}

// loadLayers rebuilds a handle from a native export. Layer kinds are
// resolved through kinds.
func loadLayers(path string, kinds *graph.Registry) (*Handle, error) {
	exp, err := savedmodel.Read(path)
	if err != nil {
		return nil, err
	}
	mg := exp.MetaGraph()

	weights := make(map[string]map[string]*tensor.Dense)
	for name, v := range exp.Variables {
		layer, weight := savedmodel.SplitVariableName(name)
		if weights[layer] == nil {
			weights[layer] = make(map[string]*tensor.Dense)
		}
		weights[layer][weight] = v
	}

	g := graph.New(mg.Graph.Name)
	layers := make([]*graph.Layer, len(mg.Graph.Layers))
	for i, ld := range mg.Graph.Layers {
		op, err := kinds.Build(ld.Kind, graph.Attrs(ld.Attrs), weights[ld.Name])
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", ld.Name, err)
		}
		if layers[i], err = g.AddLayer(ld.Name, op); err != nil {
			return nil, err
		}
		delete(weights, ld.Name)
	}
	for layer := range weights {
		return nil, fmt.Errorf("variables for unknown layer %q", layer)
	}
	if err := rebuildNodes(mg.Graph, layers); err != nil {
		return nil, err
	}

	bind := func(infos *orderedmap.Map[string, savedmodel.TensorInfo]) (*orderedmap.Map[string, *graph.Tensor], error) {
		out := orderedmap.New[string, *graph.Tensor]()
		for name, info := range infos.All() {
			t, err := resolve(g, info.TensorRef)
			if err != nil {
				return nil, fmt.Errorf("signature %q: %w", name, err)
			}
			if graph.DTypeName(t.DType()) != info.DType || !slices.Equal(t.Shape(), info.Shape) {
				return nil, fmt.Errorf("signature %q declares %s%v, graph has %s", name, info.DType, info.Shape, t.Type())
			}
			out.Set(name, t)
		}
		return out, nil
	}
	inputs, err := bind(exp.Signature.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := bind(exp.Signature.Outputs)
	if err != nil {
		return nil, err
	}

	return NewHandle(inputs, outputs, g,
		WithTags(mg.Tags...),
		WithMethodName(exp.Signature.MethodName),
		WithSignatureKey(exp.SignatureKey),
		WithTrainingConfig(mg.TrainingConfig),
		WithGeneration(GenerationLayers),
	)
}

// rebuildNodes calls every layer once per recorded node, in an order where
// each node's inbound tensors already exist. Node indices are preserved.
func rebuildNodes(gd savedmodel.GraphDef, layers []*graph.Layer) error {
	next := make([]int, len(layers))
	remaining := 0
	for _, ld := range gd.Layers {
		remaining += len(ld.Nodes)
	}

	for remaining > 0 {
		progress := false
		for i, ld := range gd.Layers {
			for next[i] < len(ld.Nodes) {
				nd := ld.Nodes[next[i]]
				inbound, ok := lookupInbound(layers[i].Graph(), nd.Inbound)
				if !ok {
					break
				}
				if _, err := layers[i].Call(inbound...); err != nil {
					return err
				}
				next[i]++
				remaining--
				progress = true
			}
		}
		if !progress {
			return fmt.Errorf("graph %q: %d nodes have unresolvable inbound tensors", gd.Name, remaining)
		}
	}
	return nil
}

func lookupInbound(g *graph.Graph, refs []savedmodel.TensorRef) ([]*graph.Tensor, bool) {
	out := make([]*graph.Tensor, len(refs))
	for i, ref := range refs {
		t, err := resolve(g, ref)
		if err != nil {
			return nil, false
		}
		out[i] = t
	}
	return out, true
}

func resolve(g *graph.Graph, ref savedmodel.TensorRef) (*graph.Tensor, error) {
	l, ok := g.Layer(ref.Layer)
	if !ok {
		return nil, fmt.Errorf("unknown layer %q", ref.Layer)
	}
	nodes := l.Nodes()
	if ref.Node < 0 || ref.Node >= len(nodes) {
		return nil, fmt.Errorf("tensor %s: layer has %d nodes", ref, len(nodes))
	}
	outs := nodes[ref.Node].Outputs()
	if ref.Tensor < 0 || ref.Tensor >= len(outs) {
		return nil, fmt.Errorf("tensor %s: node has %d outputs", ref, len(outs))
	}
	return outs[ref.Tensor], nil
}
