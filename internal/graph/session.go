package graph

import (
	"fmt"
	"log/slog"

	"github.com/pdevine/tensor"

	"github.com/born-ml/dlnet/internal/logutil"
)

// Session is the execution context of a graph. It must be closed to
// release its resources.
type Session struct {
	graph  *Graph
	closed bool
}

// NewSession opens a session on g.
func (g *Graph) NewSession() *Session {
	return &Session{graph: g}
}

// Graph returns the session's graph.
func (s *Session) Graph() *Graph { return s.graph }

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed }

// Close releases the session. Closing twice is a no-op.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

// Run executes fn. feeds must hold a value for every tensor in fn.Feeds();
// values are checked against the static dtype, rank and known dimensions.
// Results are returned in fn.Fetches() order.
func (s *Session) Run(fn *Function, feeds map[*Tensor]*tensor.Dense) (out []*tensor.Dense, err error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if fn.graph != s.graph {
		return nil, fmt.Errorf("function: %w", ErrForeignTensor)
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrRuntime, r)
		}
	}()

	values := make(map[*Tensor]*tensor.Dense, len(fn.feeds)+len(fn.plan))
	for _, t := range fn.feeds {
		v, ok := feeds[t]
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingFeed, t.Name())
		}
		if v.Dtype() != t.typ.DType || !t.typ.compatible(v.Shape()) {
			return nil, fmt.Errorf("%w: %s expects %s, got %s%v",
				ErrFeedMismatch, t.Name(), t.typ, DTypeName(v.Dtype()), v.Shape())
		}
		values[t] = v
	}

	for _, n := range fn.plan {
		ins := make([]*tensor.Dense, len(n.inbound))
		for i, t := range n.inbound {
			ins[i] = values[t]
		}
		logutil.Trace("run node", "layer", n.layer.name, "node", n.index, "kind", n.layer.op.Kind())
		res, err := n.layer.op.Forward(ins)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %q node %d: %w", ErrRuntime, n.layer.name, n.index, err)
		}
		if len(res) != len(n.outputs) {
			return nil, fmt.Errorf("%w: layer %q produced %d outputs, want %d", ErrRuntime, n.layer.name, len(res), len(n.outputs))
		}
		for i, t := range n.outputs {
			if res[i].Dtype() != t.typ.DType {
				return nil, fmt.Errorf("%w: %s produced %s, want %s", ErrRuntime, t.Name(), DTypeName(res[i].Dtype()), DTypeName(t.typ.DType))
			}
			values[t] = res[i]
		}
	}

	out = make([]*tensor.Dense, len(fn.fetches))
	for i, t := range fn.fetches {
		out[i] = values[t]
	}
	slog.Debug("session run complete", "graph", s.graph.name, "nodes", len(fn.plan))
	return out, nil
}

// Variables snapshots every layer weight, keyed "layer/weight".
func (s *Session) Variables() (map[string]*tensor.Dense, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	vars := make(map[string]*tensor.Dense)
	for _, l := range s.graph.layers {
		for _, w := range l.op.Weights() {
			vars[l.name+"/"+w.Name] = cloneDense(w.Value)
		}
	}
	return vars, nil
}
