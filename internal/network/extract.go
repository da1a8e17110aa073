package network

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/born-ml/dlnet/internal/buffer"
	"github.com/born-ml/dlnet/internal/graph"
	"github.com/born-ml/dlnet/internal/netspec"
)

// Extract derives the NetworkSpec of h: declared inputs and outputs in
// signature order, then every other tensor of the graph as hidden.
// Hidden tensors whose element type has no host representation are left
// out of the spec.
func Extract(h *Handle) (*netspec.NetworkSpec, error) {
	ex, err := extract(h)
	if err != nil {
		return nil, err
	}
	return ex.spec, nil
}

// extraction is a spec plus the graph tensor behind every identifier.
type extraction struct {
	spec    *netspec.NetworkSpec
	tensors map[string]*graph.Tensor
	// skipped holds the error of every hidden tensor left out of spec.
	skipped map[string]error
}

func extract(h *Handle) (*extraction, error) {
	if err := checkLayout(h.graph); err != nil {
		return nil, err
	}

	byID := make(map[string]*graph.Tensor)
	skipped := make(map[string]error)
	declared := make(map[*graph.Tensor]bool)

	var inputs, outputs, hidden []*netspec.TensorSpec
	i := 0
	for name, t := range h.inputs.All() {
		s, err := tensorSpec(netspec.InputID(i), name, t)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, s)
		byID[s.ID()] = t
		declared[t] = true
		i++
	}
	i = 0
	for name, t := range h.outputs.All() {
		s, err := tensorSpec(netspec.OutputID(i), name, t)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, s)
		byID[s.ID()] = t
		declared[t] = true
		i++
	}

	for _, l := range h.graph.Layers() {
		for _, n := range l.Nodes() {
			for _, t := range n.Outputs() {
				if declared[t] {
					continue
				}
				id := netspec.HiddenID(l.Name(), n.Index(), t.Index())
				s, err := tensorSpec(id, t.Name(), t)
				var ute *UnsupportedTypeError
				if errors.As(err, &ute) {
					slog.Debug("skipping hidden tensor", "id", id, "dtype", ute.DType)
					skipped[id] = err
					continue
				}
				if err != nil {
					return nil, err
				}
				hidden = append(hidden, s)
				byID[s.ID()] = t
			}
		}
	}

	spec, err := netspec.NewNetworkSpec(inputs, hidden, outputs, h.TrainingConfig())
	if err != nil {
		return nil, err
	}
	slog.Debug("extracted network spec", "graph", h.graph.Name(),
		"inputs", len(inputs), "hidden", len(hidden), "outputs", len(outputs), "skipped", len(skipped))
	return &extraction{spec: spec, tensors: byID, skipped: skipped}, nil
}

// tensorSpec derives the spec of t. A static shape of rank < 2 is padded
// with trailing ones to rank 2 before the batch dimension is split off.
func tensorSpec(id, name string, t *graph.Tensor) (*netspec.TensorSpec, error) {
	elem, err := buffer.ElementTypeOf(t.DType())
	if err != nil {
		return nil, &UnsupportedTypeError{Tensor: id, DType: graph.DTypeName(t.DType()), Err: err}
	}
	batch, shape := splitBatch(t.Shape())
	return netspec.NewTensorSpec(id, name, batch, shape, elem, dimensionOrder(t.Layer()))
}

// splitBatch pads shape to rank 2 and returns the batch size and the
// remaining dimensions, mapping every unknown size to netspec.Unknown.
func splitBatch(shape []int) (int, []int) {
	for len(shape) < 2 {
		shape = append(shape, 1)
	}
	dims := make([]int, len(shape))
	for i, d := range shape {
		if d <= 0 {
			d = netspec.Unknown
		}
		dims[i] = d
	}
	return dims[0], dims[1:]
}

// isChannelsFirst reports whether a data_format value names a channel
// first layout.
func isChannelsFirst(format string) bool {
	return strings.HasPrefix(format, graph.ChannelsFirst) || strings.HasPrefix(format, "NC")
}

func dimensionOrder(l *graph.Layer) netspec.DimensionOrder {
	if df, ok := l.DataFormat(); ok && isChannelsFirst(df) {
		return netspec.ChannelsFirst
	}
	return netspec.ChannelsLast
}

// checkLayout rejects graphs whose layers declare both layouts.
func checkLayout(g *graph.Graph) error {
	var first, last string
	for _, l := range g.Layers() {
		df, ok := l.DataFormat()
		if !ok {
			continue
		}
		if isChannelsFirst(df) {
			if first == "" {
				first = l.Name()
			}
		} else if last == "" {
			last = l.Name()
		}
		if first != "" && last != "" {
			return &ConsistencyError{Layers: []string{first, last}, Err: ErrMixedLayout}
		}
	}
	return nil
}
