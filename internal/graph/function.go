package graph

import (
	"fmt"
	"slices"
)

// Function is a compiled execution plan from a fixed set of fed tensors to
// a fixed set of fetched tensors.
type Function struct {
	graph   *Graph
	feeds   []*Tensor
	fetches []*Tensor
	plan    []*Node
}

// Function compiles a plan computing fetches from feeds. Every placeholder
// a fetch depends on must be fed. Feeds that no fetch needs are ignored.
func (g *Graph) Function(feeds, fetches []*Tensor) (*Function, error) {
	if len(fetches) == 0 {
		return nil, fmt.Errorf("function needs at least one fetch")
	}
	fed := make(map[*Tensor]bool, len(feeds))
	for _, t := range feeds {
		if t == nil {
			return nil, fmt.Errorf("nil feed tensor")
		}
		if t.Graph() != g {
			return nil, fmt.Errorf("feed %s: %w", t.Name(), ErrForeignTensor)
		}
		fed[t] = true
	}

	fn := &Function{graph: g, fetches: slices.Clone(fetches)}
	visited := make(map[*Node]bool)
	needed := make(map[*Tensor]bool)

	var visit func(t *Tensor) error
	visit = func(t *Tensor) error {
		if fed[t] {
			if !needed[t] {
				needed[t] = true
				fn.feeds = append(fn.feeds, t)
			}
			return nil
		}
		if t.IsPlaceholder() {
			return fmt.Errorf("%w: %s", ErrUnfedInput, t.Name())
		}
		n := t.node
		if visited[n] {
			return nil
		}
		visited[n] = true
		for _, in := range n.inbound {
			if err := visit(in); err != nil {
				return err
			}
		}
		fn.plan = append(fn.plan, n)
		return nil
	}

	for _, t := range fetches {
		if t == nil {
			return nil, fmt.Errorf("nil fetch tensor")
		}
		if t.Graph() != g {
			return nil, fmt.Errorf("fetch %s: %w", t.Name(), ErrForeignTensor)
		}
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return fn, nil
}

// Graph returns the graph the function runs on.
func (f *Function) Graph() *Graph { return f.graph }

// Feeds returns the fed tensors the plan reads.
func (f *Function) Feeds() []*Tensor { return slices.Clone(f.feeds) }

// Fetches returns the fetched tensors in result order.
func (f *Function) Fetches() []*Tensor { return slices.Clone(f.fetches) }

// Len returns the number of nodes the plan executes.
func (f *Function) Len() int { return len(f.plan) }
