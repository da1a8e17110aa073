package network

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pdevine/tensor"

	"github.com/born-ml/dlnet/internal/buffer"
	"github.com/born-ml/dlnet/internal/graph"
	"github.com/born-ml/dlnet/internal/netspec"
	"github.com/born-ml/dlnet/internal/orderedmap"
)

// Network is the capability a host uses to drive a model.
type Network interface {
	Spec() (*netspec.NetworkSpec, error)
	Execute(inputs map[string]buffer.Buffer, batchSize int, requested []string) (*orderedmap.Map[string, buffer.Buffer], error)
	Save(path string) error
	Close() error
}

var _ Network = (*Facade)(nil)

// State is the lifecycle position of a Facade.
type State int

const (
	StateLoaded State = iota
	StateSpecComputed
	StateExecuted
	StateSaved
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateSpecComputed:
		return "spec-computed"
	case StateExecuted:
		return "executed"
	case StateSaved:
		return "saved"
	case StateDiscarded:
		return "discarded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further calls are accepted.
func (s State) Terminal() bool { return s == StateSaved || s == StateDiscarded }

// Facade wraps exactly one Handle. It is not safe for concurrent use.
type Facade struct {
	handle   *Handle
	state    State
	maxBatch int

	// set together on the first Spec call
	spec    *netspec.NetworkSpec
	tensors map[string]*graph.Tensor
	skipped map[string]error

	whole *graph.Function
}

// FacadeOption configures NewFacade.
type FacadeOption func(*Facade)

// WithMaxBatchSize rejects Execute calls with more than n rows. Zero means
// no limit.
func WithMaxBatchSize(n int) FacadeOption {
	return func(f *Facade) { f.maxBatch = n }
}

// NewFacade wraps h. The facade owns h from here on.
func NewFacade(h *Handle, opts ...FacadeOption) (*Facade, error) {
	if h == nil {
		return nil, invalid("new facade", ErrMissingContext, "nil handle")
	}
	if h.closed {
		return nil, ErrReleased
	}
	f := &Facade{handle: h}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// State returns the lifecycle state.
func (f *Facade) State() State { return f.state }

// Handle returns the wrapped handle.
func (f *Facade) Handle() *Handle { return f.handle }

// Spec returns the network spec, extracting it on the first call.
func (f *Facade) Spec() (*netspec.NetworkSpec, error) {
	if f.state.Terminal() {
		return nil, ErrReleased
	}
	if f.spec != nil {
		return f.spec, nil
	}
	ex, err := extract(f.handle)
	if err != nil {
		return nil, err
	}
	f.spec, f.tensors, f.skipped = ex.spec, ex.tensors, ex.skipped
	f.state = StateSpecComputed
	return f.spec, nil
}

// Execute runs one forward pass. inputs maps input identifiers to buffers
// holding batchSize rows each. requested lists output or hidden
// identifiers; empty means every declared output. Results follow the
// requested order, with duplicates collapsed.
func (f *Facade) Execute(inputs map[string]buffer.Buffer, batchSize int, requested []string) (*orderedmap.Map[string, buffer.Buffer], error) {
	const op = "execute"
	spec, err := f.Spec()
	if err != nil {
		return nil, err
	}

	if batchSize < 1 {
		return nil, invalid(op, ErrBatchSize, "%d", batchSize)
	}
	if f.maxBatch > 0 && batchSize > f.maxBatch {
		return nil, invalid(op, ErrBatchSize, "%d exceeds limit %d", batchSize, f.maxBatch)
	}

	ids, err := f.resolveRequested(spec, requested)
	if err != nil {
		return nil, err
	}
	for id := range inputs {
		if s, ok := spec.Lookup(id); !ok || !isInput(spec, s) {
			return nil, invalid(op, ErrUnknownTensor, "%q is not an input", id)
		}
	}

	feeds := make(map[*graph.Tensor]*tensor.Dense, len(spec.Inputs()))
	feedTensors := make([]*graph.Tensor, 0, len(spec.Inputs()))
	for _, s := range spec.Inputs() {
		b, ok := inputs[s.ID()]
		if !ok || b == nil {
			return nil, invalid(op, ErrUnknownTensor, "missing input %q", s.ID())
		}
		t := f.tensors[s.ID()]
		arr, err := feed(s, b, batchSize, len(t.Shape()))
		if err != nil {
			return nil, err
		}
		feeds[t] = arr
		feedTensors = append(feedTensors, t)
	}

	fn, err := f.function(spec, feedTensors, ids)
	if err != nil {
		return nil, &InvocationError{Err: err}
	}
	sess, err := f.handle.Session()
	if err != nil {
		return nil, err
	}
	values, err := sess.Run(fn, feeds)
	if err != nil {
		return nil, &InvocationError{Err: err}
	}

	byTensor := make(map[*graph.Tensor]*tensor.Dense, len(values))
	for i, t := range fn.Fetches() {
		byTensor[t] = values[i]
	}
	results := orderedmap.New[string, buffer.Buffer]()
	for _, id := range ids {
		b, err := output(id, byTensor[f.tensors[id]])
		if err != nil {
			return nil, err
		}
		results.Set(id, b)
	}

	f.state = StateExecuted
	return results, nil
}

func isInput(spec *netspec.NetworkSpec, s *netspec.TensorSpec) bool {
	for _, in := range spec.Inputs() {
		if in.ID() == s.ID() {
			return true
		}
	}
	return false
}

// resolveRequested dedups requested ids and checks each names an output
// or hidden tensor.
func (f *Facade) resolveRequested(spec *netspec.NetworkSpec, requested []string) ([]string, error) {
	if len(requested) == 0 {
		ids := make([]string, 0, len(spec.Outputs()))
		for _, s := range spec.Outputs() {
			ids = append(ids, s.ID())
		}
		return ids, nil
	}
	seen := make(map[string]bool, len(requested))
	ids := make([]string, 0, len(requested))
	for _, id := range requested {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err, ok := f.skipped[id]; ok {
			return nil, err
		}
		s, ok := spec.Lookup(id)
		if !ok || isInput(spec, s) {
			return nil, invalid("execute", ErrUnknownTensor, "%q is not an output or hidden tensor", id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// function returns the cached whole-model function when every id is a
// declared output, otherwise a throwaway function fetching exactly ids.
func (f *Facade) function(spec *netspec.NetworkSpec, feeds []*graph.Tensor, ids []string) (*graph.Function, error) {
	allOutputs := true
	for _, id := range ids {
		if !spec.IsOutput(id) {
			allOutputs = false
			break
		}
	}

	if allOutputs {
		if f.whole == nil {
			fetches := make([]*graph.Tensor, 0, len(spec.Outputs()))
			for _, s := range spec.Outputs() {
				fetches = append(fetches, f.tensors[s.ID()])
			}
			fn, err := f.handle.graph.Function(feeds, fetches)
			if err != nil {
				return nil, err
			}
			f.whole = fn
		}
		return f.whole, nil
	}

	fetches := make([]*graph.Tensor, len(ids))
	for i, id := range ids {
		fetches[i] = f.tensors[id]
	}
	fn, err := f.handle.graph.Function(feeds, fetches)
	if err != nil {
		return nil, err
	}
	slog.Debug("built ad-hoc function", "fetches", ids, "nodes", fn.Len())
	return fn, nil
}

// feed converts b into an array of shape [batchSize] + s.Shape(), filling
// unknown dimensions from the buffer. Placeholders of rank < 2 get the
// padding ones removed again.
func feed(s *netspec.TensorSpec, b buffer.Buffer, batchSize, rank int) (*tensor.Dense, error) {
	const op = "execute"
	if b.ElementType() != s.ElementType() {
		return nil, invalid(op, ErrElementType, "input %q wants %s, got %s", s.ID(), s.ElementType(), b.ElementType())
	}
	shape, err := rowShape(s, b, batchSize)
	if err != nil {
		return nil, err
	}
	want := batchSize
	for _, d := range shape {
		want *= d
	}
	if b.Len() != want {
		return nil, invalid(op, ErrShapeMismatch, "input %q: %d values for %d x %v", s.ID(), b.Len(), batchSize, shape)
	}
	full := append([]int{batchSize}, shape...)
	if rank < 2 {
		full = full[:rank]
	}
	arr, err := buffer.ToArray(b, full...)
	if err != nil {
		return nil, invalid(op, ErrShapeMismatch, "input %q: %v", s.ID(), err)
	}
	return arr, nil
}

// rowShape resolves the declared row shape of s against buffer b. Unknown
// dimensions come from b's row shape when the ranks agree, otherwise a
// single unknown dimension is inferred from the element count.
func rowShape(s *netspec.TensorSpec, b buffer.Buffer, batchSize int) ([]int, error) {
	shape := s.Shape()
	if !s.HasUnknownDims() {
		return shape, nil
	}

	if row := b.Shape(); len(row) == len(shape) {
		fits := true
		for i, d := range shape {
			if d != netspec.Unknown && d != row[i] {
				fits = false
				break
			}
		}
		if fits {
			return row, nil
		}
	}

	unknown, known := -1, 1
	for i, d := range shape {
		if d != netspec.Unknown {
			known *= d
			continue
		}
		if unknown >= 0 {
			return nil, invalid("execute", ErrShapeMismatch, "input %q: cannot infer %v from a row shape of %v", s.ID(), shape, b.Shape())
		}
		unknown = i
	}
	perRow := b.Len() / batchSize
	if known == 0 || b.Len()%batchSize != 0 || perRow%known != 0 {
		return nil, invalid("execute", ErrShapeMismatch, "input %q: %d values do not fill %d x %v", s.ID(), b.Len(), batchSize, shape)
	}
	shape[unknown] = perRow / known
	return shape, nil
}

// output converts a fetched array into a buffer. Arrays of rank < 2 gain
// trailing ones so every buffer has a batch axis and a row shape.
func output(id string, arr *tensor.Dense) (buffer.Buffer, error) {
	if arr == nil {
		return nil, &InvocationError{Err: fmt.Errorf("no value produced for %s", id)}
	}
	if arr.Dims() < 2 {
		shape := []int(arr.Shape())
		for len(shape) < 2 {
			shape = append(shape, 1)
		}
		c, ok := arr.Clone().(*tensor.Dense)
		if !ok {
			return nil, &InvocationError{Err: fmt.Errorf("cannot copy %s", id)}
		}
		if err := c.Reshape(shape...); err != nil {
			return nil, &InvocationError{Err: err}
		}
		arr = c
	}
	b, err := buffer.FromArray(arr)
	if errors.Is(err, buffer.ErrUnsupportedType) {
		return nil, &UnsupportedTypeError{Tensor: id, DType: graph.DTypeName(arr.Dtype()), Err: err}
	} else if err != nil {
		return nil, &InvocationError{Err: err}
	}
	return b, nil
}

// Save writes the network as a native export and releases it. A failed
// save leaves the facade usable.
func (f *Facade) Save(path string) error {
	if f.state.Terminal() {
		return ErrReleased
	}
	if err := f.handle.Save(path); err != nil {
		return err
	}
	f.state = StateSaved
	f.release()
	return nil
}

// Close releases the network. Closing a released facade is a no-op.
func (f *Facade) Close() error {
	if f.state.Terminal() {
		return nil
	}
	f.state = StateDiscarded
	return f.release()
}

func (f *Facade) release() error {
	f.whole = nil
	return f.handle.Close()
}
