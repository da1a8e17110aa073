package graph

import (
	"errors"
	"testing"

	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dense32(shape []int, data ...float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// buildMLP creates x[-1,2] -> dense(3, relu) -> dense_1(1).
func buildMLP(t *testing.T) (*Graph, *Tensor, *Tensor, *Tensor) {
	t.Helper()
	g := New("mlp")
	x, err := g.Input("x", tensor.Float32, -1, 2)
	require.NoError(t, err)

	d1, err := g.AddLayer("dense", NewDense(
		dense32([]int{2, 3}, 1, 0, -1, 0, 1, -1),
		dense32([]int{3}, 0, 0, 0.5),
		"relu"))
	require.NoError(t, err)
	h, err := d1.Apply(x)
	require.NoError(t, err)

	d2, err := g.AddLayer("dense_1", NewDense(dense32([]int{3, 1}, 1, 1, 1), nil, "linear"))
	require.NoError(t, err)
	y, err := d2.Apply(h)
	require.NoError(t, err)
	return g, x, h, y
}

func TestAddLayerValidation(t *testing.T) {
	g := New("g")
	_, err := g.AddLayer("", NewIdentity())
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = g.AddLayer("a/b", NewIdentity())
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = g.AddLayer("a:0", NewIdentity())
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = g.AddLayer("id", NewIdentity())
	require.NoError(t, err)
	_, err = g.AddLayer("id", NewIdentity())
	assert.ErrorIs(t, err, ErrDuplicateLayer)
}

func TestLayerCalledTwiceCreatesNodes(t *testing.T) {
	g := New("shared")
	a, err := g.Input("a", tensor.Float32, -1, 4)
	require.NoError(t, err)
	b, err := g.Input("b", tensor.Float32, -1, 4)
	require.NoError(t, err)

	shared, err := g.AddLayer("act", NewActivation("tanh"))
	require.NoError(t, err)
	ya, err := shared.Apply(a)
	require.NoError(t, err)
	yb, err := shared.Apply(b)
	require.NoError(t, err)

	require.Len(t, shared.Nodes(), 2)
	assert.Equal(t, "act_0:0", ya.Name())
	assert.Equal(t, "act_1:0", yb.Name())
	assert.Equal(t, 1, yb.Node().Index())
	assert.Same(t, b, yb.Node().Inbound()[0])
}

func TestInputLayerSingleNode(t *testing.T) {
	g := New("g")
	_, err := g.Input("x", tensor.Float32, -1, 1)
	require.NoError(t, err)
	l, ok := g.Layer("x")
	require.True(t, ok)
	_, err = l.Call()
	assert.ErrorIs(t, err, ErrInputReused)
}

func TestForeignTensorRejected(t *testing.T) {
	g1 := New("one")
	x, err := g1.Input("x", tensor.Float32, -1, 2)
	require.NoError(t, err)

	g2 := New("two")
	l, err := g2.AddLayer("id", NewIdentity())
	require.NoError(t, err)
	_, err = l.Apply(x)
	assert.ErrorIs(t, err, ErrForeignTensor)

	_, err = g2.Function(nil, []*Tensor{x})
	assert.ErrorIs(t, err, ErrForeignTensor)
}

func TestInferShapes(t *testing.T) {
	_, x, h, y := buildMLP(t)
	assert.Equal(t, []int{-1, 2}, x.Shape())
	assert.Equal(t, []int{-1, 3}, h.Shape())
	assert.Equal(t, []int{-1, 1}, y.Shape())
	assert.Equal(t, tensor.Float32, y.DType())
}

func TestInferRejectsBadKernel(t *testing.T) {
	g := New("g")
	x, err := g.Input("x", tensor.Float32, -1, 5)
	require.NoError(t, err)
	l, err := g.AddLayer("dense", NewDense(dense32([]int{2, 1}, 1, 1), nil, ""))
	require.NoError(t, err)
	_, err = l.Apply(x)
	assert.ErrorIs(t, err, ErrShape)
}

func TestSessionRun(t *testing.T) {
	g, x, h, y := buildMLP(t)

	fn, err := g.Function([]*Tensor{x}, []*Tensor{y, h})
	require.NoError(t, err)
	assert.Equal(t, 2, fn.Len())

	sess := g.NewSession()
	defer sess.Close()

	out, err := sess.Run(fn, map[*Tensor]*tensor.Dense{
		x: dense32([]int{2, 2}, 1, 2, -1, 3),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	// row 0: [1-0, 2, -1-2+0.5] relu -> [1, 2, 0]
	// row 1: [-1, 3, 1-3+0.5] relu -> [0, 3, 0]
	assert.Equal(t, []float32{1, 2, 0, 0, 3, 0}, out[1].Data())
	assert.Equal(t, []int{2, 3}, []int(out[1].Shape()))
	assert.Equal(t, []float32{3, 3}, out[0].Data())
	assert.Equal(t, []int{2, 1}, []int(out[0].Shape()))
}

func TestFunctionUnfedInput(t *testing.T) {
	g, _, _, y := buildMLP(t)
	_, err := g.Function(nil, []*Tensor{y})
	assert.ErrorIs(t, err, ErrUnfedInput)
}

func TestFunctionFeedIntermediate(t *testing.T) {
	g, _, h, y := buildMLP(t)
	fn, err := g.Function([]*Tensor{h}, []*Tensor{y})
	require.NoError(t, err)
	assert.Equal(t, 1, fn.Len())

	sess := g.NewSession()
	defer sess.Close()
	out, err := sess.Run(fn, map[*Tensor]*tensor.Dense{h: dense32([]int{1, 3}, 1, 2, 3)})
	require.NoError(t, err)
	assert.Equal(t, []float32{6}, out[0].Data())
}

func TestSessionRunFeedErrors(t *testing.T) {
	g, x, _, y := buildMLP(t)
	fn, err := g.Function([]*Tensor{x}, []*Tensor{y})
	require.NoError(t, err)

	sess := g.NewSession()
	_, err = sess.Run(fn, nil)
	assert.ErrorIs(t, err, ErrMissingFeed)

	_, err = sess.Run(fn, map[*Tensor]*tensor.Dense{x: dense32([]int{1, 3}, 1, 2, 3)})
	assert.ErrorIs(t, err, ErrFeedMismatch)

	wrongType := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float64{1, 2}))
	_, err = sess.Run(fn, map[*Tensor]*tensor.Dense{x: wrongType})
	assert.ErrorIs(t, err, ErrFeedMismatch)

	require.NoError(t, sess.Close())
	_, err = sess.Run(fn, map[*Tensor]*tensor.Dense{x: dense32([]int{1, 2}, 1, 2)})
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = sess.Variables()
	assert.ErrorIs(t, err, ErrSessionClosed)
}

type panicOp struct{ identityLayer }

func (panicOp) Forward([]*tensor.Dense) ([]*tensor.Dense, error) { panic("out of memory") }

type failOp struct{ identityLayer }

func (failOp) Forward([]*tensor.Dense) ([]*tensor.Dense, error) {
	return nil, errors.New("kernel launch failed")
}

func TestSessionRunRuntimeFailures(t *testing.T) {
	for name, op := range map[string]Op{"panic": panicOp{}, "error": failOp{}} {
		t.Run(name, func(t *testing.T) {
			g := New("g")
			x, err := g.Input("x", tensor.Float32, -1, 1)
			require.NoError(t, err)
			l, err := g.AddLayer("bad", op)
			require.NoError(t, err)
			y, err := l.Apply(x)
			require.NoError(t, err)

			fn, err := g.Function([]*Tensor{x}, []*Tensor{y})
			require.NoError(t, err)
			sess := g.NewSession()
			defer sess.Close()
			_, err = sess.Run(fn, map[*Tensor]*tensor.Dense{x: dense32([]int{1, 1}, 1)})
			assert.ErrorIs(t, err, ErrRuntime)
		})
	}
}

func TestSessionVariables(t *testing.T) {
	g, _, _, _ := buildMLP(t)
	sess := g.NewSession()
	defer sess.Close()

	vars, err := sess.Variables()
	require.NoError(t, err)
	assert.Len(t, vars, 3)
	require.Contains(t, vars, "dense/kernel")
	require.Contains(t, vars, "dense/bias")
	require.Contains(t, vars, "dense_1/kernel")

	// snapshots are copies
	vars["dense/bias"].Data().([]float32)[0] = 42
	again, err := sess.Variables()
	require.NoError(t, err)
	assert.Equal(t, float32(0), again["dense/bias"].Data().([]float32)[0])
}
