package graph

import (
	"encoding/json"
	"testing"

	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runOne applies op to a single fed input and returns every output.
func runOne(t *testing.T, op Op, in *tensor.Dense, staticShape ...int) []*tensor.Dense {
	t.Helper()
	g := New("g")
	x, err := g.Input("x", in.Dtype(), staticShape...)
	require.NoError(t, err)
	l, err := g.AddLayer("op", op)
	require.NoError(t, err)
	outs, err := l.Call(x)
	require.NoError(t, err)

	fn, err := g.Function([]*Tensor{x}, outs)
	require.NoError(t, err)
	sess := g.NewSession()
	defer sess.Close()
	res, err := sess.Run(fn, map[*Tensor]*tensor.Dense{x: in})
	require.NoError(t, err)
	for i, r := range res {
		assert.True(t, outs[i].typ.compatible(r.Shape()), "output %d shape %v vs static %v", i, r.Shape(), outs[i].Shape())
	}
	return res
}

func TestActivations(t *testing.T) {
	in := dense32([]int{1, 3}, -1, 0, 2)

	relu := runOne(t, NewActivation("relu"), in, -1, 3)
	assert.Equal(t, []float32{0, 0, 2}, relu[0].Data())

	sm := runOne(t, NewActivation("softmax"), dense32([]int{2, 2}, 0, 0, 1, 1), -1, 2)
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 0.5}, sm[0].Data(), 1e-6)

	sig := runOne(t, NewActivation("sigmoid"), dense32([]int{1, 1}, 0), -1, 1)
	assert.InDeltaSlice(t, []float32{0.5}, sig[0].Data(), 1e-6)

	// the input must be left untouched
	assert.Equal(t, []float32{-1, 0, 2}, in.Data())
}

func TestUnknownActivation(t *testing.T) {
	g := New("g")
	x, err := g.Input("x", tensor.Float32, -1, 1)
	require.NoError(t, err)
	l, err := g.AddLayer("act", NewActivation("swish"))
	require.NoError(t, err)
	_, err = l.Apply(x)
	assert.Error(t, err)
}

func TestAddAndConcatenate(t *testing.T) {
	g := New("g")
	a, err := g.Input("a", tensor.Float32, -1, 2)
	require.NoError(t, err)
	b, err := g.Input("b", tensor.Float32, -1, 2)
	require.NoError(t, err)

	add, err := g.AddLayer("add", NewAdd())
	require.NoError(t, err)
	sum, err := add.Apply(a, b)
	require.NoError(t, err)

	cat, err := g.AddLayer("concatenate", NewConcatenate(-1))
	require.NoError(t, err)
	joined, err := cat.Apply(a, sum)
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 4}, joined.Shape())

	fn, err := g.Function([]*Tensor{a, b}, []*Tensor{joined})
	require.NoError(t, err)
	sess := g.NewSession()
	defer sess.Close()
	out, err := sess.Run(fn, map[*Tensor]*tensor.Dense{
		a: dense32([]int{1, 2}, 1, 2),
		b: dense32([]int{1, 2}, 10, 20),
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 11, 22}, out[0].Data())
}

func TestConcatenateRejectsBatchAxis(t *testing.T) {
	g := New("g")
	a, err := g.Input("a", tensor.Float32, -1, 2)
	require.NoError(t, err)
	cat, err := g.AddLayer("cat", NewConcatenate(0))
	require.NoError(t, err)
	_, err = cat.Apply(a, a)
	assert.ErrorIs(t, err, ErrShape)
}

func TestFlattenAndReshape(t *testing.T) {
	in := dense32([]int{2, 2, 3}, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)

	flat := runOne(t, NewFlatten(), in, -1, 2, 3)
	assert.Equal(t, []int{2, 6}, []int(flat[0].Shape()))

	re := runOne(t, NewReshape(3, -1), in, -1, 2, 3)
	assert.Equal(t, []int{2, 3, 2}, []int(re[0].Shape()))
	assert.Equal(t, in.Data(), re[0].Data())
	assert.Equal(t, []int{2, 2, 3}, []int(in.Shape()))
}

func TestGlobalAveragePooling(t *testing.T) {
	// two spatial positions, two channels
	last := dense32([]int{1, 2, 2}, 1, 10, 3, 30)
	out := runOne(t, NewGlobalAveragePooling(ChannelsLast, false), last, -1, 2, 2)
	assert.Equal(t, []float32{2, 20}, out[0].Data())

	first := dense32([]int{1, 2, 2}, 1, 3, 10, 30)
	out = runOne(t, NewGlobalAveragePooling(ChannelsFirst, true), first, -1, 2, 2)
	assert.Equal(t, []float32{2, 20}, out[0].Data())
	assert.Equal(t, []int{1, 2, 1}, []int(out[0].Shape()))
}

func TestCast(t *testing.T) {
	out := runOne(t, NewCast(tensor.Int32), dense32([]int{1, 3}, 1.7, -2.2, 0), -1, 3)
	assert.Equal(t, []int32{1, -2, 0}, out[0].Data())

	out = runOne(t, NewCast(tensor.Bool), dense32([]int{1, 2}, 0, 3), -1, 2)
	assert.Equal(t, []bool{false, true}, out[0].Data())

	out = runOne(t, NewCast(tensor.Uint16), dense32([]int{1, 1}, 7), -1, 1)
	assert.Equal(t, tensor.Uint16, out[0].Dtype())
}

func TestSplit(t *testing.T) {
	in := dense32([]int{2, 4}, 1, 2, 3, 4, 5, 6, 7, 8)
	outs := runOne(t, NewSplit(-1, 2), in, -1, 4)
	require.Len(t, outs, 2)
	assert.Equal(t, []float32{1, 2, 5, 6}, outs[0].Data())
	assert.Equal(t, []float32{3, 4, 7, 8}, outs[1].Data())

	single := runOne(t, NewSplit(1, 4), in, -1, 4)
	require.Len(t, single, 4)
	assert.Equal(t, []int{2, 1}, []int(single[3].Shape()))
	assert.Equal(t, []float32{4, 8}, single[3].Data())
}

func TestBiasAdd(t *testing.T) {
	out := runOne(t, NewBiasAdd(dense32([]int{2}, 1, -1)), dense32([]int{2, 2}, 0, 0, 1, 1), -1, 2)
	assert.Equal(t, []float32{1, -1, 2, 0}, out[0].Data())
}

func TestRegistryRebuildsFromJSONAttrs(t *testing.T) {
	r := NewRegistry()
	ops := []Op{
		NewInputLayer(tensor.Float64, -1, 3),
		NewDense(dense32([]int{2, 3}, 1, 2, 3, 4, 5, 6), nil, "softmax"),
		NewBiasAdd(dense32([]int{2}, 1, 2)),
		NewActivation("tanh"),
		NewAdd(),
		NewConcatenate(2),
		NewFlatten(),
		NewReshape(2, -1),
		NewGlobalAveragePooling(ChannelsFirst, true),
		NewCast(tensor.Int8),
		NewIdentity(),
		NewSplit(-1, 3),
	}
	for _, op := range ops {
		t.Run(op.Kind(), func(t *testing.T) {
			data, err := json.Marshal(op.Attrs())
			require.NoError(t, err)
			var attrs Attrs
			require.NoError(t, json.Unmarshal(data, &attrs))

			weights := make(map[string]*tensor.Dense)
			for _, w := range op.Weights() {
				weights[w.Name] = w.Value
			}
			rebuilt, err := r.Build(op.Kind(), attrs, weights)
			require.NoError(t, err)
			assert.Equal(t, op.Kind(), rebuilt.Kind())

			again, err := json.Marshal(rebuilt.Attrs())
			require.NoError(t, err)
			assert.JSONEq(t, string(data), string(again))
		})
	}
}

func TestRegistryUnknownAndDuplicate(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("Conv3D", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)

	assert.Error(t, r.Register(KindDense, buildDense))
	require.NoError(t, r.Register("Custom", buildIdentity))
	assert.Contains(t, r.Kinds(), "Custom")
}

func TestDTypeNames(t *testing.T) {
	for _, name := range DTypeNames() {
		dt, err := ParseDType(name)
		require.NoError(t, err)
		assert.Equal(t, name, DTypeName(dt))
	}
	_, err := ParseDType("complex64")
	assert.ErrorIs(t, err, ErrDType)
}
