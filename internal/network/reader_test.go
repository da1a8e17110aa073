package network

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/dlnet/internal/buffer"
	"github.com/born-ml/dlnet/internal/graph"
	"github.com/born-ml/dlnet/internal/netspec"
	"github.com/born-ml/dlnet/internal/savedmodel"
)

// specJSON renders a spec as generic JSON for structural comparison.
func specJSON(t *testing.T, s *netspec.NetworkSpec) any {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	var v any
	require.NoError(t, json.Unmarshal(b, &v))
	return v
}

func TestSaveReadRoundTrip(t *testing.T) {
	tc := &netspec.TrainingConfig{Optimizer: "adam", Loss: "mse"}
	h := mlpHandle(t, WithTags("serve", "test"), WithSignatureKey("scores"), WithTrainingConfig(tc))
	f, err := NewFacade(h)
	require.NoError(t, err)

	in := map[string]buffer.Buffer{"input_0": f32(t, []float32{1, 2, 3, 1}, 2)}
	before, err := f.Execute(in, 2, []string{"output_0", "hidden/dense_0:0"})
	require.NoError(t, err)
	wantSpec, err := f.Spec()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "mlp")
	require.NoError(t, f.Save(path))
	assert.Equal(t, StateSaved, f.State())
	_, err = h.Session()
	assert.ErrorIs(t, err, ErrReleased)

	loaded, err := NewReader(nil).Open(path)
	require.NoError(t, err)
	defer loaded.Close()

	lh := loaded.Handle()
	assert.Equal(t, GenerationLayers, lh.Generation())
	assert.Equal(t, []string{"serve", "test"}, lh.Tags())
	assert.Equal(t, "scores", lh.SignatureKey())
	assert.Equal(t, DefaultMethodName, lh.MethodName())
	assert.Equal(t, "mlp", lh.Graph().Name())

	gotSpec, err := loaded.Spec()
	require.NoError(t, err)
	if diff := cmp.Diff(specJSON(t, wantSpec), specJSON(t, gotSpec)); diff != "" {
		t.Errorf("spec mismatch (-want +got):\n%s", diff)
	}

	after, err := loaded.Execute(in, 2, []string{"output_0", "hidden/dense_0:0"})
	require.NoError(t, err)
	for _, id := range []string{"output_0", "hidden/dense_0:0"} {
		a, _ := before.Get(id)
		b, _ := after.Get(id)
		assert.Equal(t, data32(t, a), data32(t, b), id)
	}
}

func TestSaveFailureKeepsFacade(t *testing.T) {
	f := scaleFacade(t)
	path := t.TempDir()
	err := f.Save(path)
	assert.ErrorIs(t, err, savedmodel.ErrExists)
	assert.Equal(t, StateLoaded, f.State())

	_, err = f.Spec()
	require.NoError(t, err)
}

func TestSaveReadSharedLayer(t *testing.T) {
	// the shared layer is added before the inputs it is applied to
	g := graph.New("shared")
	act, err := g.AddLayer("act", graph.NewActivation("relu"))
	require.NoError(t, err)
	a, err := g.Input("a", tensor.Float32, -1, 2)
	require.NoError(t, err)
	b, err := g.Input("b", tensor.Float32, -1, 2)
	require.NoError(t, err)
	ya, err := act.Apply(a)
	require.NoError(t, err)
	yb, err := act.Apply(b)
	require.NoError(t, err)
	sum, err := g.AddLayer("sum", graph.NewAdd())
	require.NoError(t, err)
	y, err := sum.Apply(ya, yb)
	require.NoError(t, err)

	h, err := NewHandle(bind("a", a, "b", b), bind("y", y), g)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "shared")
	require.NoError(t, h.Save(path))
	require.NoError(t, h.Close())

	f, err := NewReader(nil).Open(path)
	require.NoError(t, err)
	defer f.Close()

	l, ok := f.Handle().Graph().Layer("act")
	require.True(t, ok)
	nodes := l.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].Inbound()[0].Layer().Name())
	assert.Equal(t, "b", nodes[1].Inbound()[0].Layer().Name())

	spec, err := f.Spec()
	require.NoError(t, err)
	assert.Equal(t, []string{"hidden/act_0:0", "hidden/act_1:0"}, ids(spec.Hidden()))

	out, err := f.Execute(map[string]buffer.Buffer{
		"input_0": f32(t, []float32{-1, 2}, 2),
		"input_1": f32(t, []float32{3, -4}, 2),
	}, 1, nil)
	require.NoError(t, err)
	y0, _ := out.Get("output_0")
	assert.Equal(t, []float32{3, 2}, data32(t, y0))
}

// editDescriptor saves the mlp network and rewrites its descriptor JSON.
func editDescriptor(t *testing.T, edit func(d map[string]any)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "m")
	h := mlpHandle(t)
	require.NoError(t, h.Save(path))
	require.NoError(t, h.Close())

	file := filepath.Join(path, savedmodel.DescriptorFile)
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	var d map[string]any
	require.NoError(t, json.Unmarshal(raw, &d))
	edit(d)
	raw, err = json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, raw, 0o644))
	return path
}

func TestReadFormatErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		want error
	}{
		{"missing path", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }, nil},
		{"empty directory", func(t *testing.T) string { return t.TempDir() }, savedmodel.ErrNoDescriptor},
		{"two graphs", func(t *testing.T) string {
			return editDescriptor(t, func(d map[string]any) {
				mgs := d["meta_graphs"].([]any)
				d["meta_graphs"] = append(mgs, mgs[0])
			})
		}, savedmodel.ErrMultipleGraphs},
		{"two signatures", func(t *testing.T) string {
			return editDescriptor(t, func(d map[string]any) {
				sigs := d["meta_graphs"].([]any)[0].(map[string]any)["signature_defs"].(map[string]any)
				sigs["other"] = sigs[DefaultSignatureKey]
			})
		}, savedmodel.ErrMultipleSignatures},
		{"no signature", func(t *testing.T) string {
			return editDescriptor(t, func(d map[string]any) {
				d["meta_graphs"].([]any)[0].(map[string]any)["signature_defs"] = map[string]any{}
			})
		}, savedmodel.ErrNoSignature},
		{"unknown layer kind", func(t *testing.T) string {
			return editDescriptor(t, func(d map[string]any) {
				layers := d["meta_graphs"].([]any)[0].(map[string]any)["graph"].(map[string]any)["layers"].([]any)
				layers[1].(map[string]any)["kind"] = "Conv9D"
			})
		}, graph.ErrUnknownKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path(t)
			h, err := NewReader(nil).Read(path)
			assert.Nil(t, h)
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, path, fe.Path)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// reluONNX encodes a model computing y = relu(x) for x of shape [batch, 3].
func reluONNX() []byte {
	valueInfo := func(name string) []byte {
		var shape []byte
		shape = appendBytes(shape, 1, appendBytes(nil, 2, []byte("batch")))
		shape = appendBytes(shape, 1, appendVarint(nil, 1, 3))
		var tt []byte
		tt = appendVarint(tt, 1, 1) // FLOAT
		tt = appendBytes(tt, 2, shape)
		var vi []byte
		vi = appendBytes(vi, 1, []byte(name))
		return appendBytes(vi, 2, appendBytes(nil, 1, tt))
	}

	var node []byte
	node = appendBytes(node, 1, []byte("x"))
	node = appendBytes(node, 2, []byte("y"))
	node = appendBytes(node, 4, []byte("Relu"))

	var g []byte
	g = appendBytes(g, 1, node)
	g = appendBytes(g, 2, []byte("tiny"))
	g = appendBytes(g, 11, valueInfo("x"))
	g = appendBytes(g, 12, valueInfo("y"))

	var opset []byte
	opset = appendVarint(opset, 2, 13)

	var m []byte
	m = appendVarint(m, 1, 8)
	m = appendBytes(m, 7, g)
	return appendBytes(m, 8, opset)
}

func TestReadONNX(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tiny.onnx")
	require.NoError(t, os.WriteFile(file, reluONNX(), 0o644))

	r := NewReader(nil)
	assert.Equal(t, GenerationONNX, r.Registry().Detect(file).Name)

	f, err := r.Open(file)
	require.NoError(t, err)
	assert.Equal(t, GenerationONNX, f.Handle().Generation())
	assert.Equal(t, []string{"y"}, f.Handle().Outputs().Keys())

	out, err := f.Execute(map[string]buffer.Buffer{"input_0": f32(t, []float32{-1, 0, 2}, 3)}, 1, nil)
	require.NoError(t, err)
	y, _ := out.Get("output_0")
	assert.Equal(t, []float32{0, 0, 2}, data32(t, y))

	// saving an imported model writes the native format
	native := filepath.Join(dir, "native")
	require.NoError(t, f.Save(native))
	h, err := r.Read(native)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, GenerationLayers, h.Generation())
	assert.Equal(t, "tiny", h.Graph().Name())
}

func TestReadONNXMalformed(t *testing.T) {
	// a 4-byte float initializer declaring 1<<50 elements
	var init []byte
	init = appendVarint(init, 1, 1<<50)
	init = appendVarint(init, 2, 1) // FLOAT
	init = appendBytes(init, 8, []byte("w"))
	init = appendBytes(init, 9, make([]byte, 4))
	oversized := appendBytes(reluONNX(), 7, appendBytes(nil, 5, init))

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{0xff, 0xff, 0xff}},
		{"oversized initializer", oversized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := filepath.Join(t.TempDir(), "bad.onnx")
			require.NoError(t, os.WriteFile(file, tt.data, 0o644))

			var err error
			require.NotPanics(t, func() { _, err = NewReader(nil).Read(file) })
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, file, fe.Path)
		})
	}
}

func TestRegistry(t *testing.T) {
	never := func(string) bool { return false }
	fail := errors.New("boom")
	custom := Generation{
		Name:   "custom",
		Detect: func(p string) bool { return filepath.Ext(p) == ".custom" },
		Load:   func(string) (*Handle, error) { return nil, fail },
	}
	fallback := Generation{Name: "fallback", Detect: never, Load: func(string) (*Handle, error) { return nil, fail }}

	_, err := NewRegistry()
	assert.Error(t, err)
	_, err = NewRegistry(Generation{Name: "x"})
	assert.Error(t, err)
	_, err = NewRegistry(custom, custom)
	assert.Error(t, err)

	reg, err := NewRegistry(fallback, custom)
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback", "custom"}, reg.Names())
	assert.Equal(t, "custom", reg.Detect("model.custom").Name)
	assert.Equal(t, "fallback", reg.Detect("model.other").Name)

	r := NewReader(reg)
	_, err = r.Read("model.custom")
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "model.custom", fe.Path)
	assert.ErrorIs(t, err, fail)

	_, err = r.ReadAs("missing", "model.custom")
	assert.ErrorIs(t, err, ErrUnknownGeneration)

	assert.Equal(t, []string{GenerationLayers, GenerationONNX}, DefaultRegistry().Names())
}
