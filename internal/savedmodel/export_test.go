package savedmodel

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dlnet/internal/netspec"
	"github.com/born-ml/dlnet/internal/orderedmap"
)

func testDescriptor() *Descriptor {
	inputs := orderedmap.New[string, TensorInfo]()
	inputs.Set("x", TensorInfo{TensorRef: TensorRef{Layer: "x"}, DType: "float32", Shape: []int{-1, 1}})
	outputs := orderedmap.New[string, TensorInfo]()
	outputs.Set("y", TensorInfo{TensorRef: TensorRef{Layer: "dense"}, DType: "float32", Shape: []int{-1, 3}})

	sigs := orderedmap.New[string, SignatureDef]()
	sigs.Set("serving_default", SignatureDef{MethodName: "dlnet/serving/predict", Inputs: inputs, Outputs: outputs})

	return &Descriptor{
		Format:        Format,
		FormatVersion: FormatVersion,
		Producer:      "test",
		MetaGraphs: []MetaGraph{{
			Tags: []string{"serve"},
			Graph: GraphDef{Name: "g", Layers: []LayerDef{
				{Name: "x", Kind: "InputLayer", Attrs: map[string]any{"dtype": "float32", "shape": []int{-1, 1}}, Nodes: []NodeDef{{}}},
				{Name: "dense", Kind: "Dense", Attrs: map[string]any{"units": 3}, Nodes: []NodeDef{{Inbound: []TensorRef{{Layer: "x"}}}}},
			}},
			SignatureDefs:  sigs,
			TrainingConfig: &netspec.TrainingConfig{Optimizer: "sgd"},
		}},
	}
}

func testVariables() map[string]*tensor.Dense {
	return map[string]*tensor.Dense{
		"dense/kernel": tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{1, 2, 3})),
		"dense/bias":   tensor.New(tensor.WithShape(3), tensor.WithBacking([]float32{0, 0.5, 1})),
		"emb/ids":      tensor.New(tensor.WithShape(2), tensor.WithBacking([]int64{7, -7})),
		"mask/keep":    tensor.New(tensor.WithShape(2), tensor.WithBacking([]bool{true, false})),
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model")
	d := testDescriptor()
	require.NoError(t, Write(path, d, testVariables()))
	assert.NotEmpty(t, d.VariablesSHA256)

	exp, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "serving_default", exp.SignatureKey)
	assert.Equal(t, "dlnet/serving/predict", exp.Signature.MethodName)
	assert.Equal(t, []string{"x"}, exp.Signature.Inputs.Keys())
	assert.Equal(t, []string{"serve"}, exp.MetaGraph().Tags)
	assert.Equal(t, "sgd", exp.MetaGraph().TrainingConfig.Optimizer)

	require.Len(t, exp.Variables, 4)
	assert.Equal(t, []float32{1, 2, 3}, exp.Variables["dense/kernel"].Data())
	assert.Equal(t, []int{1, 3}, []int(exp.Variables["dense/kernel"].Shape()))
	assert.Equal(t, []int64{7, -7}, exp.Variables["emb/ids"].Data())
	assert.Equal(t, []bool{true, false}, exp.Variables["mask/keep"].Data())

	format, err := ReadFormat(path)
	require.NoError(t, err)
	assert.Equal(t, Format, format)
}

func TestWriteRefusesExistingPath(t *testing.T) {
	path := t.TempDir()
	err := Write(path, testDescriptor(), testVariables())
	assert.ErrorIs(t, err, ErrExists)
}

func TestWriteFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model")
	vars := testVariables()
	vars["vocab/tokens"] = tensor.New(tensor.WithShape(1), tensor.WithBacking([]string{"a"}))

	err := Write(path, testDescriptor(), vars)
	assert.ErrorIs(t, err, ErrUnsupportedDType)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory must be removed")
}

func TestWriteRejectsInvalidDescriptor(t *testing.T) {
	dir := t.TempDir()
	d := testDescriptor()
	d.MetaGraphs = append(d.MetaGraphs, d.MetaGraphs[0])
	err := Write(filepath.Join(dir, "model"), d, testVariables())
	assert.ErrorIs(t, err, ErrMultipleGraphs)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// writeRaw writes a descriptor as-is, bypassing validation.
func writeRaw(t *testing.T, d *Descriptor) string {
	t.Helper()
	path := t.TempDir()
	data, err := json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, DescriptorFile), data, 0o644))
	return path
}

func TestReadCardinalityErrors(t *testing.T) {
	t.Run("two graphs", func(t *testing.T) {
		d := testDescriptor()
		d.MetaGraphs = append(d.MetaGraphs, d.MetaGraphs[0])
		_, err := Read(writeRaw(t, d))
		assert.ErrorIs(t, err, ErrMultipleGraphs)
	})
	t.Run("no graph", func(t *testing.T) {
		d := testDescriptor()
		d.MetaGraphs = nil
		_, err := Read(writeRaw(t, d))
		assert.ErrorIs(t, err, ErrNoGraph)
	})
	t.Run("two signatures", func(t *testing.T) {
		d := testDescriptor()
		_, sig := d.Signature()
		d.MetaGraphs[0].SignatureDefs.Set("classify", sig)
		_, err := Read(writeRaw(t, d))
		assert.ErrorIs(t, err, ErrMultipleSignatures)
	})
	t.Run("no signature", func(t *testing.T) {
		d := testDescriptor()
		d.MetaGraphs[0].SignatureDefs = orderedmap.New[string, SignatureDef]()
		_, err := Read(writeRaw(t, d))
		assert.ErrorIs(t, err, ErrNoSignature)
	})
	t.Run("unknown format", func(t *testing.T) {
		d := testDescriptor()
		d.Format = "keras.h5"
		_, err := Read(writeRaw(t, d))
		assert.ErrorIs(t, err, ErrUnknownFormat)
	})
	t.Run("future version", func(t *testing.T) {
		d := testDescriptor()
		d.FormatVersion = 9
		_, err := Read(writeRaw(t, d))
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})
	t.Run("no variables", func(t *testing.T) {
		_, err := Read(writeRaw(t, testDescriptor()))
		assert.ErrorIs(t, err, ErrMissingVariables)
	})
}

func TestReadDescriptorErrors(t *testing.T) {
	_, err := Read(t.TempDir())
	assert.ErrorIs(t, err, ErrNoDescriptor)

	path := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(path, DescriptorFile), []byte("{not json"), 0o644))
	_, err = Read(path)
	assert.ErrorIs(t, err, ErrMalformedDescriptor)
	_, err = ReadFormat(path)
	assert.ErrorIs(t, err, ErrMalformedDescriptor)
}

func TestReadDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model")
	require.NoError(t, Write(path, testDescriptor(), testVariables()))

	varsPath := filepath.Join(path, VariablesDir, VariablesFile)
	data, err := os.ReadFile(varsPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(varsPath, data, 0o644))

	_, err = Read(path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

// rawSafetensors builds a file from a header and body.
func rawSafetensors(t *testing.T, header map[string]any, body []byte) []byte {
	t.Helper()
	h, err := json.Marshal(header)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(h))))
	buf.Write(h)
	buf.Write(body)
	return buf.Bytes()
}

func TestDecodeHalfPrecision(t *testing.T) {
	// 1.0 and -2.0 in IEEE half and bfloat16, little endian
	f16 := []byte{0x00, 0x3c, 0x00, 0xc0}
	bf16 := []byte{0x80, 0x3f, 0x00, 0xc0}
	data := rawSafetensors(t, map[string]any{
		"a/half": safetensorHeader{DType: "F16", Shape: []int64{2}, DataOffsets: [2]int64{0, 4}},
		"a/bf":   safetensorHeader{DType: "BF16", Shape: []int64{2}, DataOffsets: [2]int64{4, 8}},
	}, append(f16, bf16...))

	vars, err := decodeVariables(data)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2}, vars["a/half"].Data())
	assert.Equal(t, []float32{1, -2}, vars["a/bf"].Data())
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Run("overlap", func(t *testing.T) {
		data := rawSafetensors(t, map[string]any{
			"a/x": safetensorHeader{DType: "F32", Shape: []int64{2}, DataOffsets: [2]int64{0, 8}},
			"a/y": safetensorHeader{DType: "F32", Shape: []int64{2}, DataOffsets: [2]int64{4, 12}},
		}, make([]byte, 12))
		_, err := decodeVariables(data)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "offset_overlap", verr.Type)
	})
	t.Run("out of bounds", func(t *testing.T) {
		data := rawSafetensors(t, map[string]any{
			"a/x": safetensorHeader{DType: "F32", Shape: []int64{4}, DataOffsets: [2]int64{0, 16}},
		}, make([]byte, 8))
		_, err := decodeVariables(data)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "out_of_bounds", verr.Type)
	})
	t.Run("size mismatch", func(t *testing.T) {
		data := rawSafetensors(t, map[string]any{
			"a/x": safetensorHeader{DType: "F32", Shape: []int64{3}, DataOffsets: [2]int64{0, 8}},
		}, make([]byte, 8))
		_, err := decodeVariables(data)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "size_mismatch", verr.Type)
	})
	t.Run("shape overflow", func(t *testing.T) {
		data := rawSafetensors(t, map[string]any{
			"a/x": safetensorHeader{DType: "F32", Shape: []int64{1 << 32, 1 << 32}, DataOffsets: [2]int64{0, 0}},
		}, nil)
		_, err := decodeVariables(data)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "shape_overflow", verr.Type)
	})
	t.Run("byte size overflow", func(t *testing.T) {
		data := rawSafetensors(t, map[string]any{
			"a/x": safetensorHeader{DType: "F64", Shape: []int64{1 << 61}, DataOffsets: [2]int64{0, 0}},
		}, nil)
		_, err := decodeVariables(data)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "shape_overflow", verr.Type)
	})
	t.Run("huge header", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(1<<40)))
		_, err := decodeVariables(buf.Bytes())
		assert.ErrorIs(t, err, ErrHeaderTooLarge)
	})
}

func TestValidateVariableName(t *testing.T) {
	for _, ok := range []string{"dense/kernel", "conv_1/bias"} {
		assert.NoError(t, ValidateVariableName(ok), ok)
	}
	for _, bad := range []string{"kernel", "/kernel", "dense/", "a/b/c", "../etc/passwd", "a\\b/c", "a\x00/b"} {
		assert.Error(t, ValidateVariableName(bad), bad)
	}
	layer, weight := SplitVariableName("dense_1/kernel")
	assert.Equal(t, "dense_1", layer)
	assert.Equal(t, "kernel", weight)
}
