// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package network_test

import (
	"path/filepath"
	"testing"

	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dlnet/buffer"
	"github.com/born-ml/dlnet/graph"
	"github.com/born-ml/dlnet/network"
)

func TestPublicRoundTrip(t *testing.T) {
	g := graph.New("sum")
	a, err := g.Input("a", tensor.Float64, -1, 2)
	require.NoError(t, err)
	b, err := g.Input("b", tensor.Float64, -1, 2)
	require.NoError(t, err)
	add, err := g.AddLayer("add", graph.NewAdd())
	require.NoError(t, err)
	y, err := add.Apply(a, b)
	require.NoError(t, err)

	inputs := network.NewBindings()
	inputs.Set("a", a)
	inputs.Set("b", b)
	outputs := network.NewBindings()
	outputs.Set("sum", y)

	h, err := network.NewHandle(inputs, outputs, g, network.WithTags("serve"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "sum")
	require.NoError(t, h.Save(path))
	require.NoError(t, h.Close())

	f, err := network.Open(path, network.WithMaxBatchSize(8))
	require.NoError(t, err)
	defer f.Close()

	spec, err := f.Spec()
	require.NoError(t, err)
	require.Len(t, spec.Inputs(), 2)
	assert.Equal(t, network.Unknown, spec.Inputs()[0].BatchSize())
	assert.Equal(t, network.ChannelsLast, spec.Outputs()[0].DimensionOrder())

	x1, err := buffer.New([]float64{1, 2, 3, 4}, 2)
	require.NoError(t, err)
	x2, err := buffer.New([]float64{10, 20, 30, 40}, 2)
	require.NoError(t, err)
	out, err := f.Execute(map[string]buffer.Buffer{"input_0": x1, "input_1": x2}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, network.StateExecuted, f.State())

	sum, ok := out.Get("output_0")
	require.True(t, ok)
	typed, ok := sum.(*buffer.Typed[float64])
	require.True(t, ok)
	assert.Equal(t, []float64{11, 22, 33, 44}, typed.Data())

	_, err = f.Execute(map[string]buffer.Buffer{"input_0": x1, "input_1": x2}, 9, nil)
	assert.ErrorIs(t, err, network.ErrBatchSize)
}
