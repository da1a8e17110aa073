package orderedmap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPreservesInsertionOrder(t *testing.T) {
	m := New[string, int]()
	m.Set("zeta", 1)
	m.Set("alpha", 2)
	m.Set("mid", 3)
	m.Set("zeta", 4)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, m.Keys())
	assert.Equal(t, []int{4, 2, 3}, m.Values())
	assert.Equal(t, 3, m.Len())

	v, ok := m.Get("zeta")
	require.True(t, ok)
	assert.Equal(t, 4, v)
	assert.False(t, m.Has("missing"))
}

func TestMapJSONRoundTrip(t *testing.T) {
	m := Of(Pair[string, int]{"b", 1}, Pair[string, int]{"a", 2})

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":1,"a":2}`, string(data))
	assert.Equal(t, `{"b":1,"a":2}`, string(data))

	var back Map[string, int]
	require.NoError(t, json.Unmarshal([]byte(`{"y":1,"x":2,"w":3}`), &back))
	assert.Equal(t, []string{"y", "x", "w"}, back.Keys())
}

func TestNilMap(t *testing.T) {
	var m *Map[string, int]
	assert.Equal(t, 0, m.Len())
	_, ok := m.Get("x")
	assert.False(t, ok)
	assert.Empty(t, m.Keys())
}

func TestZeroValueMap(t *testing.T) {
	var m Map[string, int]
	assert.Equal(t, 0, m.Len())
	data, err := json.Marshal(&m)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	m.Set("b", 2)
	m.Set("a", 1)
	assert.Equal(t, []string{"b", "a"}, m.Keys())
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}
