// Package orderedmap provides an insertion-ordered map used for signature
// bindings and execution results, where declaration order is part of the
// contract.
//
// It wraps github.com/wk8/go-ordered-map/v2 so the rest of the module does
// not depend on that package directly.
package orderedmap

import (
	"encoding/json"
	"iter"

	wk8 "github.com/wk8/go-ordered-map/v2"
)

// Map is a generic map that iterates in insertion order. The zero value
// is an empty map ready to use.
type Map[K comparable, V any] struct {
	om *wk8.OrderedMap[K, V]
}

// New creates an empty map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{om: wk8.New[K, V]()}
}

// Of builds a map holding pairs in the given order.
func Of[K comparable, V any](pairs ...Pair[K, V]) *Map[K, V] {
	m := New[K, V]()
	for _, p := range pairs {
		m.Set(p.Key, p.Value)
	}
	return m
}

// Pair is a single key/value entry.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	if m == nil || m.om == nil {
		var zero V
		return zero, false
	}
	return m.om.Get(key)
}

// Set stores value under key. Existing keys keep their position.
func (m *Map[K, V]) Set(key K, value V) {
	if m.om == nil {
		m.om = wk8.New[K, V]()
	}
	m.om.Set(key, value)
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Len returns the number of entries. A nil map has length zero.
func (m *Map[K, V]) Len() int {
	if m == nil || m.om == nil {
		return 0
	}
	return m.om.Len()
}

// All iterates over entries in insertion order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if m == nil || m.om == nil {
			return
		}
		for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Keys returns the keys in insertion order.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Len())
	for k := range m.All() {
		keys = append(keys, k)
	}
	return keys
}

// Values returns the values in insertion order.
func (m *Map[K, V]) Values() []V {
	values := make([]V, 0, m.Len())
	for _, v := range m.All() {
		values = append(values, v)
	}
	return values
}

// MarshalJSON writes a JSON object whose keys keep insertion order.
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	if m == nil || m.om == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.om)
}

// UnmarshalJSON reads a JSON object, keeping the key order of the input.
func (m *Map[K, V]) UnmarshalJSON(data []byte) error {
	m.om = wk8.New[K, V]()
	return json.Unmarshal(data, &m.om)
}
