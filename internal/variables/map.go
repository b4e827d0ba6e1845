package variables

import (
	"reflect"
	"slices"
)

// Map is a YAML mapping that keeps its keys in document order.
// Templates iterate it in that order.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{values: map[string]any{}}
}

// Set stores value under key. A new key is appended; an existing key keeps
// its position.
func (m *Map) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	return slices.Clone(m.keys)
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.keys)
}

// Clone returns a shallow copy.
func (m *Map) Clone() *Map {
	out := &Map{
		keys:   slices.Clone(m.keys),
		values: make(map[string]any, len(m.values)),
	}
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same entries in the same order.
func (m *Map) Equal(other *Map) bool {
	if m == nil || other == nil {
		return m == other
	}
	return slices.Equal(m.keys, other.keys) && reflect.DeepEqual(m.values, other.values)
}
