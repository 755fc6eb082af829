// Package omap implements an insertion-order-preserving map, used wherever
// the planner's reproducibility requirement (§9, "Ordered maps") forbids a
// plain Go map: Image.FileMap and Transfer.GoesBefore/GoesAfter all need
// their entries walked in the order they were first inserted, not hash
// order. Implemented as a slice-of-values with an auxiliary index, per the
// design note: "vector-of-pair with an auxiliary presence set, not a hash
// table."
package omap

// Map is an insertion-order-preserving map from K to V.
type Map[K comparable, V any] struct {
	index map[K]int
	keys  []K
	vals  []V
}

// New returns an empty ordered map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{index: make(map[K]int)}
}

// Set inserts or updates the value for k. If k is new, it is appended to
// the iteration order; if it already exists, its position is unchanged.
func (m *Map[K, V]) Set(k K, v V) {
	if i, ok := m.index[k]; ok {
		m.vals[i] = v
		return
	}
	m.index[k] = len(m.keys)
	m.keys = append(m.keys, k)
	m.vals = append(m.vals, v)
}

// Get returns the value for k and whether it was present.
func (m *Map[K, V]) Get(k K) (V, bool) {
	if i, ok := m.index[k]; ok {
		return m.vals[i], true
	}
	var zero V
	return zero, false
}

// Has reports whether k is present.
func (m *Map[K, V]) Has(k K) bool {
	_, ok := m.index[k]
	return ok
}

// Delete removes k, preserving the relative order of remaining keys.
func (m *Map[K, V]) Delete(k K) {
	i, ok := m.index[k]
	if !ok {
		return
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	delete(m.index, k)
	for j := i; j < len(m.keys); j++ {
		m.index[m.keys[j]] = j
	}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order. The caller must not mutate the
// returned slice.
func (m *Map[K, V]) Keys() []K { return m.keys }

// Each calls fn for every entry, in insertion order.
func (m *Map[K, V]) Each(fn func(k K, v V)) {
	for i, k := range m.keys {
		fn(k, m.vals[i])
	}
}
