// Package safemap provides a generic concurrent map built on sync.Map.
package safemap

import "sync"

// SafeMap is a type-safe wrapper around sync.Map. Keys must be comparable;
// values may be any type.
//
// SafeMap must not be copied after first use. Store and Delete are amortized
// O(1); Len and Range are O(n).
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// NewSafeMap returns an empty SafeMap ready for use.
//
// Returns:
//   - A pointer to a new SafeMap[K, V]
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for k, overwriting any existing value.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// LoadAndDelete removes k and returns the value it held.
//
// Parameters:
//   - k: The key to remove
//
// Returns:
//   - The removed value, or the zero value of V if k was absent
//   - true if k was present
func (m *SafeMap[K, V]) LoadAndDelete(k K) (V, bool) {
	v, ok := m.m.LoadAndDelete(k)
	if !ok {
		var zero V
		return zero, false
	}

	return v.(V), true
}

// Delete removes k. Deleting an absent key is a no-op.
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// Range calls f for each entry until f returns false. Entries stored or
// deleted concurrently may or may not be visited.
//
// Parameters:
//   - f: Called for each entry; return false to stop
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len counts the entries by iterating over them.
func (m *SafeMap[K, V]) Len() int {
	n := 0
	m.Range(func(K, V) bool {
		n++
		return true
	})

	return n
}
