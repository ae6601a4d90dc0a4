// Package generation implements the insertion-ordered map that backs one
// generation (current or previous) of the cache.
package generation

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Generation is an insertion-ordered key/value map.
// Overwriting an existing key keeps its original position; deleting and
// re-inserting moves it to the newest end.
//
// Not safe for concurrent use: the owning cache serializes access.
type Generation[K comparable, V any] struct {
	m *orderedmap.OrderedMap[K, V]
}

// New returns an empty generation sized for roughly hint entries.
func New[K comparable, V any](hint int) *Generation[K, V] {
	if hint < 0 {
		hint = 0
	}
	return &Generation[K, V]{m: orderedmap.New[K, V](hint)}
}

// Get returns the value stored for k.
func (g *Generation[K, V]) Get(k K) (V, bool) { return g.m.Get(k) }

// Has reports whether k is present.
func (g *Generation[K, V]) Has(k K) bool {
	_, ok := g.m.Get(k)
	return ok
}

// Set stores k→v and reports whether k was newly added.
func (g *Generation[K, V]) Set(k K, v V) (added bool) {
	_, present := g.m.Set(k, v)
	return !present
}

// Delete removes k and returns the value it held.
func (g *Generation[K, V]) Delete(k K) (V, bool) { return g.m.Delete(k) }

// Len returns the number of entries.
func (g *Generation[K, V]) Len() int { return g.m.Len() }

// Ascend calls fn for every entry from oldest to newest until fn returns false.
func (g *Generation[K, V]) Ascend(fn func(k K, v V) bool) {
	for p := g.m.Oldest(); p != nil; p = p.Next() {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// Descend calls fn for every entry from newest to oldest until fn returns false.
func (g *Generation[K, V]) Descend(fn func(k K, v V) bool) {
	for p := g.m.Newest(); p != nil; p = p.Prev() {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}
