package cache

import "iter"

type order int

const (
	orderDefault order = iota
	orderAscending
	orderDescending
)

type entry[K comparable, V any] struct {
	key K
	val V
}

// All yields cur, then prev entries not shadowed by cur.
func (c *cache[K, V]) All() iter.Seq2[K, V] { return c.seq(orderDefault) }

// Ascending yields non-shadowed prev oldest-first, then cur oldest-first.
func (c *cache[K, V]) Ascending() iter.Seq2[K, V] { return c.seq(orderAscending) }

// Descending yields cur newest-first, then non-shadowed prev newest-first.
func (c *cache[K, V]) Descending() iter.Seq2[K, V] { return c.seq(orderDescending) }

func (c *cache[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range c.All() {
			if !yield(k) {
				return
			}
		}
	}
}

func (c *cache[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range c.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// seq snapshots the entries when ranging starts and yields without holding
// the lock, so the loop body may call back into the cache. Mutations made
// during the loop are not reflected.
func (c *cache[K, V]) seq(o order) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if c.closed.Load() {
			return
		}
		c.mu.Lock()
		items := c.snapshotLocked(o)
		c.mu.Unlock()

		for _, e := range items {
			if !yield(e.key, e.val) {
				return
			}
		}
	}
}

func (c *cache[K, V]) snapshotLocked(o order) []entry[K, V] {
	out := make([]entry[K, V], 0, c.cur.Len()+c.prev.Len())
	all := func(k K, v V) bool {
		out = append(out, entry[K, V]{k, v})
		return true
	}
	unshadowed := func(k K, v V) bool {
		if !c.cur.Has(k) {
			out = append(out, entry[K, V]{k, v})
		}
		return true
	}

	switch o {
	case orderAscending:
		c.prev.Ascend(unshadowed)
		c.cur.Ascend(all)
	case orderDescending:
		c.cur.Descend(all)
		c.prev.Descend(unshadowed)
	default:
		c.cur.Ascend(all)
		c.prev.Ascend(unshadowed)
	}
	return out
}
