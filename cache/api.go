package cache

import (
	"context"
	"iter"
)

// Cache is a bounded, generational (two-map) approximate-LRU cache.
// All methods are safe for concurrent use by multiple goroutines.
//
// Set/Get/Has/Peek/Delete are O(1) amortized: a map lookup plus, at most,
// a whole-generation rotation every MaxSize insertions. Len is O(n) in the
// size of the previous generation.
type Cache[K comparable, V any] interface {
	// Set inserts or updates k→v and returns the cache for chaining.
	// Updating a key of the current generation does not count toward
	// rotation; any other insert does, and may rotate generations.
	// With replication enabled, the mutation is sent to connected peers.
	Set(k K, v V) Cache[K, V]

	// Get returns the value for k and a presence flag.
	// A hit in the previous generation promotes the entry to the current one.
	Get(k K) (V, bool)

	// Has reports presence in either generation without promoting.
	Has(k K) bool

	// Peek is Get without promotion or any other state change.
	Peek(k K) (V, bool)

	// Delete removes k from both generations and reports whether it was
	// present. With replication enabled, the delete is sent to peers.
	Delete(k K) bool

	// Clear removes every entry without eviction notifications.
	// Clear is local: it is not replicated.
	Clear()

	// Resize changes MaxSize in place, evicting the oldest entries when the
	// cache shrinks. Returns ErrInvalidCapacity if n <= 0.
	Resize(n int) error

	// Len returns the logical number of entries (capped at MaxSize).
	Len() int

	// Cap returns the current MaxSize.
	Cap() int

	// All yields the current generation, then previous entries not shadowed
	// by it. Recency is only ordered by generation.
	All() iter.Seq2[K, V]
	// Keys and Values project All.
	Keys() iter.Seq[K]
	Values() iter.Seq[V]
	// Ascending yields entries from oldest to newest (approximately).
	Ascending() iter.Seq2[K, V]
	// Descending yields entries from newest to oldest (approximately).
	Descending() iter.Seq2[K, V]

	// GetOrLoad returns the value for k, loading it via Options.Loader on
	// miss. Concurrent loads for the same key are coalesced.
	// If no Loader was configured, returns ErrNoLoader.
	GetOrLoad(ctx context.Context, k K) (V, error)

	// Stats returns cumulative hit/miss/eviction/rotation counters.
	Stats() Stats

	// Replicating reports whether a peer stream is currently attached.
	Replicating() bool

	// Close stops replication (leaving the topic and closing peer streams)
	// and marks the cache closed; later calls are no-ops.
	Close() error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions uint64
	Rotations uint64
}
