package cache

import (
	"context"

	"github.com/IvanBrykalov/genlru/policy"
	"github.com/IvanBrykalov/genlru/replication"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictRotation: the entry was in the previous generation when the
	// current one filled up and rotated.
	EvictRotation EvictReason = iota
	// EvictResize: the entry was among the oldest ones dropped by a
	// shrinking Resize.
	EvictResize
)

func (r EvictReason) String() string {
	switch r {
	case EvictResize:
		return "resize"
	default:
		return "rotation"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Rotate()
	// Size is reported after structural changes (rotation, resize, clear).
	Size(entries int)
}

// Options configures the cache. Zero values are safe except MaxSize;
// defaults are applied in New():
//   - nil Policy   => generational.New()
//   - nil Metrics  => NoopMetrics
type Options[K comparable, V any] struct {
	// MaxSize is the capacity: the number of insertions a generation holds
	// before it rotates. Must be > 0.
	MaxSize int

	// Policy decides rotation and resize trimming; nil => generational.
	Policy policy.Policy

	// OnEvict is called once per evicted entry, in the order of the discarded
	// collection, under the cache lock. Keep it lightweight and do not call
	// back into the cache. A panic propagates to the caller of the operation
	// that triggered the eviction (for replicated sets, the replication
	// reader goroutine).
	OnEvict func(k K, v V, reason EvictReason)

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader func(ctx context.Context, k K) (V, error)

	// Metrics receives Hit/Miss/Evict/Rotate/Size signals.
	Metrics Metrics

	// Replication enables the peer replication channel when non-nil.
	// Keys and values must be JSON-serializable.
	Replication *replication.Config
}
