package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/IvanBrykalov/genlru/internal/generation"
	"github.com/IvanBrykalov/genlru/internal/util"
	"github.com/IvanBrykalov/genlru/policy"
	"github.com/IvanBrykalov/genlru/policy/generational"
	"github.com/IvanBrykalov/genlru/replication"
)

var (
	// ErrInvalidCapacity is returned by New and Resize for a non-positive size.
	ErrInvalidCapacity = errors.New("cache: capacity must be > 0")
	// ErrNoLoader is returned by GetOrLoad when no Loader was configured in Options.
	ErrNoLoader = errors.New("cache: no Loader provided")
)

// cache keeps two generations: cur receives every insertion, prev holds the
// generation retired by the last rotation. A key present in both is shadowed
// by cur. Recency is never tracked per entry.
type cache[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu       sync.Mutex
	maxSize  int
	cur      *generation.Generation[K, V]
	prev     *generation.Generation[K, V]
	curCount int // insertions into cur since the last rotation

	opt    Options[K, V]
	pol    policy.Policy
	repl   *replication.Channel[K, V] // nil when replication is off
	closed atomic.Bool

	// coalesces concurrent loads in GetOrLoad.
	sf singleflight.Group

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_         util.CacheLinePad
	hits      util.PaddedAtomicInt64
	misses    util.PaddedAtomicInt64
	evicts    util.PaddedAtomicUint64
	rotations util.PaddedAtomicUint64
}

// New constructs a cache with the provided Options.
// Defaults:
//   - nil Metrics  -> NoopMetrics
//   - nil Policy   -> generational
//
// With Options.Replication set, New validates the topic and starts joining
// it in the background; join failures leave the cache local-only.
func New[K comparable, V any](opt Options[K, V]) (Cache[K, V], error) {
	if opt.MaxSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, opt.MaxSize)
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = generational.New()
	}

	c := &cache[K, V]{
		maxSize: opt.MaxSize,
		cur:     generation.New[K, V](opt.MaxSize),
		prev:    generation.New[K, V](0),
		opt:     opt,
		pol:     opt.Policy,
	}

	if opt.Replication != nil {
		ch, err := replication.New[K, V](replica[K, V]{c: c}, *opt.Replication)
		if err != nil {
			return nil, err
		}
		c.repl = ch
		ch.Start(context.Background())
	}
	return c, nil
}

// MustNew is like New but panics on invalid Options.
func MustNew[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	c, err := New(opt)
	if err != nil {
		panic(err)
	}
	return c
}

// ---- Cache[K,V] implementation ----

// Set inserts or updates k→v and publishes the mutation to peers.
func (c *cache[K, V]) Set(k K, v V) Cache[K, V] {
	if c.closed.Load() {
		return c
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setLocked(k, v)
	c.publishLocked(replication.Mutation[K, V]{Op: replication.OpSet, Key: k, Value: v})
	return c
}

// Get returns the value for k, promoting it out of the previous generation.
func (c *cache[K, V]) Get(k K) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.cur.Get(k); ok {
		c.hit()
		return v, true
	}
	if v, ok := c.prev.Delete(k); ok {
		// Promotion goes through the insertion path and may rotate.
		c.insertLocked(k, v)
		c.hit()
		return v, true
	}
	c.misses.Add(1)
	c.opt.Metrics.Miss()
	return zero, false
}

// Has reports presence in either generation.
func (c *cache[K, V]) Has(k K) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.Has(k) || c.prev.Has(k)
}

// Peek returns the value for k without touching recency.
func (c *cache[K, V]) Peek(k K) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.cur.Get(k); ok {
		return v, true
	}
	if v, ok := c.prev.Get(k); ok {
		return v, true
	}
	return zero, false
}

// Delete removes k from both generations and publishes the delete to peers.
func (c *cache[K, V]) Delete(k K) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := c.deleteLocked(k)
	c.publishLocked(replication.Mutation[K, V]{Op: replication.OpDelete, Key: k})
	return ok
}

// Clear drops both generations. No eviction callbacks are fired.
func (c *cache[K, V]) Clear() {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cur = generation.New[K, V](c.maxSize)
	c.prev = generation.New[K, V](0)
	c.curCount = 0
	c.opt.Metrics.Size(0)
}

// Resize changes the capacity. Entries are rebuilt from the ascending
// (oldest-first) sequence; the policy decides how many of the oldest are
// evicted and which generation receives the survivors.
func (c *cache[K, V]) Resize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, n)
	}
	if c.closed.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	items := c.snapshotLocked(orderAscending)
	evict, young := c.pol.Trim(len(items), n)
	evict = min(max(evict, 0), len(items))

	survivors := generation.New[K, V](len(items) - evict)
	for _, e := range items[evict:] {
		survivors.Set(e.key, e.val)
	}
	if young {
		c.cur, c.prev = survivors, generation.New[K, V](0)
		c.curCount = survivors.Len()
	} else {
		c.cur, c.prev = generation.New[K, V](n), survivors
		c.curCount = 0
	}
	c.maxSize = n
	c.opt.Metrics.Size(c.lenLocked())

	for _, e := range items[:evict] {
		c.evictLocked(e.key, e.val, EvictResize)
	}
	return nil
}

// Len returns the logical number of resident entries.
func (c *cache[K, V]) Len() int {
	if c.closed.Load() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lenLocked()
}

// Cap returns the current capacity.
func (c *cache[K, V]) Cap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// Stats returns a snapshot of the counters.
func (c *cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
		Rotations: c.rotations.Load(),
	}
}

// Replicating reports whether a peer stream is attached.
func (c *cache[K, V]) Replicating() bool {
	return c.repl != nil && c.repl.Connected()
}

// Close stops replication and marks the cache closed.
// The cache lock is not held while the channel drains, so in-flight remote
// mutations can finish.
func (c *cache[K, V]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.repl != nil {
		return c.repl.Close()
	}
	return nil
}

// GetOrLoad returns the value for k; on miss it loads via Options.Loader,
// coalescing concurrent loads for the same key.
// If no Loader is configured, returns ErrNoLoader.
//
// Cancelling ctx in a waiting caller unblocks only that caller; the load
// itself runs with the ctx of the caller that started it.
func (c *cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	// fast path
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	var zero V
	if c.opt.Loader == nil {
		return zero, ErrNoLoader
	}

	res := c.sf.DoChan(flightKey(k), func() (any, error) {
		// double-check after flight join
		if v, ok := c.Get(k); ok {
			return v, nil
		}
		v, err := c.opt.Loader(ctx, k)
		if err == nil {
			c.Set(k, v)
		}
		return v, err
	})

	select {
	case r := <-res:
		if r.Err != nil {
			return zero, r.Err
		}
		v, _ := r.Val.(V)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// -------------------- internals (mu held) --------------------

// setLocked updates k in place when it lives in cur; otherwise it is a new
// insertion (k may still be shadowed in prev).
func (c *cache[K, V]) setLocked(k K, v V) {
	if c.cur.Has(k) {
		c.cur.Set(k, v)
		return
	}
	c.insertLocked(k, v)
}

// insertLocked adds k to cur and rotates when the policy says cur is full.
func (c *cache[K, V]) insertLocked(k K, v V) {
	c.cur.Set(k, v)
	c.curCount++
	if c.pol.Full(c.curCount, c.maxSize) {
		c.rotateLocked()
	}
}

// rotateLocked retires cur into prev, starts an empty cur and then reports
// every entry of the old prev as evicted. The swap comes first so a panicking
// OnEvict leaves a consistent cache behind.
func (c *cache[K, V]) rotateLocked() {
	old := c.prev
	c.prev = c.cur
	c.cur = generation.New[K, V](c.maxSize)
	c.curCount = 0

	c.rotations.Add(1)
	c.opt.Metrics.Rotate()
	c.opt.Metrics.Size(c.prev.Len())

	old.Ascend(func(k K, v V) bool {
		c.evictLocked(k, v, EvictRotation)
		return true
	})
}

func (c *cache[K, V]) deleteLocked(k K) bool {
	_, inCur := c.cur.Delete(k)
	if inCur {
		c.curCount--
	}
	_, inPrev := c.prev.Delete(k)
	return inCur || inPrev
}

// lenLocked: prev alone right after a rotation; otherwise the insertion
// count plus non-shadowed prev entries, capped at maxSize.
func (c *cache[K, V]) lenLocked() int {
	if c.curCount == 0 {
		return c.prev.Len()
	}
	older := 0
	c.prev.Ascend(func(k K, _ V) bool {
		if !c.cur.Has(k) {
			older++
		}
		return true
	})
	return min(c.curCount+older, c.maxSize)
}

// evictLocked reports one evicted entry. The caller drops it from storage.
func (c *cache[K, V]) evictLocked(k K, v V, reason EvictReason) {
	c.evicts.Add(1)
	c.opt.Metrics.Evict(reason)
	if cb := c.opt.OnEvict; cb != nil {
		cb(k, v, reason)
	}
}

func (c *cache[K, V]) publishLocked(m replication.Mutation[K, V]) {
	if c.repl != nil {
		c.repl.Publish(m)
	}
}

func (c *cache[K, V]) hit() {
	c.hits.Add(1)
	c.opt.Metrics.Hit()
}

// flightKey maps a key to the singleflight string key. The dynamic type is
// included so that, e.g., int(1) and int64(1) stored in an `any` key do not
// share a flight.
func flightKey[K comparable](k K) string { return fmt.Sprintf("%T/%#v", k, k) }
