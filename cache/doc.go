// Package cache provides a bounded, generic, in-memory cache with approximate
// LRU eviction built from two generations, and optional peer-to-peer
// replication of set/delete mutations.
//
// Design
//
//   - Storage: two insertion-ordered maps. Every new key goes into the
//     current generation. Once MaxSize insertions have landed there, the
//     current generation becomes the previous one and a fresh, empty current
//     generation starts (a rotation). The old previous generation is
//     evicted as a whole.
//
//   - Recency: no per-entry metadata. A Get hit in the previous generation
//     moves the entry into the current one (promotion), which protects it
//     from the next rotation. Eviction order is therefore approximate: an
//     entry touched once survives between MaxSize and 2×MaxSize insertions.
//
//   - Concurrency: one mutex guards both generations. Rotation, eviction
//     callbacks and replication fan-out run under it, so they are atomic
//     with respect to other operations.
//
//   - Policies: the rotation trigger and the resize trimming rule come from
//     the policy package; generational is the default.
//
//   - Resize: entries are rebuilt oldest-first. Shrinking evicts the oldest
//     overflow (Options.OnEvict with EvictResize); growing never evicts.
//
//   - GetOrLoad: coalesces concurrent loads for the same key using
//     golang.org/x/sync/singleflight. If Loader is nil, GetOrLoad returns
//     ErrNoLoader.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Rotate/Size signals.
//     By default NoopMetrics is used; plug metrics/prom to export them.
//
//   - Replication: with Options.Replication set, the cache joins a topic on
//     a replication.Overlay and exchanges newline-delimited JSON mutations
//     with connected peers. Remote mutations are applied without being sent
//     again (single-hop). Delivery is best-effort and unordered across peers.
//
// Basic usage
//
//	c := cache.MustNew[string, []byte](cache.Options[string, []byte]{MaxSize: 10_000})
//	c.Set("a", []byte("1"))
//	if v, ok := c.Get("a"); ok {
//	    _ = v // use value
//	}
//	c.Delete("a")
//
// Eviction callback
//
//	c := cache.MustNew[string, *os.File](cache.Options[string, *os.File]{
//	    MaxSize: 128,
//	    OnEvict: func(_ string, f *os.File, _ cache.EvictReason) { _ = f.Close() },
//	})
//
// Iteration
//
//	for k, v := range c.Ascending() { // oldest first
//	    fmt.Println(k, v)
//	}
//
// Replication
//
//	hub := memory.NewHub()
//	a, _ := cache.New[string, int](cache.Options[string, int]{
//	    MaxSize:     1000,
//	    Replication: &replication.Config{Topic: "orders-cache-v1", Overlay: hub.Node("a")},
//	})
//
// See overlay/tcp for a network overlay.
package cache
