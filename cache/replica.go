package cache

import "github.com/IvanBrykalov/genlru/replication"

// replica is the peer-origin path into the cache: mutations applied through
// it are never published back to peers.
type replica[K comparable, V any] struct{ c *cache[K, V] }

var _ replication.Store[string, int] = replica[string, int]{}

func (r replica[K, V]) ApplySet(k K, v V) {
	if r.c.closed.Load() {
		return
	}
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	r.c.setLocked(k, v)
}

func (r replica[K, V]) ApplyDelete(k K) {
	if r.c.closed.Load() {
		return
	}
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	r.c.deleteLocked(k)
}
