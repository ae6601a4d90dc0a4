// Package policy defines the eviction rule used by the generational cache.
package policy

// Policy decides when the young (current) generation is retired and how much
// of the resident set survives a capacity change.
//
// The cache never ranks individual entries: a Policy only works with counts.
// Eviction is always whole-generation (on rotation) or an oldest-first slice
// (on resize). All methods are invoked under the cache lock.
type Policy interface {
	// Full reports whether the current generation must rotate after an
	// insertion brought its insertion count to inserted.
	Full(inserted, capacity int) bool

	// Trim is consulted by Resize. resident is the number of distinct
	// entries (oldest-first order is owned by the cache).
	//   - evict: how many of the oldest entries must be evicted.
	//   - young: true if the survivors are placed in the current generation
	//     (they count toward the next rotation); false to place them in the
	//     previous generation with an empty current one.
	Trim(resident, capacity int) (evict int, young bool)
}
