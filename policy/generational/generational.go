// Package generational implements the two-generation rotation rule.
package generational

import "github.com/IvanBrykalov/genlru/policy"

type generational struct{}

// New returns the default Policy: rotate once the current generation has
// received capacity insertions, and on shrink keep the newest capacity
// entries as the previous generation.
//
// An entry written or touched once is protected for up to 2×capacity
// further insertions; exact recency is not tracked.
func New() policy.Policy { return generational{} }

// Full rotates as soon as the insertion count reaches capacity.
func (generational) Full(inserted, capacity int) bool { return inserted >= capacity }

// Trim keeps everything in the current generation while it still has room.
// Otherwise the oldest overflow is evicted and the rest becomes the previous
// generation, leaving a full generation's worth of insertions before the
// next rotation.
func (generational) Trim(resident, capacity int) (evict int, young bool) {
	if resident < capacity {
		return 0, true
	}
	return resident - capacity, false
}
