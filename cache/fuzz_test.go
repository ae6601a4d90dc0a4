package cache

import (
	"strings"
	"testing"
)

// Fuzz basic Set/Get/Delete semantics under arbitrary string inputs.
// Guards against panics and ensures core invariants hold.
// NOTE: We cap key/value lengths to avoid pathological memory usage
// during fuzzing (this does not weaken the invariants we check).
func FuzzCache_SetGetDelete(f *testing.F) {
	// Seed corpus: empty, ASCII, Unicode, long strings.
	f.Add("", "", uint8(1))
	f.Add("a", "1", uint8(2))
	f.Add("b", "2", uint8(3))
	f.Add("αβγ", "δ", uint8(4))
	f.Add("emoji🙂", "🙂🙂", uint8(16))
	f.Add("long", strings.Repeat("x", 1024), uint8(255))

	f.Fuzz(func(t *testing.T, k, v string, size uint8) {
		const limit = 1 << 12 // 4096
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}
		maxSize := int(size%32) + 1

		c := MustNew[string, string](Options[string, string]{MaxSize: maxSize})
		t.Cleanup(func() { _ = c.Close() })

		// Set -> Peek must return the same value, even right after a rotation.
		c.Set(k, v)
		got, ok := c.Peek(k)
		if !ok || got != v {
			t.Fatalf("after Set/Peek: want %q, got %q ok=%v", v, got, ok)
		}
		if c.Len() != 1 {
			t.Fatalf("one key, len=%d", c.Len())
		}

		// Get promotes without changing the value.
		if got2, ok := c.Get(k); !ok || got2 != v {
			t.Fatalf("after Get: want %q, got %q ok=%v", v, got2, ok)
		}

		// Fill past capacity: Len never exceeds Cap.
		for i := 0; i < 3*maxSize; i++ {
			c.Set(k+strings.Repeat("#", i+1), v)
			if l := c.Len(); l > maxSize {
				t.Fatalf("len %d exceeds max %d", l, maxSize)
			}
		}

		// Delete removes from both generations.
		c.Set(k, v)
		if !c.Delete(k) {
			t.Fatalf("Delete must return true")
		}
		if c.Has(k) {
			t.Fatalf("key must be absent after Delete")
		}
	})
}
