package cache

import (
	"slices"
	"testing"
)

// state after: Set a,b,c (rotation, prev = a,b,c), Set d, Get b (promoted).
// prev = a,c   cur = d,b
func iterFixture(t *testing.T) Cache[string, int] {
	t.Helper()
	c := MustNew[string, int](Options[string, int]{MaxSize: 3})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1).Set("b", 2).Set("c", 3).Set("d", 4)
	if _, ok := c.Get("b"); !ok {
		t.Fatal("b must be resident")
	}
	return c
}

func collect(seq func(func(string, int) bool)) []string {
	var out []string
	seq(func(k string, _ int) bool {
		out = append(out, k)
		return true
	})
	return out
}

func TestIter_Orders(t *testing.T) {
	t.Parallel()

	c := iterFixture(t)

	if got, want := collect(c.All()), []string{"d", "b", "a", "c"}; !slices.Equal(got, want) {
		t.Fatalf("All: want %v, got %v", want, got)
	}
	if got, want := collect(c.Ascending()), []string{"a", "c", "d", "b"}; !slices.Equal(got, want) {
		t.Fatalf("Ascending: want %v, got %v", want, got)
	}
	if got, want := collect(c.Descending()), []string{"b", "d", "c", "a"}; !slices.Equal(got, want) {
		t.Fatalf("Descending: want %v, got %v", want, got)
	}
}

func TestIter_KeysAndValues(t *testing.T) {
	t.Parallel()

	c := iterFixture(t)

	keys := slices.Collect(c.Keys())
	if want := []string{"d", "b", "a", "c"}; !slices.Equal(keys, want) {
		t.Fatalf("Keys: want %v, got %v", want, keys)
	}
	vals := slices.Collect(c.Values())
	if want := []int{4, 2, 1, 3}; !slices.Equal(vals, want) {
		t.Fatalf("Values: want %v, got %v", want, vals)
	}
}

func TestIter_EarlyBreakAndReentrancy(t *testing.T) {
	t.Parallel()

	c := iterFixture(t)

	n := 0
	for k := range c.Keys() {
		n++
		// The loop body may call back into the cache.
		c.Delete(k)
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("break must stop iteration, visited %d", n)
	}
	if got := slices.Collect(c.Keys()); !slices.Equal(got, []string{"a", "c"}) {
		t.Fatalf("remaining keys: %v", got)
	}
}

func TestIter_SkipsShadowedPrevious(t *testing.T) {
	t.Parallel()

	c := MustNew[string, int](Options[string, int]{MaxSize: 2})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1).Set("b", 2) // prev = a,b
	c.Set("a", 10)            // cur = a (shadows prev a)

	got := map[string]int{}
	for k, v := range c.Descending() {
		if _, dup := got[k]; dup {
			t.Fatalf("key %q yielded twice", k)
		}
		got[k] = v
	}
	if len(got) != 2 || got["a"] != 10 || got["b"] != 2 {
		t.Fatalf("unexpected entries %v", got)
	}
}
