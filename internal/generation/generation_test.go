package generation

import (
	"slices"
	"testing"
)

func keysAsc[K comparable, V any](g *Generation[K, V]) []K {
	var out []K
	g.Ascend(func(k K, _ V) bool { out = append(out, k); return true })
	return out
}

func keysDesc[K comparable, V any](g *Generation[K, V]) []K {
	var out []K
	g.Descend(func(k K, _ V) bool { out = append(out, k); return true })
	return out
}

func TestGeneration_SetKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	g := New[string, int](4)
	if !g.Set("a", 1) || !g.Set("b", 2) || !g.Set("c", 3) {
		t.Fatal("first Set of a key must report added")
	}
	// Overwrite keeps position.
	if g.Set("a", 10) {
		t.Fatal("overwrite must not report added")
	}

	if got, want := keysAsc(g), []string{"a", "b", "c"}; !slices.Equal(got, want) {
		t.Fatalf("ascending: want %v, got %v", want, got)
	}
	if got, want := keysDesc(g), []string{"c", "b", "a"}; !slices.Equal(got, want) {
		t.Fatalf("descending: want %v, got %v", want, got)
	}
	if v, ok := g.Get("a"); !ok || v != 10 {
		t.Fatalf("Get a: want 10, got %v ok=%v", v, ok)
	}
}

func TestGeneration_DeleteAndReinsertMovesToNewest(t *testing.T) {
	t.Parallel()

	g := New[int, string](0)
	g.Set(1, "x")
	g.Set(2, "y")

	if v, ok := g.Delete(1); !ok || v != "x" {
		t.Fatalf("Delete 1: want x, got %q ok=%v", v, ok)
	}
	if _, ok := g.Delete(1); ok {
		t.Fatal("second Delete must report absent")
	}
	if g.Has(1) || g.Len() != 1 {
		t.Fatalf("after delete: has=%v len=%d", g.Has(1), g.Len())
	}

	g.Set(1, "z")
	if got, want := keysAsc(g), []int{2, 1}; !slices.Equal(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestGeneration_AscendStopsEarly(t *testing.T) {
	t.Parallel()

	g := New[int, int](8)
	for i := range 8 {
		g.Set(i, i)
	}
	n := 0
	g.Ascend(func(int, int) bool { n++; return n < 3 })
	if n != 3 {
		t.Fatalf("Ascend must stop after fn returns false, visited %d", n)
	}
}
