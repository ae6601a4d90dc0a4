package cache

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
)

// Keyspaces are expressed relative to MaxSize: below it nothing is ever
// rotated out, above it every hit in the previous generation is a promotion
// and misses grow with the spread.
var spreads = []float64{0.5, 2, 8}

const benchMaxSize = 1 << 14

func warm(c Cache[int, int], keys int) {
	for k := range min(keys, benchMaxSize) {
		c.Set(k, k)
	}
}

func BenchmarkCache_Mix(b *testing.B) {
	for _, reads := range []int{90, 50} {
		for _, spread := range spreads {
			keys := int(spread * benchMaxSize)
			b.Run(fmt.Sprintf("reads=%d/keys=%.1fx", reads, spread), func(b *testing.B) {
				c := MustNew[int, int](Options[int, int]{MaxSize: benchMaxSize})
				b.Cleanup(func() { _ = c.Close() })
				warm(c, keys)

				var seed atomic.Int64
				b.ReportAllocs()
				b.ResetTimer()
				b.RunParallel(func(pb *testing.PB) {
					r := rand.New(rand.NewSource(seed.Add(1)))
					for pb.Next() {
						k := r.Intn(keys)
						if r.Intn(100) < reads {
							c.Get(k)
						} else {
							c.Set(k, k)
						}
					}
				})
				b.StopTimer()

				st := c.Stats()
				if lookups := st.Hits + st.Misses; lookups > 0 {
					b.ReportMetric(float64(st.Hits)/float64(lookups)*100, "hit%")
				}
				b.ReportMetric(float64(st.Rotations), "rotations")
			})
		}
	}
}

// BenchmarkCache_Promote reads keys that only live in the previous
// generation, so every Get moves an entry and rotation follows every
// MaxSize reads.
func BenchmarkCache_Promote(b *testing.B) {
	c := MustNew[int, int](Options[int, int]{MaxSize: benchMaxSize})
	b.Cleanup(func() { _ = c.Close() })
	warm(c, benchMaxSize)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := i % benchMaxSize
		if _, ok := c.Get(k); !ok {
			c.Set(k, k)
		}
	}
}

// BenchmarkCache_Rotation measures the insert path when every write is a new
// key and the cache rotates every MaxSize writes.
func BenchmarkCache_Rotation(b *testing.B) {
	c := MustNew[int, int](Options[int, int]{MaxSize: 1_024})
	b.Cleanup(func() { _ = c.Close() })

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(i, i)
	}
}

// Len walks the previous generation whenever the current one is not empty.
func BenchmarkCache_Len(b *testing.B) {
	c := MustNew[int, int](Options[int, int]{MaxSize: benchMaxSize})
	b.Cleanup(func() { _ = c.Close() })
	warm(c, 2*benchMaxSize)
	c.Set(-1, -1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Len()
	}
}

func BenchmarkCache_Resize(b *testing.B) {
	c := MustNew[int, int](Options[int, int]{MaxSize: benchMaxSize})
	b.Cleanup(func() { _ = c.Close() })
	warm(c, benchMaxSize)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n := benchMaxSize
		if i%2 == 0 {
			n /= 2
		}
		if err := c.Resize(n); err != nil {
			b.Fatal(err)
		}
	}
}
