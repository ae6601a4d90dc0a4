// Command bench drives a skewed read/write workload against a generational
// cache and reports how often lookups land in each generation's lifetime:
// hit rate, rotations and evictions. Metrics and pprof can be served while it
// runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/genlru/cache"
	pmet "github.com/IvanBrykalov/genlru/metrics/prom"
)

type workload struct {
	maxSize  int
	resizeTo int
	spread   float64 // keyspace as a multiple of maxSize
	reads    int     // percent
	workers  int
	duration time.Duration
	zipfS    float64
	seed     int64
}

func (w workload) keys() uint64 { return uint64(max(1, int(w.spread*float64(w.maxSize)))) }

type counters struct {
	reads, writes, hits atomic.Uint64
}

func main() {
	var w workload
	flag.IntVar(&w.maxSize, "max-size", 100_000, "cache capacity (insertions per generation)")
	flag.IntVar(&w.resizeTo, "resize", 0, "resize to this capacity halfway through (0 = never)")
	flag.Float64Var(&w.spread, "spread", 4, "keyspace size as a multiple of max-size")
	flag.IntVar(&w.reads, "reads", 80, "read percentage [0..100]")
	flag.IntVar(&w.workers, "workers", 2*runtime.GOMAXPROCS(0), "worker goroutines")
	flag.DurationVar(&w.duration, "duration", 10*time.Second, "run time")
	flag.Float64Var(&w.zipfS, "zipf-s", 1.1, "Zipf skew, > 1")
	flag.Int64Var(&w.seed, "seed", time.Now().UnixNano(), "random seed")
	pprofAddr := flag.String("pprof", "", "serve pprof at addr (e.g. :6060)")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics at addr (e.g. :8080)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	reg := prometheus.NewRegistry()
	met := pmet.New(reg, "genlru", "bench", nil)
	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	for _, addr := range []string{*pprofAddr, *metricsAddr} {
		if addr == "" {
			continue
		}
		go func() {
			log.Info().Str("addr", addr).Msg("serving debug endpoints")
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("debug server stopped")
			}
		}()
	}

	c, err := cache.New[uint64, uint64](cache.Options[uint64, uint64]{
		MaxSize: w.maxSize,
		Metrics: met,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("cache")
	}
	defer func() { _ = c.Close() }()

	// Fill one generation so the run starts with a rotation behind it.
	for k := range min(w.keys(), uint64(w.maxSize)) {
		c.Set(k, k)
	}

	var n counters
	start := time.Now()
	if err := run(c, w, &n, log); err != nil {
		log.Fatal().Err(err).Msg("workload")
	}
	report(c, w, &n, time.Since(start))
}

func run(c cache.Cache[uint64, uint64], w workload, n *counters, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if w.resizeTo > 0 {
		g.Go(func() error {
			select {
			case <-time.After(w.duration / 2):
				from := c.Cap()
				if err := c.Resize(w.resizeTo); err != nil {
					return fmt.Errorf("resize: %w", err)
				}
				log.Info().Int("from", from).Int("to", w.resizeTo).Int("len", c.Len()).Msg("resized")
			case <-ctx.Done():
			}
			return nil
		})
	}

	for id := range max(w.workers, 1) {
		g.Go(func() error {
			// rand.Rand is not safe for concurrent use: one per worker.
			r := rand.New(rand.NewSource(w.seed + int64(id)*9973))
			zipf := rand.NewZipf(r, w.zipfS, 1, w.keys()-1)
			for ctx.Err() == nil {
				k := zipf.Uint64()
				if r.Intn(100) < w.reads {
					n.reads.Add(1)
					if _, ok := c.Get(k); ok {
						n.hits.Add(1)
					}
					continue
				}
				n.writes.Add(1)
				c.Set(k, r.Uint64())
			}
			return nil
		})
	}
	return g.Wait()
}

func report(c cache.Cache[uint64, uint64], w workload, n *counters, elapsed time.Duration) {
	reads, writes, hits := n.reads.Load(), n.writes.Load(), n.hits.Load()
	ops := reads + writes

	hitRate := 0.0
	if reads > 0 {
		hitRate = float64(hits) / float64(reads) * 100
	}
	st := c.Stats()

	fmt.Printf("max-size=%d keys=%d (%.1fx) resize=%d workers=%d dur=%v seed=%d\n",
		w.maxSize, w.keys(), w.spread, w.resizeTo, w.workers, elapsed.Round(time.Millisecond), w.seed)
	fmt.Printf("ops=%d (%.0f ops/s) reads=%d writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), reads, writes)
	fmt.Printf("hit-rate=%.2f%% rotations=%d evictions=%d\n", hitRate, st.Rotations, st.Evictions)
	if st.Rotations > 0 {
		fmt.Printf("ops per rotation=%.0f\n", float64(ops)/float64(st.Rotations))
	}
	fmt.Printf("Len()=%d Cap()=%d\n", c.Len(), c.Cap())
}
