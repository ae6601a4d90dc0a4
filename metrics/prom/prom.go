package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/genlru/cache"
	"github.com/IvanBrykalov/genlru/replication"
)

// Adapter implements cache.Metrics and replication.Metrics and exports
// Prometheus counters/gauges. The same Adapter can be passed as
// Options.Metrics and Options.Replication.Metrics.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evicts    *prometheus.CounterVec
	rotations prometheus.Counter
	sizeEnt   prometheus.Gauge

	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	peers    prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	counterVec := func(name, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		}, []string{label})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		hits:      counter("hits_total", "Cache hits"),
		misses:    counter("misses_total", "Cache misses"),
		evicts:    counterVec("evictions_total", "Cache evictions by reason", "reason"),
		rotations: counter("rotations_total", "Generation rotations"),
		sizeEnt:   gauge("size_entries", "Number of resident entries"),

		sent:     counterVec("replication_sent_total", "Mutations queued for peers, by op", "op"),
		received: counterVec("replication_received_total", "Mutations received from peers, by op", "op"),
		dropped:  counterVec("replication_dropped_total", "Replication lines dropped, by reason", "reason"),
		peers:    gauge("replication_peers", "Connected replication peers"),
	}
	reg.MustRegister(
		a.hits, a.misses, a.evicts, a.rotations, a.sizeEnt,
		a.sent, a.received, a.dropped, a.peers,
	)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Rotate increments the rotation counter.
func (a *Adapter) Rotate() { a.rotations.Inc() }

// Size updates the resident entries gauge.
func (a *Adapter) Size(entries int) { a.sizeEnt.Set(float64(entries)) }

func (a *Adapter) Sent(op replication.Op)     { a.sent.WithLabelValues(op.String()).Inc() }
func (a *Adapter) Received(op replication.Op) { a.received.WithLabelValues(op.String()).Inc() }
func (a *Adapter) Dropped(reason string)      { a.dropped.WithLabelValues(reason).Inc() }
func (a *Adapter) Peers(n int)                { a.peers.Set(float64(n)) }

// Compile-time checks.
var (
	_ cache.Metrics       = (*Adapter)(nil)
	_ replication.Metrics = (*Adapter)(nil)
)
