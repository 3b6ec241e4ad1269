// Package prom exports gencache hook events as Prometheus metrics.
//
//	h := prom.New(prom.Options{})
//	svc, _ := gencache.New(ctx, gencache.Options[Icon]{Store: st, Hooks: h})
//	h.WatchStats(svc.Stats)
//	mux.Handle("/metrics", h.Handler())
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unkn0wn-root/gencache"
)

type Options struct {
	Namespace string               // "" => "gencache"
	Registry  *prometheus.Registry // nil => a fresh registry
}

type Hooks struct {
	reg *prometheus.Registry
	ns  string

	batches       *prometheus.CounterVec
	batchDuration prometheus.Histogram
	changed       prometheus.Counter
	expired       prometheus.Counter
	sweeps        prometheus.Counter
	generation    prometheus.Gauge
	strayTouches  prometheus.Counter
	protocolErrs  *prometheus.CounterVec
	clientDrops   *prometheus.CounterVec
}

var _ gencache.Hooks = (*Hooks)(nil)

func New(opts Options) *Hooks {
	ns := opts.Namespace
	if ns == "" {
		ns = "gencache"
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	h := &Hooks{
		reg: reg,
		ns:  ns,
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "batches_total",
			Help:      "Batches that reached the store, by result.",
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "batch_duration_seconds",
			Help:      "Latency of committed batches.",
			// 100us .. ~1.6s
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		changed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "entries_changed_total",
			Help:      "Entries broadcast as updated.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "entries_expired_total",
			Help:      "Entries deleted by sweeps.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sweeps_total",
			Help:      "Garbage-collection sweeps.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "generation",
			Help:      "Generation after the last committed batch.",
		}),
		strayTouches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "stray_touches_total",
			Help:      "Touches discarded because the key had no row.",
		}),
		protocolErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "protocol_errors_total",
			Help:      "Client messages dropped as malformed.",
		}, []string{"reason"}),
		clientDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "clients_dropped_total",
			Help:      "Clients disconnected by the transport.",
		}, []string{"reason"}),
	}
	reg.MustRegister(h.batches, h.batchDuration, h.changed, h.expired, h.sweeps,
		h.generation, h.strayTouches, h.protocolErrs, h.clientDrops)
	return h
}

// WatchStats registers gauges read from stats at scrape time.
func (h *Hooks) WatchStats(stats func() gencache.Stats) {
	h.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: h.ns,
			Name:      "clients",
			Help:      "Connected clients.",
		}, func() float64 { return float64(stats().Clients) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: h.ns,
			Name:      "pending_keys",
			Help:      "Keys waiting for the next batch.",
		}, func() float64 { return float64(stats().Pending) }),
	)
}

// Registry is where the metrics live, for callers that add their own.
func (h *Hooks) Registry() *prometheus.Registry { return h.reg }

func (h *Hooks) Handler() http.Handler {
	return promhttp.HandlerFor(h.reg, promhttp.HandlerOpts{})
}

func (h *Hooks) BatchCommitted(gen uint64, changed, expired int, took time.Duration) {
	h.batches.WithLabelValues("committed").Inc()
	h.batchDuration.Observe(took.Seconds())
	h.changed.Add(float64(changed))
	h.expired.Add(float64(expired))
	h.generation.Set(float64(gen))
}

func (h *Hooks) BatchFailed(uint64, error) { h.batches.WithLabelValues("failed").Inc() }

func (h *Hooks) Swept(uint64, uint64, int) { h.sweeps.Inc() }

func (h *Hooks) StrayTouch(string) { h.strayTouches.Inc() }

func (h *Hooks) ProtocolError(_, reason string) { h.protocolErrs.WithLabelValues(reason).Inc() }

func (h *Hooks) ClientDropped(_, reason string) { h.clientDrops.WithLabelValues(reason).Inc() }
