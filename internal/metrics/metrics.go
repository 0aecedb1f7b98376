// Package metrics exposes Prometheus collectors for the inlining pipeline.
// All recording methods are safe to call on a nil *Metrics, which lets
// components run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inlinesvg"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	cacheLookups  *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	elements      *prometheus.CounterVec
	symbols       prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "SVG cache lookups by result.",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "SVG retrievals by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Duration of SVG retrievals.",
			Buckets:   prometheus.DefBuckets,
		}),
		elements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "elements",
			Name:      "total",
			Help:      "Elements seen by the activation controller by state.",
		}, []string{"state"}),
		symbols: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sprite",
			Name:      "symbols_total",
			Help:      "Symbol definitions created.",
		}),
	}

	m.registry.MustRegister(m.cacheLookups, m.fetches, m.fetchDuration, m.elements, m.symbols)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// FetchCompleted records one retrieval.
func (m *Metrics) FetchCompleted(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(outcome).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Metrics) ElementPending() {
	if m == nil {
		return
	}
	m.elements.WithLabelValues("pending").Inc()
}

func (m *Metrics) ElementProcessed() {
	if m == nil {
		return
	}
	m.elements.WithLabelValues("processed").Inc()
}

func (m *Metrics) ElementFailed() {
	if m == nil {
		return
	}
	m.elements.WithLabelValues("failed").Inc()
}

func (m *Metrics) SymbolCreated() {
	if m == nil {
		return
	}
	m.symbols.Inc()
}
