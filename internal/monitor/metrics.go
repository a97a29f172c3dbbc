// Package monitor exports process, cache and search metrics to Prometheus.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fedquery"

// Metrics implements the cache and search metric hooks over a private
// registry
type Metrics struct {
	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheBytes     prometheus.Gauge
	cacheEntries   prometheus.Gauge

	searchDuration   prometheus.Histogram
	searchResults    prometheus.Histogram
	legFailures      *prometheus.CounterVec
	queriesGenerated *prometheus.CounterVec

	memory *MemoryMonitor
}

// NewMetrics creates and registers every collector, including the Go runtime
// and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Result cache lookups served from the cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Result cache lookups that found nothing.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted to stay within the size budget.",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "size_bytes",
			Help:      "Bytes held by the in-memory result cache.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries held by the in-memory result cache.",
		}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Federated search latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Results per federated search before pagination.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		legFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "leg_failures_total",
			Help:      "Failures isolated to one search leg, by leg and error type.",
		}, []string{"leg", "type"}),
		queriesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "generated_total",
			Help:      "Generated queries by generation stage.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cacheHits,
		m.cacheMisses,
		m.cacheEvictions,
		m.cacheBytes,
		m.cacheEntries,
		m.searchDuration,
		m.searchResults,
		m.legFailures,
		m.queriesGenerated,
	)

	m.memory = NewMemoryMonitor(reg)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Memory returns the runtime memory sampler
func (m *Metrics) Memory() *MemoryMonitor {
	return m.memory
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheHit() {
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	m.cacheMisses.Inc()
}

func (m *Metrics) CacheEviction() {
	m.cacheEvictions.Inc()
}

func (m *Metrics) CacheSize(bytes int64, entries int) {
	m.cacheBytes.Set(float64(bytes))
	m.cacheEntries.Set(float64(entries))
}

func (m *Metrics) SearchCompleted(duration time.Duration, results int) {
	m.searchDuration.Observe(duration.Seconds())
	m.searchResults.Observe(float64(results))
}

func (m *Metrics) LegFailed(leg string, errType string) {
	m.legFailures.WithLabelValues(leg, errType).Inc()
}

func (m *Metrics) QueryGenerated(stage string) {
	m.queriesGenerated.WithLabelValues(stage).Inc()
}
