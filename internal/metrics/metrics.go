// Package metrics exposes Prometheus collectors for the sampling pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netstats"

// Metrics owns a private registry so tests and multiple instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	upstreamFailures *prometheus.CounterVec
	samplesCommitted prometheus.Counter
	hashrate         *prometheus.GaugeVec
	lastCommit       prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Evaluation cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one evaluation cycle including upstream fetches.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Upstream fetches that degraded to absent, by source.",
		}, []string{"source"}),
		samplesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_committed_total",
			Help:      "Samples persisted by the sampling engine.",
		}),
		hashrate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hashrate",
			Help:      "Last committed hashrate reading by source.",
		}, []string{"source"}),
		lastCommit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_commit_timestamp_seconds",
			Help:      "Unix time of the last committed sample.",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.upstreamFailures,
		m.samplesCommitted,
		m.hashrate,
		m.lastCommit,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle counts a finished cycle.
func (m *Metrics) ObserveCycle(outcome string, took time.Duration) {
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

// UpstreamFailure counts a source that returned nothing.
func (m *Metrics) UpstreamFailure(source string) {
	m.upstreamFailures.WithLabelValues(source).Inc()
}

// SampleCommitted records a persisted sample and its readings.
func (m *Metrics) SampleCommitted(at time.Time, readings map[string]float64) {
	m.samplesCommitted.Inc()
	m.lastCommit.Set(float64(at.Unix()))
	for source, v := range readings {
		m.hashrate.WithLabelValues(source).Set(v)
	}
}
