// Package metrics exposes Prometheus collectors for the lookup server and client.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ServerMetrics tracks session and query handling on the server.
type ServerMetrics struct {
	setups        *prometheus.CounterVec
	checks        *prometheus.CounterVec
	queries       *prometheus.CounterVec
	answerLatency *prometheus.HistogramVec
	sessions      prometheus.Gauge
	reloads       *prometheus.CounterVec
}

// ClientMetrics tracks lookups on the client.
type ClientMetrics struct {
	lookups       *prometheus.CounterVec
	regenerations *prometheus.CounterVec
	cacheHits     prometheus.Counter
	latency       *prometheus.HistogramVec
}

var (
	serverOnce     sync.Once
	serverRegistry *ServerMetrics

	clientOnce     sync.Once
	clientRegistry *ClientMetrics
)

// Server returns the process-wide server metrics, registering them on first use.
func Server() *ServerMetrics {
	serverOnce.Do(func() {
		serverRegistry = &ServerMetrics{
			setups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lookup_server_setups_total",
				Help: "Public parameter uploads by outcome.",
			}, []string{"outcome"}),
			checks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lookup_server_checks_total",
				Help: "Session checks by result.",
			}, []string{"result"}),
			queries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lookup_server_queries_total",
				Help: "Answered queries by mode and outcome.",
			}, []string{"mode", "outcome"}),
			answerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lookup_server_answer_seconds",
				Help:    "Time spent evaluating a query.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			}, []string{"mode"}),
			sessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lookup_server_sessions",
				Help: "Registered sessions.",
			}),
			reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lookup_server_reloads_total",
				Help: "Dataset reloads by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			serverRegistry.setups,
			serverRegistry.checks,
			serverRegistry.queries,
			serverRegistry.answerLatency,
			serverRegistry.sessions,
			serverRegistry.reloads,
		)
	})
	return serverRegistry
}

// Client returns the process-wide client metrics, registering them on first use.
func Client() *ClientMetrics {
	clientOnce.Do(func() {
		clientRegistry = &ClientMetrics{
			lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lookup_client_lookups_total",
				Help: "Lookups by variant and outcome.",
			}, []string{"variant", "outcome"}),
			regenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lookup_client_credential_regenerations_total",
				Help: "Credential regenerations by prior state.",
			}, []string{"state"}),
			cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lookup_client_bucket_cache_hits_total",
				Help: "Lookups served from the bucket cache.",
			}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lookup_client_lookup_seconds",
				Help:    "End-to-end lookup latency.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			}, []string{"variant"}),
		}
		prometheus.MustRegister(
			clientRegistry.lookups,
			clientRegistry.regenerations,
			clientRegistry.cacheHits,
			clientRegistry.latency,
		)
	})
	return clientRegistry
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func (m *ServerMetrics) ObserveSetup(outcome string) {
	if m == nil {
		return
	}
	m.setups.WithLabelValues(label(outcome)).Inc()
}

func (m *ServerMetrics) ObserveCheck(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.checks.WithLabelValues(result).Inc()
}

// ObserveQuery records an answered query and its evaluation time.
func (m *ServerMetrics) ObserveQuery(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(label(mode), label(outcome)).Inc()
	if outcome == "ok" {
		m.answerLatency.WithLabelValues(label(mode)).Observe(elapsed.Seconds())
	}
}

func (m *ServerMetrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *ServerMetrics) ObserveReload(outcome string) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(label(outcome)).Inc()
}

// ObserveLookup records a finished lookup.
func (m *ClientMetrics) ObserveLookup(variant, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(label(variant), label(outcome)).Inc()
	m.latency.WithLabelValues(label(variant)).Observe(elapsed.Seconds())
}

func (m *ClientMetrics) ObserveRegeneration(state string) {
	if m == nil {
		return
	}
	m.regenerations.WithLabelValues(label(state)).Inc()
}

func (m *ClientMetrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}
