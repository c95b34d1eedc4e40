// Package metrics exposes Prometheus counters for runs, sampling and
// generation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelkit/reel-agent/internal/artifacts"
)

// Metrics holds the agent's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	runsTotal          *prometheus.CounterVec
	framesSampledTotal prometheus.Counter
	breakdownAttempts  *prometheus.CounterVec
	generationsTotal   *prometheus.CounterVec
	generationSeconds  *prometheus.HistogramVec
	generationsActive  *prometheus.GaugeVec
	activeSessions     prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reel_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reel_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reel_runs_total",
			Help: "Breakdown runs by source kind and final status",
		}, []string{"source", "status"}),
		framesSampledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reel_frames_sampled_total",
			Help: "Frames extracted from local sources",
		}),
		breakdownAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reel_breakdown_attempts_total",
			Help: "Breakdown service calls by outcome",
		}, []string{"outcome"}),
		generationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reel_generations_total",
			Help: "Finished artifact generations by kind and outcome",
		}, []string{"kind", "outcome"}),
		generationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reel_generation_duration_seconds",
			Help:    "Gateway latency per artifact generation",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160, 320},
		}, []string{"kind"}),
		generationsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reel_generations_in_flight",
			Help: "Artifact generations currently calling the gateway",
		}, []string{"kind"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reel_active_sessions",
			Help: "Runs held in memory",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.runsTotal,
		m.framesSampledTotal,
		m.breakdownAttempts,
		m.generationsTotal,
		m.generationSeconds,
		m.generationsActive,
		m.activeSessions,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

func (m *Metrics) RunFinished(source, status string) {
	m.runsTotal.WithLabelValues(source, status).Inc()
}

func (m *Metrics) FramesSampled(n int) {
	m.framesSampledTotal.Add(float64(n))
}

func (m *Metrics) BreakdownAttempt(outcome string) {
	m.breakdownAttempts.WithLabelValues(outcome).Inc()
}

// SetActiveSessions sets the in-memory session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// GenerationStarted implements artifacts.Recorder.
func (m *Metrics) GenerationStarted(kind artifacts.Kind) {
	m.generationsActive.WithLabelValues(string(kind)).Inc()
}

// GenerationFinished implements artifacts.Recorder.
func (m *Metrics) GenerationFinished(kind artifacts.Kind, outcome string, elapsed time.Duration) {
	m.generationsActive.WithLabelValues(string(kind)).Dec()
	m.generationsTotal.WithLabelValues(string(kind), outcome).Inc()
	m.generationSeconds.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
