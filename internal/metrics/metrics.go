package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store holds the Prometheus metrics collectors.
type Store struct {
	Registry           *prometheus.Registry // Use a custom registry
	Up                 prometheus.Gauge
	ProbeTotal         *prometheus.CounterVec
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
}

// NewMetricsStore creates and registers Prometheus metrics.
func NewMetricsStore() *Store {
	registry := prometheus.NewRegistry()

	return &Store{
		Registry: registry,
		Up: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "opresolve_up",
			Help: "Indicates if the opresolve process is running (1 = running, 0 = not running).",
		}),
		ProbeTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "opresolve_probe_total",
			Help: "Credential tool readiness probes, labeled by outcome.",
		}, []string{"outcome"}), // ready, tool_missing, tool_error, unsupported_platform, decode_error, interrupted
		ResolutionsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "opresolve_resolutions_total",
			Help: "Secret resolutions, labeled by backend and outcome.",
		}, []string{"backend", "outcome"}), // outcome: resolved, not_found, error
		ResolutionDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opresolve_resolution_duration_seconds",
			Help:    "Duration of secret resolutions including the readiness probe.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}, []string{"backend"}),
	}
}

// ObserveProbe counts one probe. Safe on a nil Store.
func (s *Store) ObserveProbe(outcome string) {
	if s == nil {
		return
	}
	s.ProbeTotal.WithLabelValues(outcome).Inc()
}

// ObserveResolution counts one resolution and records its duration. Safe on a nil Store.
func (s *Store) ObserveResolution(backend, outcome string, d time.Duration) {
	if s == nil {
		return
	}
	s.ResolutionsTotal.WithLabelValues(backend, outcome).Inc()
	s.ResolutionDuration.WithLabelValues(backend).Observe(d.Seconds())
}
