// Package metrics exposes Prometheus instrumentation for file operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vidstore"

// Metrics collects operation counters. A nil *Metrics, or one built with
// enabled=false, records nothing.
type Metrics struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	busy      prometheus.GaugeFunc
	registry  *prometheus.Registry
}

// New creates the collectors on a private registry. busyFiles is sampled on
// every scrape.
func New(enabled bool, busyFiles func() int) *Metrics {
	if !enabled {
		return &Metrics{}
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_started_total",
				Help:      "Total number of file operations launched",
			},
			[]string{"op"},
		),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_completed_total",
				Help:      "Total number of file operations finished, by result",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Wall time of background file operations",
				Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900},
			},
			[]string{"op"},
		),
	}
	if busyFiles != nil {
		m.busy = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "busy_files",
				Help:      "Number of files with an operation in flight",
			},
			func() float64 { return float64(busyFiles()) },
		)
		registry.MustRegister(m.busy)
	}
	registry.MustRegister(m.started, m.completed, m.duration)
	return m
}

func (m *Metrics) enabled() bool { return m != nil && m.registry != nil }

// OperationStarted counts a launched operation.
func (m *Metrics) OperationStarted(op string) {
	if !m.enabled() {
		return
	}
	m.started.WithLabelValues(op).Inc()
}

// OperationFinished records the result and duration of an operation.
func (m *Metrics) OperationFinished(op string, success bool, elapsed time.Duration) {
	if !m.enabled() {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.completed.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Handler serves the exposition format. Disabled metrics answer 404.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
