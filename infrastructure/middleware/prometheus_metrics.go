// Package middleware provides cross-cutting concerns for the ensembling
// engine.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/go-quorum/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It provides real-time monitoring of screening throughput,
// verdict outcomes, combination latency, and weight-fit convergence.
type PrometheusMetrics struct {
	screenVerdicts   *prometheus.CounterVec
	operationCounter *prometheus.CounterVec
	executionLatency *prometheus.HistogramVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and registers
// all required metrics with the given registerer. Pass
// prometheus.DefaultRegisterer for the global registry; tests supply their
// own to avoid duplicate-registration panics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		screenVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_screen_verdicts_total",
				Help: "Eligibility verdicts emitted, by screen and status.",
			},
			[]string{"screen", "status"},
		),
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_operations_total",
				Help: "Total operations performed by the ensembling pipeline.",
			},
			[]string{"operation", "status"},
		),
		executionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ensemble_operation_duration_seconds",
				Help:    "Execution time of pipeline operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		systemGauges: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ensemble_system_state",
				Help: "Current state values for the ensembling pipeline.",
			},
			[]string{"metric"},
		),
	}
	reg.MustRegister(pm.screenVerdicts, pm.operationCounter, pm.executionLatency, pm.systemGauges)
	return pm
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.executionLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters. Screen verdict counts route to the dedicated
// per-screen vector; everything else lands on the operation counter.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "screen_verdicts":
		pm.screenVerdicts.WithLabelValues(labels["screen"], labels["status"]).Add(value)
	default:
		status, ok := labels["status"]
		if !ok {
			status = "success"
		}
		pm.operationCounter.WithLabelValues(metric, status).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	pm.executionLatency.WithLabelValues(metric).Observe(value)
}

// Compile-time verification that PrometheusMetrics implements
// MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
