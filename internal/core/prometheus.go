package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports operation outcomes as a counter
// vector and a duration histogram.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder constructs a recorder and registers its
// collectors with the supplied registerer. A nil registerer falls back
// to the process-default registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracecore",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Service operations partitioned by operation and outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tracecore",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if err := reg.Register(rec.operations); err != nil {
		return nil, err
	}
	if err := reg.Register(rec.durations); err != nil {
		return nil, err
	}
	return rec, nil
}

// Observe implements the MetricsRecorder interface.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}
