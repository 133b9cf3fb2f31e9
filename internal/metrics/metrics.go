package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genimage",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "genimage",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "endpoint"},
	)

	// Outbound provider calls by outcome (ok, rejected, unreachable, malformed, invalid).
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genimage",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total calls to external inference providers",
		},
		[]string{"model", "outcome"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "genimage",
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "External provider call duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"model"},
	)

	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genimage",
			Subsystem: "jobs",
			Name:      "transitions_total",
			Help:      "Job record status transitions",
		},
		[]string{"model", "status", "source"},
	)

	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genimage",
			Subsystem: "webhooks",
			Name:      "received_total",
			Help:      "Provider webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genimage",
			Subsystem: "worker",
			Name:      "reconcile_messages_total",
			Help:      "Reconcile messages consumed by result",
		},
		[]string{"result"},
	)

	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genimage",
			Subsystem: "storage",
			Name:      "s3_operations_total",
			Help:      "Total S3 operations",
		},
		[]string{"operation", "status"},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordProviderCall records one outbound call to an inference provider
func RecordProviderCall(model, outcome string, durationSec float64) {
	ProviderCallsTotal.WithLabelValues(model, outcome).Inc()
	ProviderDuration.WithLabelValues(model).Observe(durationSec)
}

// RecordJobTransition records a record reaching status; source is sync, async, webhook or reconcile
func RecordJobTransition(model, status, source string) {
	JobTransitionsTotal.WithLabelValues(model, status, source).Inc()
}

func RecordWebhook(outcome string) {
	WebhooksTotal.WithLabelValues(outcome).Inc()
}

func RecordReconcile(result string) {
	ReconcileMessagesTotal.WithLabelValues(result).Inc()
}

func RecordS3Operation(operation, status string) {
	S3OperationsTotal.WithLabelValues(operation, status).Inc()
}
