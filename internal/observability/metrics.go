package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects guard and server metrics.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordEvaluation("tool_call", "blocked")
//	metrics.RecordBlockedSegment("persistent")
type Metrics struct {
	// Evaluations counts evaluated commands.
	// Labels: entry (tool_call|user_bash|check), verdict (allowed|blocked)
	Evaluations *prometheus.CounterVec

	// BlockedSegments counts blocked segments by deciding layer.
	// Labels: layer (session|persistent)
	BlockedSegments *prometheus.CounterVec

	// Mutations counts policy commands.
	// Labels: command, outcome (added|removed|covered|unchanged|reset|invalid|error)
	Mutations *prometheus.CounterVec

	// RuleCount tracks the current number of rules per set.
	// Labels: layer, kind (block|permit)
	RuleCount *prometheus.GaugeVec

	// StoreOperations counts store loads and saves.
	// Labels: operation (load|save), status (success|not_found|error)
	StoreOperations *prometheus.CounterVec

	// StoreDuration measures store latency in seconds.
	// Labels: operation
	StoreDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdguard_evaluations_total",
				Help: "Total number of evaluated commands by entry point and verdict",
			},
			[]string{"entry", "verdict"},
		),

		BlockedSegments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdguard_blocked_segments_total",
				Help: "Total number of blocked command segments by deciding layer",
			},
			[]string{"layer"},
		),

		Mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdguard_policy_mutations_total",
				Help: "Total number of policy commands by command and outcome",
			},
			[]string{"command", "outcome"},
		),

		RuleCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cmdguard_rules",
				Help: "Current number of rules by layer and kind",
			},
			[]string{"layer", "kind"},
		),

		StoreOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdguard_store_operations_total",
				Help: "Total number of rule store operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cmdguard_store_operation_duration_seconds",
				Help:    "Duration of rule store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cmdguard_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdguard_http_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordEvaluation counts one evaluated command. A nil receiver is a no-op.
func (m *Metrics) RecordEvaluation(entry, verdict string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(entry, verdict).Inc()
}

// RecordBlockedSegment counts one blocked segment.
func (m *Metrics) RecordBlockedSegment(layer string) {
	if m == nil {
		return
	}
	m.BlockedSegments.WithLabelValues(layer).Inc()
}

// RecordMutation counts one policy command outcome.
func (m *Metrics) RecordMutation(command, outcome string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(command, outcome).Inc()
}

// SetRuleCount sets the size of one rule set.
func (m *Metrics) SetRuleCount(layer, kind string, n int) {
	if m == nil {
		return
	}
	m.RuleCount.WithLabelValues(layer, kind).Set(float64(n))
}

// RecordStoreOperation records a store load or save.
func (m *Metrics) RecordStoreOperation(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(operation, status).Inc()
	m.StoreDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(duration.Seconds())
}
