// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// JobsActive tracks generation jobs currently registered.
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_jobs_active",
			Help: "Number of generation jobs currently in flight",
		},
	)

	// JobsTotal tracks terminated generation jobs by outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_total",
			Help: "Total generation jobs by terminal outcome",
		},
		[]string{"outcome"},
	)

	// JobDuration tracks generation job duration by kind.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_job_duration_seconds",
			Help:    "Generation job duration from registration to completion",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"kind", "outcome"},
	)

	// StreamIncrementsTotal tracks streamed increments folded into messages.
	StreamIncrementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_stream_increments_total",
			Help: "Streamed content and thought increments applied",
		},
		[]string{"type"},
	)

	// ThrottleQueueDepth tracks jobs waiting on a conversation lane.
	ThrottleQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_throttle_queue_depth",
			Help: "Jobs queued behind an active job on the same conversation",
		},
	)

	// ProviderTokensTotal tracks tokens reported by the model-serving backend.
	ProviderTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_tokens_total",
			Help: "Tokens reported by the generation provider",
		},
		[]string{"model", "direction"},
	)

	// RetryConflictsTotal tracks retries rejected by the version ledger.
	RetryConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retry_conflicts_total",
			Help: "Retry requests rejected because one was already in flight",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// PersistFailuresTotal tracks persistence hook failures.
	PersistFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "persist_failures_total",
			Help: "Persistence hook invocations that returned an error",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordJob records terminal metrics for a generation job.
func RecordJob(kind, outcome string, duration float64) {
	JobsTotal.WithLabelValues(outcome).Inc()
	JobDuration.WithLabelValues(kind, outcome).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

// RecordUsage records provider token usage for a model.
func RecordUsage(model string, promptTokens, completionTokens int) {
	ProviderTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	ProviderTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
}
