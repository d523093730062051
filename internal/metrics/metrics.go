package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_turns_started_total",
			Help: "Total number of orchestrator turns started",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_completed_total",
			Help: "Total number of orchestrator turns completed",
		},
		[]string{"status"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_turn_duration_seconds",
			Help:    "Orchestrator turn duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sub-agent metrics
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_tool_invocations_total",
			Help: "Total number of sub-agent tool invocations",
		},
		[]string{"tool_name", "status"},
	)

	ToolInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_tool_invocation_duration_ms",
			Help:    "Sub-agent invocation duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"tool_name"},
	)

	// Classifier metrics
	ClassifierMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_classifier_messages_total",
			Help: "Total number of backend messages classified, by kind",
		},
		[]string{"kind"},
	)

	// Backend metrics
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_backend_request_duration_seconds",
			Help:    "Data chat backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ConversationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_conversations_created_total",
			Help: "Total number of backend conversations created",
		},
		[]string{"agent"},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_sessions_active",
			Help: "Number of active sessions",
		},
	)

	// Session cache metrics
	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_session_cache_hits_total",
			Help: "Total number of session cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_session_cache_misses_total",
			Help: "Total number of session cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_session_cache_size",
			Help: "Current number of sessions in local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_session_cache_evictions_total",
			Help: "Total number of sessions evicted from cache",
		},
	)

	// Grounding metrics
	GroundingSourcesCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_grounding_sources_collected_total",
			Help: "Total number of web grounding sources collected",
		},
	)
)

// RecordTurnMetrics records metrics for a completed turn
func RecordTurnMetrics(status string, durationSeconds float64) {
	TurnsCompleted.WithLabelValues(status).Inc()
	TurnDuration.Observe(durationSeconds)
}

// RecordToolInvocation records metrics for a sub-agent invocation
func RecordToolInvocation(toolName, status string, durationMs float64) {
	ToolInvocations.WithLabelValues(toolName, status).Inc()
	ToolInvocationDuration.WithLabelValues(toolName).Observe(durationMs)
}

// RecordBackendRequest records the latency of a data chat backend call
func RecordBackendRequest(operation string, durationSeconds float64) {
	BackendRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}
