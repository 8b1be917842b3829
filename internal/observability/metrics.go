package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for cargobot.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Command dispatch metrics.
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Confirmation protocol metrics.
	ConfirmationsTotal *prometheus.CounterVec

	// CRM backend metrics.
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec

	// Telegram gateway metrics.
	MessagesTotal *prometheus.CounterVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cargobot",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cargobot",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cargobot",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "model", "direction"}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cargobot",
			Subsystem: "command",
			Name:      "dispatched_total",
			Help:      "Total tool commands dispatched.",
		}, []string{"tool", "status"}),

		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cargobot",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Tool command handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		ConfirmationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cargobot",
			Subsystem: "confirmation",
			Name:      "total",
			Help:      "Mutation confirmation protocol outcomes.",
		}, []string{"action", "outcome"}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cargobot",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Total CRM backend requests.",
		}, []string{"method", "path", "status_code"}),

		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cargobot",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "CRM backend request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cargobot",
			Subsystem: "telegram",
			Name:      "messages_total",
			Help:      "Total Telegram updates handled.",
		}, []string{"kind", "role"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cargobot",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.CommandsTotal,
		m.CommandDuration,
		m.ConfirmationsTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.MessagesTotal,
		m.ActiveRequests,
	)

	return m
}

// RecordCommand records one dispatched tool command.
// Safe to call on a nil collector.
func (m *MetricsCollector) RecordCommand(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(tool, status).Inc()
	m.CommandDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordConfirmation records a confirmation protocol outcome
// ("proposed", "confirmed", "cancelled", "expired", "stale").
func (m *MetricsCollector) RecordConfirmation(action, outcome string) {
	if m == nil {
		return
	}
	m.ConfirmationsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordLLMRequest records one model call.
func (m *MetricsCollector) RecordLLMRequest(provider, model, status string, seconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(seconds)
}

// RecordTokens records token usage for one model call.
func (m *MetricsCollector) RecordTokens(provider, model string, input, output int) {
	if m == nil {
		return
	}
	m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(input))
	m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(output))
}

// RecordBackendRequest records one CRM backend round trip.
func (m *MetricsCollector) RecordBackendRequest(method, path, statusCode string, seconds float64) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.BackendRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordMessage records one handled Telegram update.
func (m *MetricsCollector) RecordMessage(kind, role string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(kind, role).Inc()
}
