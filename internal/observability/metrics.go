package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Call lifecycle (active calls, durations, end reasons)
//   - Dial attempts and outcomes against the telephony gateway
//   - Silence escalations by level
//   - Dialogue generation performance per provider
//   - Tool invocations from the dialogue model
//   - Errors categorized by component and type
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.CallStarted()
//	defer metrics.CallEnded("completed", time.Since(start).Seconds())
type Metrics struct {
	// CallsTotal counts calls by final end reason.
	// Labels: reason (completed|voicemail|silence|transfer|disconnect|dial-failed)
	CallsTotal *prometheus.CounterVec

	// ActiveCalls is a gauge tracking currently running call sessions.
	ActiveCalls prometheus.Gauge

	// CallDuration measures call lifetime in seconds.
	// Labels: reason
	// Buckets: 5s, 15s, 30s, 60s, 120s, 300s, 600s, 1800s
	CallDuration *prometheus.HistogramVec

	// DialAttempts counts individual dial attempts.
	// Labels: status (success|error)
	DialAttempts *prometheus.CounterVec

	// DialDuration measures time to an answered call in seconds.
	// Buckets: 1s, 2s, 5s, 10s, 20s, 30s, 60s
	DialDuration prometheus.Histogram

	// UserTurns counts completed user turns across all calls.
	UserTurns prometheus.Counter

	// SilenceEscalations counts silence-monitor escalations.
	// Labels: level (1|2|emergency)
	SilenceEscalations *prometheus.CounterVec

	// GenerationRequests counts dialogue-generation requests.
	// Labels: provider (openai|anthropic), status (success|error)
	GenerationRequests *prometheus.CounterVec

	// GenerationDuration measures dialogue-generation latency in seconds.
	// Labels: provider
	// Buckets: 0.1s, 0.25s, 0.5s, 1s, 2s, 5s, 10s, 30s
	GenerationDuration *prometheus.HistogramVec

	// ToolInvocations counts tool calls dispatched from the dialogue model.
	// Labels: tool, status (success|error)
	ToolInvocations *prometheus.CounterVec

	// Terminations counts termination-sequence outcomes.
	// Labels: status (success|already-gone|error)
	Terminations *prometheus.CounterVec

	// GatewayRequestDuration measures telephony gateway HTTP call latency.
	// Labels: method (twirp method name), status (success|error)
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 15s, 45s
	GatewayRequestDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (dial|controller|monitor|dialogue|media|store), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics register with the default registry and are served by the
// /metrics endpoint of the metrics listener.
func NewMetrics() *Metrics {
	return &Metrics{
		CallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_calls_total",
				Help: "Total number of calls by end reason",
			},
			[]string{"reason"},
		),

		ActiveCalls: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "outdial_active_calls",
				Help: "Current number of active call sessions",
			},
		),

		CallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outdial_call_duration_seconds",
				Help:    "Duration of calls in seconds",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"reason"},
		),

		DialAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_dial_attempts_total",
				Help: "Total number of dial attempts by status",
			},
			[]string{"status"},
		),

		DialDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "outdial_dial_duration_seconds",
				Help:    "Time from dial start to answered call in seconds",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
			},
		),

		UserTurns: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "outdial_user_turns_total",
				Help: "Total number of completed user turns",
			},
		),

		SilenceEscalations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_silence_escalations_total",
				Help: "Total number of silence escalations by level",
			},
			[]string{"level"},
		),

		GenerationRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_generation_requests_total",
				Help: "Total number of dialogue generation requests by provider and status",
			},
			[]string{"provider", "status"},
		),

		GenerationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outdial_generation_duration_seconds",
				Help:    "Duration of dialogue generation requests in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		),

		ToolInvocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_tool_invocations_total",
				Help: "Total number of tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		Terminations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_terminations_total",
				Help: "Total number of termination sequences by outcome",
			},
			[]string{"status"},
		),

		GatewayRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outdial_gateway_request_duration_seconds",
				Help:    "Duration of telephony gateway requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 45},
			},
			[]string{"method", "status"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// CallStarted increments the active-calls gauge.
func (m *Metrics) CallStarted() {
	m.ActiveCalls.Inc()
}

// CallEnded decrements the active-calls gauge and records the call outcome.
func (m *Metrics) CallEnded(reason string, durationSeconds float64) {
	m.ActiveCalls.Dec()
	m.CallsTotal.WithLabelValues(reason).Inc()
	m.CallDuration.WithLabelValues(reason).Observe(durationSeconds)
}

// RecordDialAttempt records a single dial attempt.
func (m *Metrics) RecordDialAttempt(status string) {
	m.DialAttempts.WithLabelValues(status).Inc()
}

// RecordDialAnswered records the time it took to reach an answered call.
func (m *Metrics) RecordDialAnswered(durationSeconds float64) {
	m.DialDuration.Observe(durationSeconds)
}

// RecordUserTurn increments the user-turn counter.
func (m *Metrics) RecordUserTurn() {
	m.UserTurns.Inc()
}

// RecordEscalation records a silence escalation at the given level
// ("1", "2", or "emergency").
func (m *Metrics) RecordEscalation(level string) {
	m.SilenceEscalations.WithLabelValues(level).Inc()
}

// RecordGeneration records metrics for a dialogue generation request.
//
// Example:
//
//	start := time.Now()
//	// ... generate reply ...
//	metrics.RecordGeneration("openai", "success", time.Since(start).Seconds())
func (m *Metrics) RecordGeneration(provider, status string, durationSeconds float64) {
	m.GenerationRequests.WithLabelValues(provider, status).Inc()
	m.GenerationDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordToolInvocation records a tool dispatch from the dialogue model.
func (m *Metrics) RecordToolInvocation(tool, status string) {
	m.ToolInvocations.WithLabelValues(tool, status).Inc()
}

// RecordTermination records a termination-sequence outcome.
func (m *Metrics) RecordTermination(status string) {
	m.Terminations.WithLabelValues(status).Inc()
}

// RecordGatewayRequest records a telephony gateway request.
func (m *Metrics) RecordGatewayRequest(method, status string, durationSeconds float64) {
	m.GatewayRequestDuration.WithLabelValues(method, status).Observe(durationSeconds)
}

// RecordError increments the error counter for a component and error type.
//
// Example:
//
//	metrics.RecordError("dial", "gateway_timeout")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
