// Package metrics exposes Prometheus metrics for the deduction engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Ledger metrics
	ToolCallsTotal        *prometheus.CounterVec
	ResolutionMissesTotal *prometheus.CounterVec

	// Audit metrics
	AuditsTotal       *prometheus.CounterVec
	AuditDuration     prometheus.Histogram
	AuditUpdatesTotal *prometheus.CounterVec

	// Live session metrics
	LiveSessionsActive  prometheus.Gauge
	LiveSessionsTotal   *prometheus.CounterVec
	LiveSessionDuration prometheus.Histogram
	LiveAudioBytesTotal *prometheus.CounterVec
	LiveInputLevel      prometheus.Gauge
	FramesSentTotal     prometheus.Counter

	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "deduce"
	}

	registry := prometheus.NewRegistry()

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Ledger tool calls received from the live session",
		},
		[]string{"tool", "result"},
	)

	resolutionMissesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_misses_total",
			Help:      "Updates whose deduction reference matched nothing",
		},
		[]string{"source"},
	)

	auditsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audits_total",
			Help:      "Audit runs by outcome",
		},
		[]string{"status"},
	)

	auditDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_duration_seconds",
			Help:      "Audit duration in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 90},
		},
	)

	auditUpdatesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_updates_total",
			Help:      "Audit updates by apply result",
		},
		[]string{"result"},
	)

	liveSessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of open live sessions",
		},
	)

	liveSessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Total number of live sessions by final state",
		},
		[]string{"status"},
	)

	liveSessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	liveAudioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_audio_bytes_total",
			Help:      "Audio bytes exchanged in live sessions",
		},
		[]string{"direction"},
	)

	liveInputLevel := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_input_level",
			Help:      "RMS energy of the last captured audio block (0-1)",
		},
	)

	framesSentTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Video frames sent to the live session",
		},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(
		toolCallsTotal,
		resolutionMissesTotal,
		auditsTotal,
		auditDuration,
		auditUpdatesTotal,
		liveSessionsActive,
		liveSessionsTotal,
		liveSessionDuration,
		liveAudioBytesTotal,
		liveInputLevel,
		framesSentTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:              registry,
		ToolCallsTotal:        toolCallsTotal,
		ResolutionMissesTotal: resolutionMissesTotal,
		AuditsTotal:           auditsTotal,
		AuditDuration:         auditDuration,
		AuditUpdatesTotal:     auditUpdatesTotal,
		LiveSessionsActive:    liveSessionsActive,
		LiveSessionsTotal:     liveSessionsTotal,
		LiveSessionDuration:   liveSessionDuration,
		LiveAudioBytesTotal:   liveAudioBytesTotal,
		LiveInputLevel:        liveInputLevel,
		FramesSentTotal:       framesSentTotal,
		ErrorsTotal:           errorsTotal,
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordToolCall records one live tool call and its apply result.
func (m *Metrics) RecordToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, result).Inc()
}

// RecordResolutionMiss records an update that resolved to no deduction.
func (m *Metrics) RecordResolutionMiss(source string) {
	if m == nil {
		return
	}
	m.ResolutionMissesTotal.WithLabelValues(source).Inc()
}

// RecordAudit records a finished audit. status is one of applied, skipped,
// failed or dropped.
func (m *Metrics) RecordAudit(status string, duration time.Duration, applied, unresolved int) {
	if m == nil {
		return
	}
	m.AuditsTotal.WithLabelValues(status).Inc()
	if status == "applied" || status == "failed" {
		m.AuditDuration.Observe(duration.Seconds())
	}
	if applied > 0 {
		m.AuditUpdatesTotal.WithLabelValues("applied").Add(float64(applied))
	}
	if unresolved > 0 {
		m.AuditUpdatesTotal.WithLabelValues("unresolved").Add(float64(unresolved))
	}
}

// RecordLiveSessionStart records a live session reaching Open.
func (m *Metrics) RecordLiveSessionStart() {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Inc()
}

// RecordLiveSessionEnd records an open live session ending.
func (m *Metrics) RecordLiveSessionEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Dec()
	m.LiveSessionsTotal.WithLabelValues(status).Inc()
	m.LiveSessionDuration.Observe(duration.Seconds())
}

// RecordLiveAudio records audio bytes; direction is "in" or "out".
func (m *Metrics) RecordLiveAudio(direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.LiveAudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordInputLevel sets the RMS level of the latest microphone block.
func (m *Metrics) RecordInputLevel(rms float64) {
	if m == nil {
		return
	}
	m.LiveInputLevel.Set(rms)
}

// RecordFrameSent records one video frame sent upstream.
func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.FramesSentTotal.Inc()
}

// RecordError records an error by its core error type.
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
