// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the prover.
//
// # Description
//
// Metrics cover the proof-attempt pipeline end to end:
//   - Request counters by endpoint and status
//   - Candidate fallback counters by provider/model
//   - Streaming latency histograms (first delta, total duration)
//   - Active stream gauges, keepalives, client disconnects
//   - SymPy worker job counters
//
// Exposed via the /metrics endpoint for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "proofbench"

const proverSubsystem = "prover"

// Endpoint labels for request metrics.
type Endpoint string

const (
	EndpointAttemptStreamGet  Endpoint = "attempt_stream_get"
	EndpointAttemptStreamPost Endpoint = "attempt_stream_post"
	EndpointAttemptUnary      Endpoint = "attempt_unary"
	EndpointClassify          Endpoint = "classify"
	EndpointDecompose         Endpoint = "decompose"
	EndpointSympy             Endpoint = "sympy"
)

// ErrorCode labels for error metrics.
type ErrorCode string

const (
	ErrorCodeRateLimit     ErrorCode = "model_rate_limit"
	ErrorCodeGeneration    ErrorCode = "generation_failed"
	ErrorCodeMalformed     ErrorCode = "malformed_output"
	ErrorCodeValidation    ErrorCode = "validation_failed"
	ErrorCodeSympyWorker   ErrorCode = "sympy_worker"
	ErrorCodeInternalError ErrorCode = "internal_error"
)

// ProverMetrics holds all Prometheus metrics for the prover service.
//
// # Thread Safety
//
// All operations are thread-safe.
type ProverMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	// Labels: endpoint, status (success, error)
	RequestsTotal *prometheus.CounterVec

	// DeltasTotal counts streamed text deltas by model.
	// Labels: model
	DeltasTotal *prometheus.CounterVec

	// CandidateAttemptsTotal counts model candidates tried.
	// Labels: provider, model, outcome (success, rate_limited, error)
	CandidateAttemptsTotal *prometheus.CounterVec

	// TimeToFirstDeltaSeconds measures latency to the first text delta.
	// Labels: endpoint
	TimeToFirstDeltaSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by endpoint and code.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// SympyRunsTotal counts symbolic jobs proxied to the worker.
	// Labels: op, status (ok, failed, transport_error)
	SympyRunsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *ProverMetrics

// InitMetrics creates and registers all prover metrics.
//
// # Description
//
// Call once at startup; a second call panics on duplicate registration.
//
// # Outputs
//
//	*ProverMetrics - The initialized singleton.
func InitMetrics() *ProverMetrics {
	DefaultMetrics = &ProverMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: proverSubsystem,
				Name:      "requests_total",
				Help:      "Total requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		DeltasTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: proverSubsystem,
				Name:      "deltas_total",
				Help:      "Total streamed text deltas by model",
			},
			[]string{"model"},
		),

		CandidateAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: proverSubsystem,
				Name:      "candidate_attempts_total",
				Help:      "Model candidates tried by provider, model, and outcome",
			},
			[]string{"provider", "model", "outcome"},
		),

		TimeToFirstDeltaSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: proverSubsystem,
				Name:      "time_to_first_delta_seconds",
				Help:      "Time from request to first streamed delta in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: proverSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: proverSubsystem,
				Name:      "active_streams",
				Help:      "Currently open streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: proverSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and code",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: proverSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: proverSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		SympyRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: proverSubsystem,
				Name:      "sympy_runs_total",
				Help:      "Symbolic jobs proxied to the worker by op and status",
			},
			[]string{"op", "status"},
		),
	}
	return DefaultMetrics
}

// RecordRequest increments the request counter.
func (m *ProverMetrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError increments the error counter.
func (m *ProverMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordDelta counts one streamed delta for a model.
func (m *ProverMetrics) RecordDelta(model string) {
	if m == nil {
		return
	}
	m.DeltasTotal.WithLabelValues(model).Inc()
}

// RecordCandidate counts one candidate attempt outcome.
func (m *ProverMetrics) RecordCandidate(provider, model, outcome string) {
	if m == nil {
		return
	}
	m.CandidateAttemptsTotal.WithLabelValues(provider, model, outcome).Inc()
}

// StreamStarted increments the active stream gauge.
func (m *ProverMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *ProverMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstDelta observes first-delta latency.
func (m *ProverMetrics) RecordTimeToFirstDelta(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstDeltaSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration observes total stream duration.
func (m *ProverMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordKeepAlive counts one keepalive ping.
func (m *ProverMetrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect counts one mid-stream client disconnect.
func (m *ProverMetrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordSympyRun counts one symbolic job outcome.
func (m *ProverMetrics) RecordSympyRun(op, status string) {
	if m == nil {
		return
	}
	m.SympyRunsTotal.WithLabelValues(op, status).Inc()
}
