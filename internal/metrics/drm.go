// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics provides Prometheus metrics for the content decryption core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// No session ids or key ids in labels.

var (
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emecore_sessions_total",
		Help: "Total number of key sessions obtained, by source (created, loaded_persistent, reused).",
	}, []string{"source"})

	SessionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emecore_sessions_closed_total",
		Help: "Total number of key sessions closed, by reason and result.",
	}, []string{"reason", "result"})

	LicenseAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emecore_license_attempts_total",
		Help: "Total number of getLicense attempts, by outcome.",
	}, []string{"outcome"})

	LicenseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "emecore_license_duration_seconds",
		Help:    "Duration of a single getLicense attempt.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	KeyStatusesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emecore_key_statuses_total",
		Help: "Total number of key statuses classified, by status.",
	}, []string{"status"})

	DecryptorTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emecore_decryptor_transitions_total",
		Help: "Total number of decryptor state transitions.",
	}, []string{"from", "to"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emecore_errors_total",
		Help: "Total number of classified errors, by severity (fatal, warning) and code.",
	}, []string{"severity", "code"})

	NegotiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emecore_keysystem_negotiations_total",
		Help: "Total number of key system negotiations, by key system and result.",
	}, []string{"key_system", "result"})

	PersistentEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emecore_persistent_sessions",
		Help: "Current number of stored persistent session entries.",
	})
)

func RecordSession(source string) {
	SessionsTotal.WithLabelValues(source).Inc()
}

func RecordSessionClosed(reason string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	SessionsClosedTotal.WithLabelValues(reason, result).Inc()
}

func RecordLicenseAttempt(outcome string, seconds float64) {
	LicenseAttemptsTotal.WithLabelValues(outcome).Inc()
	LicenseDuration.Observe(seconds)
}

func RecordKeyStatus(status string) {
	KeyStatusesTotal.WithLabelValues(status).Inc()
}

func RecordTransition(from, to string) {
	DecryptorTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordError(severity, code string) {
	if code == "" {
		code = "unknown"
	}
	ErrorsTotal.WithLabelValues(severity, code).Inc()
}

func RecordNegotiation(keySystem, result string) {
	NegotiationsTotal.WithLabelValues(keySystem, result).Inc()
}

func SetPersistentEntries(n int) {
	PersistentEntries.Set(float64(n))
}

// CounterValue reads a counter (for tests).
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// GaugeValue reads a gauge (for tests).
func GaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
