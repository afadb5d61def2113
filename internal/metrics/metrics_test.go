// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/emecore/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordSessionClosed(t *testing.T) {
	ok := metrics.SessionsClosedTotal.WithLabelValues("close_all", "ok")
	failed := metrics.SessionsClosedTotal.WithLabelValues("close_all", "failed")
	okBefore, failedBefore := metrics.CounterValue(ok), metrics.CounterValue(failed)

	metrics.RecordSessionClosed("close_all", nil)
	metrics.RecordSessionClosed("close_all", errors.New("cdm refused"))

	assert.Equal(t, okBefore+1, metrics.CounterValue(ok))
	assert.Equal(t, failedBefore+1, metrics.CounterValue(failed))
}

func TestRecordErrorDefaultsCode(t *testing.T) {
	c := metrics.ErrorsTotal.WithLabelValues("warning", "unknown")
	before := metrics.CounterValue(c)

	metrics.RecordError("warning", "")
	assert.Equal(t, before+1, metrics.CounterValue(c))
}

func TestBusDropReasonDefaults(t *testing.T) {
	c := metrics.BusDroppedTotal.WithLabelValues("unknown", "unknown")
	before := metrics.CounterValue(c)

	metrics.RecordBusDrop("", "")
	assert.Equal(t, before+1, metrics.CounterValue(c))
}

func TestSetPersistentEntries(t *testing.T) {
	metrics.SetPersistentEntries(7)
	assert.Equal(t, 7.0, metrics.GaugeValue(metrics.PersistentEntries))
}

func TestCircuitBreakerState(t *testing.T) {
	g := metrics.CircuitBreakerState.WithLabelValues("test_component")

	metrics.SetCircuitBreakerState("test_component", "open")
	assert.Equal(t, 2.0, metrics.GaugeValue(g))
	metrics.SetCircuitBreakerState("test_component", "bogus")
	assert.Equal(t, 2.0, metrics.GaugeValue(g))
	metrics.SetCircuitBreakerState("test_component", "closed")
	assert.Equal(t, 0.0, metrics.GaugeValue(g))

	metrics.RecordCircuitBreakerTrip("test_component", "threshold_exceeded")
	assert.Contains(t, scrape(t), `emecore_circuit_breaker_trips_total{component="test_component",reason="threshold_exceeded"}`)
}

func TestExposition(t *testing.T) {
	metrics.RecordLicenseAttempt("granted", 0.02)
	metrics.RecordNegotiation("com.widevine.alpha", "supported")
	metrics.RecordTransition("Initializing", "WaitingForAttachment")

	body := scrape(t)
	for _, name := range []string{
		"emecore_license_attempts_total",
		"emecore_license_duration_seconds",
		"emecore_keysystem_negotiations_total",
		"emecore_decryptor_transitions_total",
	} {
		assert.Contains(t, body, name)
	}
}
