// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/emecore/internal/config"
	"github.com/ManuGH/emecore/internal/drm/model"
)

const (
	kid1 = "00000000000000000000000000000001"
	kid2 = "00000000000000000000000000000002"
)

func startSimulator(t *testing.T, mutate func(*config.AppConfig)) string {
	t.Helper()
	cfg := config.Defaults()
	cfg.LogLevel = "error"
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, config.Validate(cfg))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- run(ctx, cfg, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("simulator did not stop")
		}
	})
	return "http://" + ln.Addr().String()
}

func getState(t *testing.T, baseURL string) Snapshot {
	t.Helper()
	resp, err := http.Get(baseURL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func waitState(t *testing.T, baseURL string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var last Snapshot
	require.Eventually(t, func() bool {
		last = getState(t, baseURL)
		return cond(last)
	}, 10*time.Second, 20*time.Millisecond, "last state: %+v", last)
	return last
}

func TestSimulatorLicensesEveryPeriod(t *testing.T) {
	baseURL := startSimulator(t, nil)

	snap := waitState(t, baseURL, func(s Snapshot) bool {
		return s.State == string(model.StateReadyForContent) && len(s.Whitelisted) == 2
	})
	assert.ElementsMatch(t, []string{kid1, kid2}, snap.Whitelisted)
	assert.Empty(t, snap.Blacklisted)
	assert.Contains(t, snap.KeySystem, "widevine")
	assert.NotEmpty(t, snap.DecryptorID)

	assert.Equal(t, 0, healthcheck(baseURL, "ready", time.Second))
	assert.Equal(t, 0, healthcheck(baseURL, "live", time.Second))

	resp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "emecore_http_request_duration_seconds"))
	assert.True(t, strings.Contains(string(body), "emecore_license_attempts_total"), "license metrics are exported")
}

func TestSimulatorSingleLicensePerContent(t *testing.T) {
	baseURL := startSimulator(t, func(c *config.AppConfig) {
		c.KeySystems = []config.KeySystemConfig{{Type: "playready", SingleLicensePer: "content"}}
	})

	snap := waitState(t, baseURL, func(s Snapshot) bool {
		return len(s.BlacklistedPeriods) == 1
	})
	assert.Equal(t, []string{"p1"}, snap.BlacklistedPeriods)
	assert.Equal(t, []string{kid1}, snap.Whitelisted)
	assert.Equal(t, []string{kid2}, snap.Blacklisted)
	assert.Contains(t, snap.KeySystem, "playready")
}

func TestSimulatorDeniedKeyIsWithheld(t *testing.T) {
	baseURL := startSimulator(t, func(c *config.AppConfig) {
		c.License.Server.DeniedKeyIDs = []string{kid1}
	})

	snap := waitState(t, baseURL, func(s Snapshot) bool {
		return len(s.Whitelisted) == 1
	})
	assert.Equal(t, []string{kid2}, snap.Whitelisted)
	assert.Empty(t, snap.Error)
	assert.Equal(t, string(model.StateReadyForContent), snap.State)
}

func TestReadyzBeforeContent(t *testing.T) {
	st := newStatus()
	srv := newRouter(routerConfig{status: st})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hs := &http.Server{Handler: srv, ReadHeaderTimeout: time.Second}
	go func() { _ = hs.Serve(ln) }()
	t.Cleanup(func() { _ = hs.Close() })

	baseURL := "http://" + ln.Addr().String()
	assert.Equal(t, 1, healthcheck(baseURL, "ready", time.Second))
	assert.Equal(t, 0, healthcheck(baseURL, "live", time.Second))

	st.setState(model.StateReadyForContent, "com.widevine.alpha")
	assert.Equal(t, 0, healthcheck(baseURL, "ready", time.Second))
}

func TestLocalURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"0.0.0.0:8088", "http://127.0.0.1:8088"},
		{"[::]:8088", "http://127.0.0.1:8088"},
		{"127.0.0.1:9000", "http://127.0.0.1:9000"},
	}
	for _, tt := range tests {
		addr, err := net.ResolveTCPAddr("tcp", tt.addr)
		require.NoError(t, err)
		assert.Equal(t, tt.want, localURL(addr))
	}
}
