// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/license"
	"github.com/ManuGH/emecore/internal/middleware"
)

type routerConfig struct {
	status  *status
	tracing bool
	// license is nil when the local license server is disabled
	license *license.ServerOptions
}

func newRouter(cfg routerConfig) http.Handler {
	stack := middleware.StackConfig{EnableMetrics: true, EnableLogging: true}
	if cfg.tracing {
		stack.TracingService = "emesim.http"
	}
	r := middleware.NewRouter(stack)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.status.State() != model.StateReadyForContent {
			http.Error(w, string(cfg.status.State()), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cfg.status.Snapshot())
	})
	r.Handle("/metrics", promhttp.Handler())

	if cfg.license != nil {
		license.Routes(r, *cfg.license)
	}
	return r
}
