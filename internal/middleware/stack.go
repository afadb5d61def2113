// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package middleware provides the HTTP middleware of the simulator surface.
package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StackConfig selects the optional layers of the ingress stack.
type StackConfig struct {
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool
}

// NewRouter returns a chi router with the ingress stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack installs, outermost first: panic recovery, request ids,
// metrics, tracing and access logs. Logging is innermost so it sees the
// request id and the trace context.
func ApplyStack(r chi.Router, cfg StackConfig) {
	stack := []func(http.Handler) http.Handler{Recoverer, RequestID}
	if cfg.EnableMetrics {
		stack = append(stack, Metrics())
	}
	if cfg.TracingService != "" {
		stack = append(stack, Tracing(cfg.TracingService))
	}
	if cfg.EnableLogging {
		stack = append(stack, Logging)
	}
	r.Use(stack...)
}
