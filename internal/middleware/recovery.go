// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/ManuGH/emecore/internal/log"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// Recoverer turns a handler panic into a logged 500 JSON answer. A panic
// after the handler started writing only gets logged.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			// RequestID runs inside, its id is only on the response
			reqID := w.Header().Get(HeaderRequestID)
			logger := log.WithComponentFromContext(r.Context(), "http.recover")
			logger.Error().
				Str(log.FieldEvent, "panic.recovered").
				Str(log.FieldRequestID, reqID).
				Str("method", r.Method).
				Str("path", strings.ToValidUTF8(r.URL.Path, "")).
				Interface("panic_value", rec).
				Bytes("stack_trace", debug.Stack()).
				Msg("panic recovered in HTTP handler")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(errorBody{Error: "Internal server error", RequestID: reqID})
		}()

		next.ServeHTTP(w, r)
	})
}
