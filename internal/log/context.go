// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	decryptorIDKey ctxKey = "decryptor_id"
	sessionIDKey   ctxKey = "session_id"
	requestIDKey   ctxKey = "request_id"
)

// correlation maps context keys to log fields, in output order.
var correlation = []struct {
	key   ctxKey
	field string
}{
	{decryptorIDKey, FieldDecryptorID},
	{sessionIDKey, FieldSessionID},
	{requestIDKey, FieldRequestID},
}

func withID(ctx context.Context, key ctxKey, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key).(string)
	return id
}

// ContextWithDecryptorID stores the decryptor instance ID in the context.
func ContextWithDecryptorID(ctx context.Context, id string) context.Context {
	return withID(ctx, decryptorIDKey, id)
}

// DecryptorIDFromContext extracts the decryptor ID from context if present.
func DecryptorIDFromContext(ctx context.Context) string { return idFrom(ctx, decryptorIDKey) }

// ContextWithSessionID stores the CDM session ID in the context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return withID(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session ID from context if present.
func SessionIDFromContext(ctx context.Context) string { return idFrom(ctx, sessionIDKey) }

// ContextWithRequestID stores the HTTP request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string { return idFrom(ctx, requestIDKey) }

// WithContext enriches logger with the correlation IDs found in ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	var builder *zerolog.Context
	for _, c := range correlation {
		id := idFrom(ctx, c.key)
		if id == "" {
			continue
		}
		if builder == nil {
			b := logger.With()
			builder = &b
		}
		*builder = builder.Str(c.field, id)
	}
	if builder == nil {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext returns a component logger enriched from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
