// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the decryption core.
const (
	// Key system attributes
	KeySystemKey       = "drm.key_system"
	KeySystemOptionKey = "drm.key_system_option"
	KeySystemReusedKey = "drm.key_system_reused"
	KeySystemProbedKey = "drm.key_system_probed"
	CandidateCountKey  = "drm.candidates"
	LicensingScopeKey  = "drm.single_license_per"
	SessionTypeKey     = "drm.session_type"
	SessionSourceKey   = "drm.session_source"
	InitDataTypeKey    = "drm.init_data_type"
	InitDataValuesKey  = "drm.init_data_values"
	KeyIDCountKey      = "drm.key_ids"

	// License exchange attributes
	LicenseMessageTypeKey = "license.message_type"
	LicenseAttemptKey     = "license.attempt"
	LicenseSizeKey        = "license.size"
	LicenseTimeoutKey     = "license.timeout_ms"

	// HTTP attributes of the simulator surface
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// NegotiationAttributes describes one key-system negotiation.
func NegotiationAttributes(keySystem string, candidates int, reused, probed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeySystemKey, keySystem),
		attribute.Int(CandidateCountKey, candidates),
		attribute.Bool(KeySystemReusedKey, reused),
		attribute.Bool(KeySystemProbedKey, probed),
	}
}

// SessionAttributes describes a session acquisition. Empty values are omitted.
func SessionAttributes(initDataType, sessionType, source string, keyIDs int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if initDataType != "" {
		attrs = append(attrs, attribute.String(InitDataTypeKey, initDataType))
	}
	if sessionType != "" {
		attrs = append(attrs, attribute.String(SessionTypeKey, sessionType))
	}
	if source != "" {
		attrs = append(attrs, attribute.String(SessionSourceKey, source))
	}
	return append(attrs, attribute.Int(KeyIDCountKey, keyIDs))
}

// LicenseAttributes describes one getLicense attempt.
func LicenseAttributes(messageType string, attempt int, timeoutMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(LicenseMessageTypeKey, messageType),
		attribute.Int(LicenseAttemptKey, attempt),
		attribute.Int64(LicenseTimeoutKey, timeoutMS),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}
