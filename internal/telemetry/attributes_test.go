// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestNegotiationAttributes(t *testing.T) {
	attrs := NegotiationAttributes("com.widevine.alpha", 3, false, true)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, KeySystemKey, "com.widevine.alpha")
	verifyIntAttribute(t, attrs, CandidateCountKey, 3)
	verifyBoolAttribute(t, attrs, KeySystemReusedKey, false)
	verifyBoolAttribute(t, attrs, KeySystemProbedKey, true)
}

func TestSessionAttributes(t *testing.T) {
	tests := []struct {
		name         string
		initDataType string
		sessionType  string
		source       string
		wantLen      int
	}{
		{name: "all fields", initDataType: "cenc", sessionType: "temporary", source: "created", wantLen: 4},
		{name: "only type", initDataType: "cenc", wantLen: 2},
		{name: "empty fields", wantLen: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := SessionAttributes(tt.initDataType, tt.sessionType, tt.source, 2)

			if len(attrs) != tt.wantLen {
				t.Errorf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}
			if tt.initDataType != "" {
				verifyAttribute(t, attrs, InitDataTypeKey, tt.initDataType)
			}
			if tt.source != "" {
				verifyAttribute(t, attrs, SessionSourceKey, tt.source)
			}
			verifyIntAttribute(t, attrs, KeyIDCountKey, 2)
		})
	}
}

func TestLicenseAttributes(t *testing.T) {
	attrs := LicenseAttributes("license-request", 2, 10000)

	verifyAttribute(t, attrs, LicenseMessageTypeKey, "license-request")
	verifyIntAttribute(t, attrs, LicenseAttemptKey, 2)
	verifyIntAttribute(t, attrs, LicenseTimeoutKey, 10000)
}

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("POST", "/license", "/license", 204)

	verifyAttribute(t, attrs, HTTPMethodKey, "POST")
	verifyAttribute(t, attrs, HTTPRouteKey, "/license")
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 204)
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(errors.New("boom"), "KEY_LOAD_ERROR")

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}

	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "KEY_LOAD_ERROR")
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("Expected %s=%s, got %s", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != expectedValue {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("Expected %s=%t, got %t", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
