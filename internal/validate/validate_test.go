// SPDX-License-Identifier: MIT
package validate

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		name           string
		value          string
		allowedSchemes []string
		wantErr        bool
	}{
		{"valid http", "http://example.com", []string{"http", "https"}, false},
		{"valid https", "https://example.com", []string{"http", "https"}, false},
		{"empty url", "", []string{"http"}, true},
		{"no host", "http://", []string{"http"}, true},
		{"invalid scheme", "ftp://example.com", []string{"http", "https"}, true},
		{"no scheme", "example.com", []string{"http"}, true},
		{"with port", "http://example.com:8080", []string{"http"}, false},
		{"with path", "http://example.com/license", []string{"http"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.URL("testURL", tt.value, tt.allowedSchemes)

			if tt.wantErr && v.IsValid() {
				t.Errorf("expected error, got none")
			}
			if !tt.wantErr && !v.IsValid() {
				t.Errorf("unexpected error: %v", v.Err())
			}
		})
	}
}

func TestValidator_ListenAddr(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"any host", ":8088", false},
		{"loopback", "127.0.0.1:8088", false},
		{"no port", "127.0.0.1", true},
		{"empty port", "127.0.0.1:", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.ListenAddr("listen", tt.value)
			if got := !v.IsValid(); got != tt.wantErr {
				t.Errorf("ListenAddr(%q) error = %v, want %v (%v)", tt.value, got, tt.wantErr, v.Err())
			}
		})
	}
}

func TestBetween(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		wantErr bool
	}{
		{"within range", 5, false},
		{"at min", -1, false},
		{"at max", 10, false},
		{"below min", -2, true},
		{"above max", 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			Between(v, "maxSessionCacheSize", tt.value, -1, 10)
			if tt.wantErr == v.IsValid() {
				t.Errorf("Between(%d) valid = %v", tt.value, v.IsValid())
			}
		})
	}

	v := New()
	Between(v, "samplingRate", 0.5, 0, 1)
	Between(v, "samplingRate", 1.5, 0, 1)
	if got := len(v.Errors()); got != 1 {
		t.Fatalf("expected 1 error, got %d", got)
	}
}

func TestValidator_NotEmpty(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"non-empty", "widevine", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.NotEmpty("type", tt.value)
			if tt.wantErr == v.IsValid() {
				t.Errorf("NotEmpty(%q) valid = %v", tt.value, v.IsValid())
			}
		})
	}
}

func TestValidator_OneOf(t *testing.T) {
	allowed := []string{"init-data", "content", "periods"}
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"first", "init-data", false},
		{"last", "periods", false},
		{"unknown", "media", true},
		{"case sensitive", "Content", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.OneOf("singleLicensePer", tt.value, allowed)
			if tt.wantErr == v.IsValid() {
				t.Errorf("OneOf(%q) valid = %v", tt.value, v.IsValid())
			}
		})
	}
}

func TestNotNegative(t *testing.T) {
	v := New()
	NotNegative(v, "retry", 0)
	NotNegative(v, "timeout", time.Duration(0))
	if !v.IsValid() {
		t.Fatalf("unexpected error: %v", v.Err())
	}
	NotNegative(v, "retry", -1)
	NotNegative(v, "timeout", -time.Second)
	if got := len(v.Errors()); got != 2 {
		t.Fatalf("expected 2 errors, got %d", got)
	}
}

func TestValidator_Base64(t *testing.T) {
	v := New()
	v.Base64("serverCertificate", "")
	v.Base64("serverCertificate", "Y2VydA==")
	if !v.IsValid() {
		t.Fatalf("unexpected error: %v", v.Err())
	}
	v.Base64("serverCertificate", "not base64!")
	if v.IsValid() {
		t.Fatal("expected error")
	}
}

func TestValidator_KeyID(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"hex", "0123456789abcdef0123456789abcdef", false},
		{"uuid form", "01234567-89ab-cdef-0123-456789abcdef", false},
		{"short", "0123", true},
		{"not hex", "zz23456789abcdef0123456789abcdef", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.KeyID("keyId", tt.value)
			if tt.wantErr == v.IsValid() {
				t.Errorf("KeyID(%q) valid = %v", tt.value, v.IsValid())
			}
		})
	}
}

func TestValidator_MultipleErrors(t *testing.T) {
	v := New()

	v.ListenAddr("listen", "nope")     // Invalid
	v.URL("url", "", []string{"http"}) // Invalid
	v.NotEmpty("name", "")             // Invalid

	if v.IsValid() {
		t.Fatal("expected errors, got none")
	}
	if got := len(v.Errors()); got != 3 {
		t.Errorf("expected 3 errors, got %d", got)
	}

	err := v.Err()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var verr ValidationError
	if !errors.As(err, &verr) || len(verr.Errors()) != 3 {
		t.Fatalf("expected a ValidationError with 3 entries, got %v", err)
	}
	for _, field := range []string{"listen", "url", "name"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error message should mention %q", field)
		}
	}
}

func TestValidator_Chaining(t *testing.T) {
	v := New()

	v.URL("license.url", "http://127.0.0.1:8088/license", []string{"http", "https"})
	v.ListenAddr("listen", ":8088")
	Between(v, "maxSessionCacheSize", 15, -1, 1000)
	v.NotEmpty("type", "widevine")

	if !v.IsValid() {
		t.Errorf("unexpected errors: %v", v.Err())
	}
}
