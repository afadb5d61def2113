// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/ManuGH/emecore/internal/drm/cdm/fake"
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/validate"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", "v1.2.3").WithEnvironment(map[string]string{}).Load()
	require.NoError(t, err)

	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "fake", cfg.CDM.Implementation)
	assert.True(t, cfg.License.Server.Enabled)
	require.Len(t, cfg.KeySystems, 2)
	assert.Equal(t, "widevine", cfg.KeySystems[0].Type)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "emecore.yaml", `
logLevel: debug
listen: 127.0.0.1:9000
license:
  url: http://license.local/license
  timeout: 3s
  breakerReset: 1m
keySystems:
  - type: com.widevine.alpha
    singleLicensePer: periods
    maxSessionCacheSize: 4
    onKeyExpiration: continue
    getLicense:
      retry: 0
      baseDelay: 50ms
    persistent:
      backend: memory
content:
  periods:
    - id: first
      keyIds: ["0123456789abcdef0123456789abcdef"]
`)

	cfg, err := NewLoader(path, "").WithEnvironment(map[string]string{}).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 3*time.Second, cfg.License.Timeout)
	// untouched defaults survive
	assert.Equal(t, 5, cfg.License.Burst)
	assert.Equal(t, 5, cfg.License.BreakerThreshold)
	assert.Equal(t, time.Minute, cfg.License.BreakerReset)

	require.Len(t, cfg.KeySystems, 1)
	ks := cfg.KeySystems[0]
	assert.Equal(t, "periods", ks.SingleLicensePer)
	assert.Equal(t, 4, ks.MaxSessionCacheSize)
	require.NotNil(t, ks.GetLicense.Retry)
	assert.Equal(t, 0, *ks.GetLicense.Retry)
	assert.Equal(t, 50*time.Millisecond, ks.GetLicense.BaseDelay)
	require.NotNil(t, ks.Persistent)
	assert.Equal(t, "memory", ks.Persistent.Backend)

	require.Len(t, cfg.Content.Periods, 1)
	assert.Equal(t, "first", cfg.Content.Periods[0].ID)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "emecore.yml", "logLevel: debug\nlisten: ':9000'\n")

	cfg, err := NewLoader(path, "").WithEnvironment(map[string]string{
		"EME_LOG_LEVEL":          "warn",
		"EME_LISTEN_ADDR":        ":9100",
		"EME_LICENSE_URL":        "https://license.example/v1",
		"EME_TELEMETRY_ENABLED":  "true",
		"EME_TELEMETRY_EXPORTER": "http",
		"EME_TELEMETRY_ENDPOINT": "collector:4318",
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, ":9100", cfg.Listen)
	assert.Equal(t, "https://license.example/v1", cfg.License.URL)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "http", cfg.Telemetry.Exporter)
	assert.Equal(t, "collector:4318", cfg.Telemetry.Endpoint)
}

func TestProcessEnvironment(t *testing.T) {
	t.Setenv("EME_CDM_IMPLEMENTATION", "fake-untrusted")

	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, "fake-untrusted", cfg.CDM.Implementation)
}

func TestStrictUnknownField(t *testing.T) {
	path := writeConfig(t, "emecore.yaml", `
logLevel: info
keySystems:
  - type: widevine
    singleLicencePer: content
`)

	_, err := NewLoader(path, "").WithEnvironment(map[string]string{}).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownConfigField), "got %v", err)
	assert.Contains(t, err.Error(), "singleLicencePer")
}

func TestRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "emecore.yaml", "logLevel: info\n---\nlogLevel: debug\n")

	_, err := NewLoader(path, "").WithEnvironment(map[string]string{}).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTrailingDocument)
}

func TestRejectsNonYAML(t *testing.T) {
	path := writeConfig(t, "emecore.json", "{}")

	_, err := NewLoader(path, "").WithEnvironment(map[string]string{}).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only YAML supported")
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "emecore.yaml", "")

	cfg, err := NewLoader(path, "").WithEnvironment(map[string]string{}).Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults().Listen, cfg.Listen)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"log level", func(c *AppConfig) { c.LogLevel = "loud" }, "logLevel"},
		{"listen", func(c *AppConfig) { c.Listen = "8088" }, "listen"},
		{"cdm", func(c *AppConfig) { c.CDM.Implementation = "hardware" }, "cdm.implementation"},
		{"no key systems", func(c *AppConfig) { c.KeySystems = nil }, "keySystems"},
		{"scope", func(c *AppConfig) { c.KeySystems[0].SingleLicensePer = "segment" }, "keySystems[0].singleLicensePer"},
		{"policy", func(c *AppConfig) { c.KeySystems[1].OnKeyInternalError = "ignore" }, "keySystems[1].onKeyInternalError"},
		{"backend", func(c *AppConfig) {
			c.KeySystems[0].Persistent = &PersistentConfig{Backend: "tape"}
		}, "keySystems[0].persistent.backend"},
		{"backend path", func(c *AppConfig) {
			c.KeySystems[0].Persistent = &PersistentConfig{Backend: "sqlite"}
		}, "keySystems[0].persistent.path"},
		{"certificate", func(c *AppConfig) { c.KeySystems[0].ServerCertificate = "%%%" }, "keySystems[0].serverCertificate"},
		{"license url", func(c *AppConfig) { c.License.Server.Enabled = false }, "keySystems[0].getLicense.url"},
		{"retry", func(c *AppConfig) { c.KeySystems[0].GetLicense.Retry = model.Retries(-1) }, "keySystems[0].getLicense.retry"},
		{"breaker", func(c *AppConfig) { c.License.BreakerThreshold = -1 }, "license.breakerThreshold"},
		{"key id", func(c *AppConfig) { c.Content.Periods[0].KeyIDs = []string{"abcd"} }, "content.periods[0].keyIds[0]"},
		{"telemetry", func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.Exporter = "zipkin"
		}, "telemetry.exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)

			err := Validate(cfg)
			require.Error(t, err)
			var verr validate.ValidationError
			require.ErrorAs(t, err, &verr)
			fields := make([]string, 0, len(verr.Errors()))
			for _, e := range verr.Errors() {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	require.NoError(t, Validate(Defaults()))
}

func TestKeySystemOptions(t *testing.T) {
	certPath := filepath.Join(t.TempDir(), "cert.bin")
	require.NoError(t, os.WriteFile(certPath, []byte("file-cert"), 0o600))

	cfg := Defaults()
	cfg.License.URL = "http://127.0.0.1:8088/license"
	cfg.KeySystems = []KeySystemConfig{
		{
			Type:              "widevine",
			SingleLicensePer:  "content",
			ServerCertificate: "Y2VydA==",
			GetLicense:        GetLicenseConfig{Retry: model.Retries(1), Timeout: time.Second},
			Persistent: &PersistentConfig{
				Backend: "file",
				Path:    filepath.Join(t.TempDir(), "sessions", "index.json"),
			},
			VideoRobustnesses: []string{"HW_SECURE_ALL", "SW_SECURE_CRYPTO"},
		},
		{
			Type:                  "playready",
			ServerCertificateFile: certPath,
			GetLicense:            GetLicenseConfig{URL: "http://other.local/license"},
			OnKeyExpiration:       "close-session",
		},
	}

	opts, res, err := cfg.KeySystemOptions()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, res.Close()) })
	require.Len(t, opts, 2)

	wv := opts[0]
	assert.Equal(t, "widevine", wv.Type)
	assert.Equal(t, model.ScopeContent, wv.SingleLicensePer)
	assert.Equal(t, []byte("cert"), wv.ServerCertificate)
	assert.NotNil(t, wv.GetLicense)
	require.NotNil(t, wv.GetLicenseConfig.Retry)
	assert.Equal(t, 1, *wv.GetLicenseConfig.Retry)
	require.NotNil(t, wv.PersistentLicenseConfig)
	assert.NotNil(t, wv.PersistentLicenseConfig.Storage)
	assert.Equal(t, []string{"HW_SECURE_ALL", "SW_SECURE_CRYPTO"}, wv.VideoRobustnesses)

	pr := opts[1]
	assert.Equal(t, []byte("file-cert"), pr.ServerCertificate)
	assert.Equal(t, model.PolicyCloseSession, pr.OnKeyExpiration)
	assert.Nil(t, pr.PersistentLicenseConfig)
}

func TestKeySystemOptionsWithoutURL(t *testing.T) {
	cfg := Defaults()
	_, _, err := cfg.KeySystemOptions()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoLicenseURL)
}

func TestContentBuildRejectsShortKeyID(t *testing.T) {
	_, err := ContentConfig{Periods: []PeriodConfig{{ID: "p0", KeyIDs: []string{"abcd"}}}}.Build()
	assert.ErrorIs(t, err, ErrKeyIDLength)
}

func TestContentBuild(t *testing.T) {
	content, err := Defaults().Content.Build()
	require.NoError(t, err)
	require.Len(t, content.Periods, 2)
	assert.Equal(t, "p1", content.Periods[1].ID)
	assert.Equal(t, "00000000000000000000000000000002", hex.EncodeToString(content.Periods[1].KeyIDs[0]))
	assert.Len(t, content.KeyIDs(), 2)

	_, err = ContentConfig{Periods: []PeriodConfig{{ID: "x", KeyIDs: []string{"zz"}}}}.Build()
	assert.Error(t, err)
}

func TestDenied(t *testing.T) {
	denied, err := LicenseServerConfig{DeniedKeyIDs: []string{"01234567-89ab-cdef-0123-456789abcdef"}}.Denied()
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", hex.EncodeToString(denied[0]))
}
