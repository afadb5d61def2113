// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the emecore runtime configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	LogLevel string `yaml:"logLevel" env:"EME_LOG_LEVEL"`
	// Listen is the address of the simulator HTTP surface (license, metrics, state).
	Listen string `yaml:"listen" env:"EME_LISTEN_ADDR"`

	CDM        CDMConfig         `yaml:"cdm"`
	License    LicenseConfig     `yaml:"license"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
	KeySystems []KeySystemConfig `yaml:"keySystems"`
	Content    ContentConfig     `yaml:"content"`
}

// CDMConfig selects the CDM implementation registered in internal/drm/cdm.
type CDMConfig struct {
	Implementation string `yaml:"implementation" env:"EME_CDM_IMPLEMENTATION"`
}

// LicenseConfig describes the license endpoint used by every key system
// without its own getLicense.url.
type LicenseConfig struct {
	URL       string            `yaml:"url" env:"EME_LICENSE_URL"`
	Timeout   time.Duration     `yaml:"timeout"`
	RateLimit float64           `yaml:"rateLimit"`
	Burst     int               `yaml:"burst"`
	UserAgent string            `yaml:"userAgent"`
	Headers   map[string]string `yaml:"headers"`

	// BreakerThreshold consecutive outages open the license circuit for
	// BreakerReset. Zero disables the breaker.
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`

	// Server configures the in-process license server of the simulator.
	Server LicenseServerConfig `yaml:"server"`
}

// LicenseServerConfig configures the in-process license server.
type LicenseServerConfig struct {
	Enabled bool `yaml:"enabled" env:"EME_LICENSE_SERVER_ENABLED"`
	// DeniedKeyIDs are hex key ids the server never grants.
	DeniedKeyIDs []string      `yaml:"deniedKeyIds"`
	RequestLimit int           `yaml:"requestLimit"`
	Window       time.Duration `yaml:"window"`
}

// TelemetryConfig mirrors telemetry.Config.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"EME_TELEMETRY_ENABLED"`
	Exporter     string  `yaml:"exporter" env:"EME_TELEMETRY_EXPORTER"`
	Endpoint     string  `yaml:"endpoint" env:"EME_TELEMETRY_ENDPOINT"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// KeySystemConfig is the file form of one key-system option.
type KeySystemConfig struct {
	Type string `yaml:"type"`

	SingleLicensePer               string `yaml:"singleLicensePer"`
	MaxSessionCacheSize            int    `yaml:"maxSessionCacheSize"`
	DisableMediaKeysAttachmentLock bool   `yaml:"disableMediaKeysAttachmentLock"`

	// ServerCertificate is base64; ServerCertificateFile wins when both are set.
	ServerCertificate     string `yaml:"serverCertificate"`
	ServerCertificateFile string `yaml:"serverCertificateFile"`

	PersistentState       string `yaml:"persistentState"`
	DistinctiveIdentifier string `yaml:"distinctiveIdentifier"`

	OnKeyOutputRestricted string `yaml:"onKeyOutputRestricted"`
	OnKeyInternalError    string `yaml:"onKeyInternalError"`
	OnKeyExpiration       string `yaml:"onKeyExpiration"`

	VideoRobustnesses []string `yaml:"videoRobustnesses"`
	AudioRobustnesses []string `yaml:"audioRobustnesses"`

	GetLicense GetLicenseConfig  `yaml:"getLicense"`
	Persistent *PersistentConfig `yaml:"persistent"`
}

// GetLicenseConfig tunes license retrieval of one key system.
type GetLicenseConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	Retry     *int          `yaml:"retry"`
	BaseDelay time.Duration `yaml:"baseDelay"`
	MaxDelay  time.Duration `yaml:"maxDelay"`
}

// PersistentConfig enables persistent-license sessions on a storage backend.
type PersistentConfig struct {
	Backend                   string `yaml:"backend"`
	Path                      string `yaml:"path"`
	Name                      string `yaml:"name"`
	DisableRetroCompatibility bool   `yaml:"disableRetroCompatibility"`
}

// ContentConfig is the protected content the simulator plays.
type ContentConfig struct {
	Periods []PeriodConfig `yaml:"periods"`
}

// PeriodConfig is one period of the simulated content.
type PeriodConfig struct {
	ID     string   `yaml:"id"`
	KeyIDs []string `yaml:"keyIds"`
}

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	version    string
	environ    map[string]string
}

// NewLoader creates a new configuration loader. An empty path loads defaults
// and environment only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath: configPath,
		version:    version,
	}
}

// WithEnvironment replaces the process environment, for tests.
func (l *Loader) WithEnvironment(environ map[string]string) *Loader {
	l.environ = environ
	return l
}

// Load loads configuration with precedence: ENV > File > Defaults, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	opts := env.Options{}
	if l.environ != nil {
		opts.Environment = l.environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return AppConfig{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.Version = l.version
	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// loadFile decodes path over cfg, rejecting unknown fields and multiple documents.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrTrailingDocument
	}
	return nil
}
