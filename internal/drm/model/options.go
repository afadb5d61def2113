// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"context"
	"time"

	"github.com/ManuGH/emecore/internal/drm/persistent"
)

const (
	DefaultGetLicenseTimeout    = 10 * time.Second
	DefaultGetLicenseRetry      = 2
	DefaultGetLicenseBaseDelay  = 200 * time.Millisecond
	DefaultGetLicenseMaxDelay   = 3 * time.Second
	DefaultMaxSessionCacheSize  = 15
	MaxStoredPersistentSessions = 1000
)

// GetLicenseFunc is the host-supplied license exchange. A nil license with a
// nil error means the license is intentionally withheld.
type GetLicenseFunc func(ctx context.Context, message []byte, messageType string) ([]byte, error)

// GetLicenseConfig bounds each getLicense call.
type GetLicenseConfig struct {
	// Timeout per attempt. Zero selects DefaultGetLicenseTimeout, negative disables it.
	Timeout time.Duration
	// Retry is the number of retries after the first attempt. Nil selects DefaultGetLicenseRetry.
	Retry *int
	// BaseDelay and MaxDelay shape the fuzzed exponential backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// EffectiveTimeout resolves the zero value.
func (c GetLicenseConfig) EffectiveTimeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultGetLicenseTimeout
	}
	return c.Timeout
}

// EffectiveRetry resolves the nil value.
func (c GetLicenseConfig) EffectiveRetry() int {
	if c.Retry == nil || *c.Retry < 0 {
		return DefaultGetLicenseRetry
	}
	return *c.Retry
}

func (c GetLicenseConfig) EffectiveBaseDelay() time.Duration {
	if c.BaseDelay <= 0 {
		return DefaultGetLicenseBaseDelay
	}
	return c.BaseDelay
}

func (c GetLicenseConfig) EffectiveMaxDelay() time.Duration {
	if c.MaxDelay <= 0 {
		return DefaultGetLicenseMaxDelay
	}
	return c.MaxDelay
}

// Retries returns a pointer usable for GetLicenseConfig.Retry.
func Retries(n int) *int { return &n }

// PersistentLicenseConfig enables persistent-license sessions.
type PersistentLicenseConfig struct {
	Storage                   persistent.Storage
	DisableRetroCompatibility bool
}

// KeySystemOption is one acceptable key-system configuration, in priority order.
type KeySystemOption struct {
	// Type is either a shorthand ("widevine", "playready", "clearkey",
	// "fairplay") or a reverse-domain key-system name.
	Type string

	GetLicense       GetLicenseFunc
	GetLicenseConfig GetLicenseConfig

	ServerCertificate       []byte
	PersistentLicenseConfig *PersistentLicenseConfig
	PersistentState         Requirement
	DistinctiveIdentifier   Requirement

	SingleLicensePer               LicensingScope
	MaxSessionCacheSize            int // zero selects the default, negative is unbounded
	DisableMediaKeysAttachmentLock bool

	OnKeyOutputRestricted KeyStatusPolicy
	OnKeyInternalError    KeyStatusPolicy
	OnKeyExpiration       KeyStatusPolicy

	VideoRobustnesses []string
	AudioRobustnesses []string
}

// EffectiveMaxSessionCacheSize resolves the zero value; negative means unbounded.
func (o *KeySystemOption) EffectiveMaxSessionCacheSize() int {
	if o.MaxSessionCacheSize == 0 {
		return DefaultMaxSessionCacheSize
	}
	return o.MaxSessionCacheSize
}

// WantedSessionType is persistent-license when a persistent config exists.
func (o *KeySystemOption) WantedSessionType() SessionType {
	if o.PersistentLicenseConfig != nil {
		return SessionPersistentLicense
	}
	return SessionTemporary
}
