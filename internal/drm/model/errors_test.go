// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("server said no")
	base := NewError(CodeKeyLoadError, "", cause)
	bl := fmt.Errorf("listener: %w", &BlacklistedSessionError{Reason: base})

	require.True(t, IsBlacklisted(bl))
	require.False(t, IsDecommissioned(bl))
	require.Equal(t, CodeKeyLoadError, CodeOf(bl))
	require.ErrorIs(t, bl, cause)
	assert.Contains(t, base.Error(), "server said no")

	dec := &DecommissionedSessionError{Reason: NewError(CodeKeyStatusChange, "A decryption key expired", nil)}
	require.True(t, IsDecommissioned(dec))
	require.Equal(t, CodeKeyStatusChange, CodeOf(dec))
	require.Equal(t, ErrorCode(""), CodeOf(cause))
}

func TestOptionDefaults(t *testing.T) {
	var cfg GetLicenseConfig
	require.Equal(t, DefaultGetLicenseTimeout, cfg.EffectiveTimeout())
	require.Equal(t, DefaultGetLicenseRetry, cfg.EffectiveRetry())

	cfg.Retry = Retries(0)
	require.Equal(t, 0, cfg.EffectiveRetry())

	opt := KeySystemOption{}
	require.Equal(t, DefaultMaxSessionCacheSize, opt.EffectiveMaxSessionCacheSize())
	require.Equal(t, SessionTemporary, opt.WantedSessionType())
	opt.PersistentLicenseConfig = &PersistentLicenseConfig{}
	require.Equal(t, SessionPersistentLicense, opt.WantedSessionType())

	require.True(t, LicensingScope("").Valid())
	require.False(t, LicensingScope("manifest").Valid())
	require.Equal(t, ScopeInitData, LicensingScope("").OrDefault())
}

func TestNoRetry(t *testing.T) {
	cause := errors.New("forbidden")
	wrapped := fmt.Errorf("license server: %w", NoRetry(cause))
	assert.True(t, IsNoRetry(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.False(t, IsNoRetry(cause))
	assert.Nil(t, NoRetry(nil))
}
