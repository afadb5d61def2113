// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package listener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/emecore/internal/drm/model"
)

func TestCheckKeyStatuses(t *testing.T) {
	statuses := []model.KeyStatusInfo{
		{KeyID: kid(1), Status: model.KeyUsable},
		{KeyID: kid(2), Status: model.KeyOutputDownscaled},
		{KeyID: kid(3), Status: model.KeyStatusPending},
		{KeyID: kid(4), Status: model.KeyOutputRestricted},
	}

	t.Run("default policy is fatal", func(t *testing.T) {
		_, err := CheckKeyStatuses(statuses, &model.KeySystemOption{}, "com.widevine.alpha")
		require.Error(t, err)
		assert.Equal(t, model.CodeKeyStatusChange, model.CodeOf(err))
		assert.False(t, model.IsDecommissioned(err))
	})

	t.Run("fallback blacklists with a warning", func(t *testing.T) {
		res, err := CheckKeyStatuses(statuses, &model.KeySystemOption{OnKeyOutputRestricted: model.PolicyFallback}, "com.widevine.alpha")
		require.NoError(t, err)
		assert.Equal(t, [][]byte{kid(1), kid(2), kid(3)}, res.Whitelisted)
		assert.Equal(t, [][]byte{kid(4)}, res.Blacklisted)
		require.NotNil(t, res.Warning)
		assert.Len(t, res.Warning.KeyStatuses, 1)
	})

	t.Run("continue whitelists", func(t *testing.T) {
		res, err := CheckKeyStatuses(statuses, &model.KeySystemOption{OnKeyOutputRestricted: model.PolicyContinue}, "com.widevine.alpha")
		require.NoError(t, err)
		assert.Len(t, res.Whitelisted, 4)
		assert.NotNil(t, res.Warning)
	})

	t.Run("output restriction cannot close the session", func(t *testing.T) {
		_, err := CheckKeyStatuses(statuses, &model.KeySystemOption{OnKeyOutputRestricted: model.PolicyCloseSession}, "com.widevine.alpha")
		require.Error(t, err)
		assert.False(t, model.IsDecommissioned(err))
	})

	t.Run("internal error may close the session", func(t *testing.T) {
		_, err := CheckKeyStatuses([]model.KeyStatusInfo{{KeyID: kid(9), Status: model.KeyInternalError}},
			&model.KeySystemOption{OnKeyInternalError: model.PolicyCloseSession}, "com.widevine.alpha")
		assert.True(t, model.IsDecommissioned(err))
	})

	t.Run("released and pending keys are whitelisted", func(t *testing.T) {
		res, err := CheckKeyStatuses([]model.KeyStatusInfo{
			{KeyID: kid(5), Status: model.KeyReleased},
			{KeyID: kid(6), Status: model.KeyStatusPending},
		}, &model.KeySystemOption{}, "com.widevine.alpha")
		require.NoError(t, err)
		assert.Equal(t, [][]byte{kid(5), kid(6)}, res.Whitelisted)
		assert.Empty(t, res.Blacklisted)
		assert.Nil(t, res.Warning)
	})

	t.Run("all usable has no warning", func(t *testing.T) {
		res, err := CheckKeyStatuses(statuses[:2], &model.KeySystemOption{}, "com.widevine.alpha")
		require.NoError(t, err)
		assert.Nil(t, res.Warning)
	})
}

func TestNormalizeKeyIDPlayReady(t *testing.T) {
	guid := []byte{0x04, 0x03, 0x02, 0x01, 0x06, 0x05, 0x08, 0x07, 9, 10, 11, 12, 13, 14, 15, 16}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	assert.Equal(t, want, NormalizeKeyID("com.microsoft.playready.recommendation", guid))
	assert.Equal(t, guid, NormalizeKeyID("com.widevine.alpha", guid))
}
