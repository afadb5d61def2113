// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package listener

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/metrics"
)

// KeyStatusResult classifies the key statuses of one session.
type KeyStatusResult struct {
	Whitelisted [][]byte
	Blacklisted [][]byte
	// Warning is set when at least one key status was problematic but no
	// policy asked to fail.
	Warning *model.EncryptedMediaError
}

// CheckKeyStatuses applies the key status policies of opt. It returns a
// fatal *model.EncryptedMediaError or a *model.DecommissionedSessionError
// when a policy asks for it.
func CheckKeyStatuses(statuses []model.KeyStatusInfo, opt *model.KeySystemOption, keySystem string) (KeyStatusResult, error) {
	var (
		res KeyStatusResult
		bad []model.KeyStatusInfo
	)
	for _, ks := range statuses {
		kid := NormalizeKeyID(keySystem, ks.KeyID)
		info := model.KeyStatusInfo{KeyID: kid, Status: ks.Status}
		metrics.RecordKeyStatus(string(ks.Status))

		switch ks.Status {
		case model.KeyExpired, model.KeyInternalError, model.KeyOutputRestricted:
			policy, msg := policyFor(opt, ks.Status)
			emeErr := &model.EncryptedMediaError{
				Code:        model.CodeKeyStatusChange,
				Message:     fmt.Sprintf("%s (%s)", msg, hex.EncodeToString(kid)),
				KeyStatuses: append(append([]model.KeyStatusInfo(nil), bad...), info),
			}
			switch policy {
			case model.PolicyCloseSession:
				return KeyStatusResult{}, &model.DecommissionedSessionError{Reason: emeErr}
			case model.PolicyFallback:
				res.Blacklisted = append(res.Blacklisted, kid)
			case model.PolicyContinue:
				res.Whitelisted = append(res.Whitelisted, kid)
			default:
				return KeyStatusResult{}, emeErr
			}
			bad = append(bad, info)
		default:
			// usable, usable-in-future, output-downscaled, released,
			// status-pending and unknown statuses
			res.Whitelisted = append(res.Whitelisted, kid)
		}
	}
	if len(bad) > 0 {
		res.Warning = &model.EncryptedMediaError{
			Code:        model.CodeKeyStatusChange,
			Message:     "one or several problematic key statuses have been encountered",
			KeyStatuses: bad,
		}
	}
	return res, nil
}

func policyFor(opt *model.KeySystemOption, status model.KeyStatus) (model.KeyStatusPolicy, string) {
	switch status {
	case model.KeyExpired:
		return opt.OnKeyExpiration, "a decryption key expired"
	case model.KeyInternalError:
		return opt.OnKeyInternalError, "an invalid key status has been encountered"
	default:
		p := opt.OnKeyOutputRestricted
		if p == model.PolicyCloseSession {
			p = model.PolicyError
		}
		return p, "a decryption key cannot be used for the current output"
	}
}

// NormalizeKeyID converts PlayReady key ids, reported as little-endian GUIDs,
// to the big-endian UUID layout used everywhere else.
func NormalizeKeyID(keySystem string, kid []byte) []byte {
	if len(kid) != 16 || !strings.Contains(strings.ToLower(keySystem), "playready") {
		return kid
	}
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = kid[3], kid[2], kid[1], kid[0]
	out[4], out[5] = kid[5], kid[4]
	out[6], out[7] = kid[7], kid[6]
	copy(out[8:], kid[8:])
	return out
}
