// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies EncryptedMediaError values.
type ErrorCode string

const (
	// Fatal
	CodeIncompatibleKeySystems ErrorCode = "INCOMPATIBLE_KEYSYSTEMS"
	CodeCreateMediaKeys        ErrorCode = "CREATE_MEDIA_KEYS_ERROR"
	CodeMediaKeysAttachment    ErrorCode = "MEDIA_KEYS_ATTACHMENT_ERROR"
	CodeKeyGenerateRequest     ErrorCode = "KEY_GENERATE_REQUEST_ERROR"
	CodeKeyError               ErrorCode = "KEY_ERROR"
	CodeKeyStatusChange        ErrorCode = "KEY_STATUS_CHANGE_ERROR"
	CodeMediaKeysNotSupported  ErrorCode = "MEDIA_KEYS_NOT_SUPPORTED"

	// Soft
	CodeKeyLoadTimeout         ErrorCode = "KEY_LOAD_TIMEOUT"
	CodeKeyLoadError           ErrorCode = "KEY_LOAD_ERROR"
	CodeKeyUpdateError         ErrorCode = "KEY_UPDATE_ERROR"
	CodeServerCertificateError ErrorCode = "LICENSE_SERVER_CERTIFICATE_ERROR"
)

var (
	ErrDecryptorStopped        = errors.New("content decryptor either disposed or stopped")
	ErrNotWaitingForAttachment = errors.New("attach should only be called when in the WaitingForAttachment state")
	ErrSessionClosing          = errors.New("the media key session is being closed")
	ErrSessionNotFound         = errors.New("media key session not found")
)

// EncryptedMediaError is the classified error surfaced by the decryption core.
type EncryptedMediaError struct {
	Code        ErrorCode
	Message     string
	KeyStatuses []KeyStatusInfo
	Err         error
}

// NewError builds an EncryptedMediaError.
func NewError(code ErrorCode, msg string, cause error) *EncryptedMediaError {
	return &EncryptedMediaError{Code: code, Message: msg, Err: cause}
}

func (e *EncryptedMediaError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EncryptedMediaError) Unwrap() error {
	return e.Err
}

// BlacklistedSessionError marks a session as unusable without stopping the decryptor.
type BlacklistedSessionError struct {
	Reason *EncryptedMediaError
}

func (e *BlacklistedSessionError) Error() string {
	return "blacklisted session: " + e.Reason.Error()
}

func (e *BlacklistedSessionError) Unwrap() error { return e.Reason }

// DecommissionedSessionError asks for the session to be torn down and recreated.
type DecommissionedSessionError struct {
	Reason *EncryptedMediaError
}

func (e *DecommissionedSessionError) Error() string {
	return "decommissioned session: " + e.Reason.Error()
}

func (e *DecommissionedSessionError) Unwrap() error { return e.Reason }

// CodeOf returns the code of the first EncryptedMediaError in err's chain.
func CodeOf(err error) ErrorCode {
	var eme *EncryptedMediaError
	if errors.As(err, &eme) {
		return eme.Code
	}
	return ""
}

// IsBlacklisted reports whether err carries a BlacklistedSessionError.
func IsBlacklisted(err error) bool {
	var b *BlacklistedSessionError
	return errors.As(err, &b)
}

// IsDecommissioned reports whether err carries a DecommissionedSessionError.
func IsDecommissioned(err error) bool {
	var d *DecommissionedSessionError
	return errors.As(err, &d)
}

type noRetryError struct{ err error }

func (e *noRetryError) Error() string { return e.err.Error() }
func (e *noRetryError) Unwrap() error { return e.err }

// NoRetry marks a getLicense failure as final: no further attempt is made.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &noRetryError{err: err}
}

// IsNoRetry reports whether err was marked with NoRetry.
func IsNoRetry(err error) bool {
	var nr *noRetryError
	return errors.As(err, &nr)
}
