// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model holds the types shared by the content decryption packages.
package model

// DecryptorState is the public lifecycle of a ContentDecryptor.
type DecryptorState string

const (
	StateInitializing         DecryptorState = "Initializing"
	StateWaitingForAttachment DecryptorState = "WaitingForAttachment"
	StateReadyForContent      DecryptorState = "ReadyForContent"
	StateError                DecryptorState = "Error"
	StateDisposed             DecryptorState = "Disposed"
)

// IsTerminal returns true for the absorbing states.
func (s DecryptorState) IsTerminal() bool {
	return s == StateError || s == StateDisposed
}

// SessionType is the CDM session flavour.
type SessionType string

const (
	SessionTemporary         SessionType = "temporary"
	SessionPersistentLicense SessionType = "persistent-license"
)

// SessionSource tells how a tracked session was obtained.
type SessionSource string

const (
	SourceCreated          SessionSource = "created"
	SourceLoadedOpen       SessionSource = "loaded-open"
	SourceLoadedPersistent SessionSource = "loaded-persistent"
)

// LicensingScope is the `singleLicensePer` policy.
type LicensingScope string

const (
	ScopeInitData LicensingScope = "init-data"
	ScopeContent  LicensingScope = "content"
	ScopePeriods  LicensingScope = "periods"
)

// Valid reports whether the scope is recognized. The empty scope means init-data.
func (s LicensingScope) Valid() bool {
	switch s {
	case "", ScopeInitData, ScopeContent, ScopePeriods:
		return true
	}
	return false
}

// OrDefault resolves the empty scope.
func (s LicensingScope) OrDefault() LicensingScope {
	if s == "" {
		return ScopeInitData
	}
	return s
}

// Requirement mirrors the EME persistentState / distinctiveIdentifier values.
type Requirement string

const (
	RequirementRequired   Requirement = "required"
	RequirementOptional   Requirement = "optional"
	RequirementNotAllowed Requirement = "not-allowed"
)

// KeyStatus is a CDM-reported status for one key id.
type KeyStatus string

const (
	KeyUsable           KeyStatus = "usable"
	KeyUsableInFuture   KeyStatus = "usable-in-future"
	KeyExpired          KeyStatus = "expired"
	KeyReleased         KeyStatus = "released"
	KeyOutputRestricted KeyStatus = "output-restricted"
	KeyOutputDownscaled KeyStatus = "output-downscaled"
	KeyStatusPending    KeyStatus = "status-pending"
	KeyInternalError    KeyStatus = "internal-error"
)

// KeyStatusPolicy selects the reaction to a problematic key status.
type KeyStatusPolicy string

const (
	PolicyError        KeyStatusPolicy = "error"
	PolicyCloseSession KeyStatusPolicy = "close-session"
	PolicyFallback     KeyStatusPolicy = "fallback"
	PolicyContinue     KeyStatusPolicy = "continue"
)

// Valid reports whether the policy is recognized. The empty policy means error.
func (p KeyStatusPolicy) Valid() bool {
	switch p {
	case "", PolicyError, PolicyCloseSession, PolicyFallback, PolicyContinue:
		return true
	}
	return false
}

// KeyStatusInfo pairs a key id with its status.
type KeyStatusInfo struct {
	KeyID  []byte
	Status KeyStatus
}
