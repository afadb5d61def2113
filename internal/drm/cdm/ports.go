// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package cdm describes the capability surface of a Content Decryption Module.
// Every blocking call takes a context and is a suspension point for callers.
package cdm

import (
	"context"

	"github.com/ManuGH/emecore/internal/drm/model"
)

// Platform is one EME implementation variant, selected once at startup.
type Platform interface {
	Name() string
	RequestMediaKeySystemAccess(ctx context.Context, keyType string, configs []KeySystemConfiguration) (Access, error)
	// TrustsAccessNegotiation is false for key systems whose granted access
	// must be confirmed by a synthetic license request.
	TrustsAccessNegotiation(keyType string) bool
}

// Capability is one codec/robustness combination.
type Capability struct {
	ContentType string
	Robustness  string
}

// KeySystemConfiguration is a candidate configuration handed to the platform.
type KeySystemConfiguration struct {
	Label                 string
	InitDataTypes         []string
	VideoCapabilities     []Capability
	AudioCapabilities     []Capability
	DistinctiveIdentifier model.Requirement
	PersistentState       model.Requirement
	SessionTypes          []model.SessionType
}

// Access is a granted key-system access handle.
type Access interface {
	KeySystem() string
	Configuration() KeySystemConfiguration
	CreateMediaKeys(ctx context.Context) (MediaKeys, error)
}

// MediaKeys is a CDM instance.
type MediaKeys interface {
	CreateSession(sessionType model.SessionType) (Session, error)
	SetServerCertificate(ctx context.Context, cert []byte) error
}

// Message is a CDM-originated payload destined to the license server.
type Message struct {
	Type string
	Data []byte
}

// Session is a key session. Event channels are owned by the implementation;
// KeyStatusesChanged coalesces notifications.
type Session interface {
	SessionID() string
	GenerateRequest(ctx context.Context, initDataType string, data []byte) error
	Load(ctx context.Context, sessionID string) (bool, error)
	Update(ctx context.Context, license []byte) error
	Close(ctx context.Context) error
	KeyStatuses() []model.KeyStatusInfo

	Messages() <-chan Message
	KeyStatusesChanged() <-chan struct{}
	KeyErrors() <-chan error
	// Closed is closed once the session is closed, whoever closed it.
	Closed() <-chan struct{}
}

// MediaElement is the playback sink a CDM instance is attached to.
type MediaElement interface {
	ID() string
	MediaKeys() MediaKeys
	SetMediaKeys(ctx context.Context, mk MediaKeys) error
}
