// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package events carries the outward events of a content decryptor.
package events

import (
	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/model"
)

// Topic names an event stream.
type Topic string

const (
	TopicStateChange               Topic = "stateChange"
	TopicWarning                   Topic = "warning"
	TopicError                     Topic = "error"
	TopicBlackListProtectionData   Topic = "blackListProtectionData"
	TopicKeyIDsCompatibilityUpdate Topic = "keyIdsCompatibilityUpdate"
)

// AllTopics lists every topic in a stable order.
var AllTopics = []Topic{
	TopicStateChange,
	TopicWarning,
	TopicError,
	TopicBlackListProtectionData,
	TopicKeyIDsCompatibilityUpdate,
}

// Message is one published event; its concrete type depends on the topic.
type Message interface {
	Topic() Topic
}

// StateChange reports a new decryptor state.
type StateChange struct {
	State model.DecryptorState
}

// Warning reports a recoverable condition.
type Warning struct {
	Err error
}

// Error reports the fatal error; it is published at most once.
type Error struct {
	Err error
}

// BlackListProtectionData asks the content pipeline to avoid the content
// protected by InitData. Err is the session error behind it, if any.
type BlackListProtectionData struct {
	InitData initdata.InitializationData
	Err      error
}

// KeyIDsCompatibilityUpdate reports decipherability changes.
type KeyIDsCompatibilityUpdate struct {
	Whitelisted [][]byte
	Blacklisted [][]byte
	Delisted    [][]byte
}

func (StateChange) Topic() Topic               { return TopicStateChange }
func (Warning) Topic() Topic                   { return TopicWarning }
func (Error) Topic() Topic                     { return TopicError }
func (BlackListProtectionData) Topic() Topic   { return TopicBlackListProtectionData }
func (KeyIDsCompatibilityUpdate) Topic() Topic { return TopicKeyIDsCompatibilityUpdate }
