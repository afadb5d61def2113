// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"slices"
	"sync"

	"github.com/ManuGH/emecore/internal/drm/events"
	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/model"
)

// Snapshot is the JSON view served on /state.
type Snapshot struct {
	DecryptorID        string   `json:"decryptorId,omitempty"`
	State              string   `json:"state"`
	KeySystem          string   `json:"keySystem,omitempty"`
	Whitelisted        []string `json:"whitelistedKeyIds"`
	Blacklisted        []string `json:"blacklistedKeyIds"`
	BlacklistedPeriods []string `json:"blacklistedPeriods"`
	Warnings           []string `json:"warnings"`
	Error              string   `json:"error,omitempty"`
}

// status accumulates decryptor events into a Snapshot.
type status struct {
	mu   sync.RWMutex
	snap Snapshot
}

func newStatus() *status {
	s := &status{}
	s.reset("")
	return s
}

func (s *status) reset(decryptorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{
		DecryptorID:        decryptorID,
		State:              string(model.StateInitializing),
		Whitelisted:        []string{},
		Blacklisted:        []string{},
		BlacklistedPeriods: []string{},
		Warnings:           []string{},
	}
}

func (s *status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Whitelisted = slices.Clone(s.snap.Whitelisted)
	out.Blacklisted = slices.Clone(s.snap.Blacklisted)
	out.BlacklistedPeriods = slices.Clone(s.snap.BlacklistedPeriods)
	out.Warnings = slices.Clone(s.snap.Warnings)
	return out
}

func (s *status) State() model.DecryptorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.DecryptorState(s.snap.State)
}

func (s *status) setState(state model.DecryptorState, keySystem string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = string(state)
	if keySystem != "" {
		s.snap.KeySystem = keySystem
	}
}

func (s *status) warn(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Warnings = append(s.snap.Warnings, err.Error())
}

func (s *status) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Error = err.Error()
}

func (s *status) applyUpdate(u events.KeyIDsCompatibilityUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kid := range initdata.KeyIDsHex(u.Whitelisted) {
		s.snap.Blacklisted = remove(s.snap.Blacklisted, kid)
		s.snap.Whitelisted = addUnique(s.snap.Whitelisted, kid)
	}
	for _, kid := range initdata.KeyIDsHex(u.Blacklisted) {
		s.snap.Whitelisted = remove(s.snap.Whitelisted, kid)
		s.snap.Blacklisted = addUnique(s.snap.Blacklisted, kid)
	}
	for _, kid := range initdata.KeyIDsHex(u.Delisted) {
		s.snap.Whitelisted = remove(s.snap.Whitelisted, kid)
		s.snap.Blacklisted = remove(s.snap.Blacklisted, kid)
	}
}

func (s *status) blacklistPeriod(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.BlacklistedPeriods = addUnique(s.snap.BlacklistedPeriods, id)
}

func addUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == v })
}
