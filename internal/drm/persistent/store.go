// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package persistent indexes persisted license sessions so they can be
// reloaded across restarts.
package persistent

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/emecore/internal/drm/initdata"
	xglog "github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/metrics"
)

// Storage is the host-supplied synchronous save/load primitive.
// Load returns nil when nothing was saved yet.
type Storage interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Entry format versions.
const (
	// Version3 entries only carry init data fingerprints.
	Version3 = 3
	// Version4 entries also carry the key ids covered by the license.
	Version4 = 4
)

// StoredValue is one persisted init data value.
type StoredValue struct {
	SystemID string `json:"systemId,omitempty"`
	Hash     uint64 `json:"hash"`
	Data     []byte `json:"data"`
}

// Entry is one persisted session.
type Entry struct {
	Version      int           `json:"version"`
	SessionID    string        `json:"sessionId"`
	InitDataType string        `json:"initDataType,omitempty"`
	InitDataHash string        `json:"initDataHash,omitempty"`
	KeyIDs       []string      `json:"keyIds,omitempty"`
	Values       []StoredValue `json:"values"`
}

// KeyIDBytes decodes the hex key ids, skipping malformed ones.
func (e Entry) KeyIDBytes() [][]byte {
	out := make([][]byte, 0, len(e.KeyIDs))
	for _, s := range e.KeyIDs {
		b, err := hex.DecodeString(s)
		if err == nil {
			out = append(out, b)
		}
	}
	return out
}

func (e Entry) formatted() []initdata.Formatted {
	out := make([]initdata.Formatted, len(e.Values))
	for i, v := range e.Values {
		out[i] = initdata.Formatted{SystemID: v.SystemID, Data: v.Data, Hash: v.Hash}
	}
	return out
}

// Store is the ordered index, oldest entry first. Every mutation re-saves
// the whole index.
type Store struct {
	storage      Storage
	disableRetro bool
	logger       zerolog.Logger

	mu      sync.Mutex
	entries []Entry
}

// NewStore loads the index from storage. An unreadable index is logged and
// replaced by an empty one.
func NewStore(storage Storage, disableRetroCompatibility bool) (*Store, error) {
	if storage == nil {
		return nil, errors.New("persistent: storage is nil")
	}
	s := &Store{
		storage:      storage,
		disableRetro: disableRetroCompatibility,
		logger:       xglog.WithComponent("drm.persistent"),
	}
	raw, err := storage.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not load persistent sessions, starting empty")
		return s, nil
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.entries); err != nil {
			s.logger.Warn().Err(err).Msg("persistent sessions index is corrupted, starting empty")
			s.entries = nil
		}
	}
	metrics.SetPersistentEntries(len(s.entries))
	return s, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a snapshot, oldest first.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Get returns the entry compatible with d.
func (s *Store) Get(d initdata.InitializationData) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(d)
	if i < 0 {
		return Entry{}, false
	}
	return s.entries[i], true
}

// GetAndReuse is Get, moving the entry to the most recently used position.
// A failed save is logged, the lookup still succeeds.
func (s *Store) GetAndReuse(d initdata.InitializationData) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(d)
	if i < 0 {
		return Entry{}, false
	}
	e := s.entries[i]
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	s.entries = append(s.entries, e)
	// the promotion stays in memory and is saved by the next mutation
	if err := s.saveLocked(); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldSessionID, e.SessionID).Msg("could not save reused persistent session order")
	}
	return e, true
}

// Add registers a persisted session for d. An entry already stored for the
// same init data is replaced, unless it carries the same session id.
func (s *Store) Add(d initdata.InitializationData, keyIDs [][]byte, sessionID string) error {
	if sessionID == "" {
		return errors.New("persistent: empty session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(d); i >= 0 {
		if s.entries[i].SessionID == sessionID && s.entries[i].Version == Version4 {
			return nil
		}
		s.logger.Info().Str(xglog.FieldSessionID, s.entries[i].SessionID).Msg("replacing persistent session entry")
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
	}

	e := Entry{
		Version:      Version4,
		SessionID:    sessionID,
		InitDataType: d.Type,
		InitDataHash: d.Values.Fingerprint(),
		KeyIDs:       initdata.KeyIDsHex(keyIDs),
	}
	for _, f := range d.Values.Formatted() {
		e.Values = append(e.Values, StoredValue{SystemID: f.SystemID, Hash: f.Hash, Data: f.Data})
	}
	s.entries = append(s.entries, e)
	return s.saveLocked()
}

// Delete removes the entry stored under sessionID.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.SessionID == sessionID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return s.saveLocked()
		}
	}
	return nil
}

// DeleteOldSessions removes the n least recently used entries.
func (s *Store) DeleteOldSessions(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(s.entries) {
		n = len(s.entries)
	}
	s.logger.Info().Int(xglog.FieldCount, n).Msg("deleting old persistent sessions")
	s.entries = append([]Entry(nil), s.entries[n:]...)
	return s.saveLocked()
}

// CleanOld keeps at most limit entries, dropping the oldest.
func (s *Store) CleanOld(limit int) error {
	if limit < 0 {
		return nil
	}
	if excess := s.Len() - limit; excess > 0 {
		return s.DeleteOldSessions(excess)
	}
	return nil
}

func (s *Store) indexOf(d initdata.InitializationData) int {
	formatted := d.Values.Formatted()
	for i, e := range s.entries {
		if e.InitDataType != d.Type {
			continue
		}
		switch e.Version {
		case Version4:
			if d.HasKeyIDs() && len(e.KeyIDs) > 0 {
				if initdata.AllKeyIDsContained(d.KeyIDs, e.KeyIDBytes()) {
					return i
				}
				continue
			}
			if initdata.Compatible(formatted, e.formatted()) {
				return i
			}
		case Version3:
			if s.disableRetro {
				continue
			}
			if initdata.Compatible(formatted, e.formatted()) {
				return i
			}
		}
	}
	return -1
}

func (s *Store) saveLocked() error {
	metrics.SetPersistentEntries(len(s.entries))
	buf, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("persistent: encode index: %w", err)
	}
	if err := s.storage.Save(buf); err != nil {
		return fmt.Errorf("persistent: save index: %w", err)
	}
	return nil
}
