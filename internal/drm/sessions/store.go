// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package sessions owns the live key sessions of one CDM instance.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/keysession"
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/fsm"
	xglog "github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/metrics"
)

const (
	closeAttemptTimeout = time.Second
	closeMaxTries       = 5
	closeInitialDelay   = 100 * time.Millisecond
	closeMaxDelay       = time.Second
)

// Entry is one live session. Flags and closing state are guarded by mu.
type Entry struct {
	Session cdm.Session
	Type    model.SessionType
	Record  *keysession.Record

	mu                         sync.Mutex
	isGeneratingRequest        bool
	isLoadingPersistentSession bool
	closing                    *fsm.Machine[ClosingStatus, closingEvent]
	resume                     func()
	closeDone                  chan struct{}
	closeErr                   error
}

func newEntry(s cdm.Session, typ model.SessionType, rec *keysession.Record) *Entry {
	return &Entry{
		Session:   s,
		Type:      typ,
		Record:    rec,
		closing:   newClosingMachine(),
		closeDone: make(chan struct{}),
	}
}

// ClosingStatus returns the teardown state.
func (e *Entry) ClosingStatus() ClosingStatus {
	return e.closing.State()
}

// IsGeneratingRequest reports whether generateRequest is in flight.
func (e *Entry) IsGeneratingRequest() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isGeneratingRequest
}

// IsLoadingPersistentSession reports whether load is in flight.
func (e *Entry) IsLoadingPersistentSession() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLoadingPersistentSession
}

// Store is the LRU list of live sessions, oldest first.
type Store struct {
	mediaKeys cdm.MediaKeys
	logger    zerolog.Logger

	mu      sync.Mutex
	entries []*Entry
}

// NewStore creates an empty store for a CDM instance.
func NewStore(mk cdm.MediaKeys) *Store {
	return &Store{
		mediaKeys: mk,
		logger:    xglog.WithComponent("drm.sessions"),
	}
}

// MediaKeys returns the CDM instance the store creates sessions on.
func (s *Store) MediaKeys() cdm.MediaKeys { return s.mediaKeys }

// CreateSession opens a native session for d and tracks it. The entry is
// dropped silently if the session gets closed out of band.
func (s *Store) CreateSession(d initdata.InitializationData, typ model.SessionType) (*Entry, error) {
	native, err := s.mediaKeys.CreateSession(typ)
	if err != nil {
		return nil, fmt.Errorf("create %s session: %w", typ, err)
	}
	e := newEntry(native, typ, keysession.New(d))

	s.mu.Lock()
	s.entries = append(s.entries, e)
	n := len(s.entries)
	s.mu.Unlock()

	s.logger.Debug().
		Str(xglog.FieldSessionType, string(typ)).
		Int(xglog.FieldCount, n).
		Msg("created key session")

	go func() {
		<-native.Closed()
		if s.remove(e) {
			s.logger.Info().Str(xglog.FieldSessionID, native.SessionID()).Msg("key session closed, removed from store")
		}
	}()
	return e, nil
}

// Reuse returns the most recent entry compatible with d and marks it as
// most recently used.
func (s *Store) Reuse(d initdata.InitializationData) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.Record.IsCompatibleWith(d) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			s.entries = append(s.entries, e)
			return e
		}
	}
	return nil
}

// EntryFor returns the entry tracking native, or nil.
func (s *Store) EntryFor(native cdm.Session) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Session == native {
			return e
		}
	}
	return nil
}

// All returns the entries, least recently used first.
func (s *Store) All() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Entry(nil), s.entries...)
}

// Len returns the number of tracked entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// GenerateLicenseRequest calls generateRequest unless the session is closing.
func (s *Store) GenerateLicenseRequest(ctx context.Context, native cdm.Session, initDataType string, data []byte) error {
	e := s.EntryFor(native)
	if e == nil {
		return fmt.Errorf("generate license request: %w", model.ErrSessionNotFound)
	}
	if err := e.begin(&e.isGeneratingRequest); err != nil {
		return err
	}
	err := native.GenerateRequest(ctx, initDataType, data)
	e.end(&e.isGeneratingRequest)
	return err
}

// LoadPersistentSession loads sessionID into native unless it is closing.
func (s *Store) LoadPersistentSession(ctx context.Context, native cdm.Session, sessionID string) (bool, error) {
	e := s.EntryFor(native)
	if e == nil {
		return false, fmt.Errorf("load persistent session: %w", model.ErrSessionNotFound)
	}
	if err := e.begin(&e.isLoadingPersistentSession); err != nil {
		return false, err
	}
	ok, err := LoadSession(ctx, native, sessionID)
	e.end(&e.isLoadingPersistentSession)
	return ok, err
}

func (e *Entry) begin(flag *bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing.State() != ClosingNone {
		return model.ErrSessionClosing
	}
	*flag = true
	return nil
}

func (e *Entry) end(flag *bool) {
	e.mu.Lock()
	*flag = false
	resume := e.resume
	if !e.isGeneratingRequest && !e.isLoadingPersistentSession {
		e.resume = nil
	} else {
		resume = nil
	}
	e.mu.Unlock()
	if resume != nil {
		resume()
	}
}

// CloseSession stops tracking native and closes it, after any in-flight
// operation settled. It returns once the close completed or ctx is done;
// in the latter case the close still happens.
func (s *Store) CloseSession(ctx context.Context, native cdm.Session) error {
	s.mu.Lock()
	var e *Entry
	for i, cur := range s.entries {
		if cur.Session == native {
			e = cur
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if e == nil {
		s.logger.Warn().Msg("no key session found to close")
		return nil
	}
	return s.closeEntry(ctx, e, "close")
}

// CloseAllSessions swaps the store content out and closes every previous entry.
func (s *Store) CloseAllSessions(ctx context.Context) error {
	s.mu.Lock()
	old := s.entries
	s.entries = nil
	s.mu.Unlock()

	s.logger.Debug().Int(xglog.FieldCount, len(old)).Msg("closing all key sessions")
	var g errgroup.Group
	for _, e := range old {
		g.Go(func() error { return s.closeEntry(ctx, e, "close_all") })
	}
	return g.Wait()
}

func (s *Store) closeEntry(ctx context.Context, e *Entry, reason string) error {
	e.mu.Lock()
	switch {
	case e.closing.State() != ClosingNone:
		// already closing elsewhere
	case e.isGeneratingRequest || e.isLoadingPersistentSession:
		if _, err := e.closing.Fire(evDefer); err != nil {
			e.mu.Unlock()
			return err
		}
		e.resume = func() {
			if _, err := e.closing.Fire(evResume); err == nil {
				s.performClose(ctx, e, reason)
			}
		}
	default:
		if _, err := e.closing.Fire(evClose); err != nil {
			e.mu.Unlock()
			return err
		}
		e.mu.Unlock()
		s.performClose(ctx, e, reason)
		return e.closeErr
	}
	e.mu.Unlock()

	select {
	case <-e.closeDone:
		return e.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// performClose closes the native session, retrying with backoff.
func (s *Store) performClose(ctx context.Context, e *Entry, reason string) {
	base := context.WithoutCancel(ctx)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = closeInitialDelay
	bo.MaxInterval = closeMaxDelay

	_, err := backoff.Retry(base, func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(base, closeAttemptTimeout)
		defer cancel()
		err := e.Session.Close(attemptCtx)
		if err == nil {
			return struct{}{}, nil
		}
		select {
		case <-e.Session.Closed():
			// the CDM closed it anyway
			return struct{}{}, nil
		default:
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(closeMaxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			s.logger.Warn().Err(err).Dur("retry_in", d).Msg("could not close key session, retrying")
		}),
	)

	ev := evSucceed
	if err != nil {
		ev = evFail
		err = fmt.Errorf("close key session: %w", err)
		s.logger.Error().Err(err).Msg("giving up closing key session")
	}
	e.mu.Lock()
	e.closeErr = err
	_, _ = e.closing.Fire(ev)
	e.mu.Unlock()
	close(e.closeDone)
	metrics.RecordSessionClosed(reason, err)
}

func (s *Store) remove(e *Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.entries {
		if cur == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}
