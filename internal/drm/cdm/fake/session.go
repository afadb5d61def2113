package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/model"
)

var ErrSessionClosed = errors.New("fake: session is closed")

// Session is a fake key session.
type Session struct {
	mk  *MediaKeys
	typ model.SessionType

	messages chan cdm.Message
	changed  chan struct{}
	keyErrs  chan error
	closed   chan struct{}

	mu            sync.Mutex
	id            string
	statuses      []model.KeyStatusInfo
	pending       []model.KeyStatusInfo
	isClosed      bool
	generateCalls int
	initData      []byte
	updates       [][]byte
	closeCalls    int
}

func newSession(mk *MediaKeys, typ model.SessionType) *Session {
	return &Session{
		mk:       mk,
		typ:      typ,
		messages: make(chan cdm.Message, 16),
		changed:  make(chan struct{}, 1),
		keyErrs:  make(chan error, 4),
		closed:   make(chan struct{}),
	}
}

func (s *Session) Type() model.SessionType             { return s.typ }
func (s *Session) KeySystem() string                   { return s.mk.keySystem }
func (s *Session) Messages() <-chan cdm.Message        { return s.messages }
func (s *Session) KeyStatusesChanged() <-chan struct{} { return s.changed }
func (s *Session) KeyErrors() <-chan error             { return s.keyErrs }
func (s *Session) Closed() <-chan struct{}             { return s.closed }

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) KeyStatuses() []model.KeyStatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.KeyStatusInfo(nil), s.statuses...)
}

func (s *Session) GenerateRequest(ctx context.Context, initDataType string, data []byte) error {
	s.mu.Lock()
	s.generateCalls++
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if s.mk.p.broken[s.mk.keySystem] {
		return fmt.Errorf("fake: generateRequest unsupported for %s", s.mk.keySystem)
	}
	if hook := s.mk.p.generateHook; hook != nil {
		if err := hook(ctx, s); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.id = uuid.NewString()
	s.initData = append([]byte(nil), data...)
	s.mu.Unlock()

	s.EmitMessage("license-request", data)
	return nil
}

func (s *Session) Load(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p := s.mk.p
	p.mu.Lock()
	statuses, ok := p.persisted[sessionID]
	p.mu.Unlock()
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	s.id = sessionID
	if p.deferLoadedStatuses {
		s.pending = statuses
	} else {
		s.statuses = statuses
	}
	s.mu.Unlock()
	return true, nil
}

func (s *Session) Update(ctx context.Context, license []byte) error {
	if hook := s.mk.p.updateHook; hook != nil {
		if err := hook(ctx, s, license); err != nil {
			return err
		}
	}
	statuses, err := s.mk.p.parseLicense(license)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.updates = append(s.updates, append([]byte(nil), license...))
	s.statuses = statuses
	id := s.id
	s.mu.Unlock()

	if s.typ == model.SessionPersistentLicense && id != "" {
		s.mk.p.Persist(id, statuses)
	}
	s.signal()
	return nil
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.ForceClose()
	return nil
}

// ForceClose closes the session as the CDM would on its own.
func (s *Session) ForceClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return
	}
	s.isClosed = true
	close(s.closed)
}

// SetKeyStatuses replaces statuses and signals the change.
func (s *Session) SetKeyStatuses(statuses ...model.KeyStatusInfo) {
	s.mu.Lock()
	s.statuses = statuses
	s.mu.Unlock()
	s.signal()
}

// ReleaseLoadedStatuses publishes statuses held back by WithLoadedStatusesDeferred.
func (s *Session) ReleaseLoadedStatuses() {
	s.mu.Lock()
	if s.pending != nil {
		s.statuses, s.pending = s.pending, nil
	}
	s.mu.Unlock()
	s.signal()
}

// EmitMessage queues a CDM message; it is dropped if nobody drains the queue.
func (s *Session) EmitMessage(typ string, data []byte) {
	select {
	case s.messages <- cdm.Message{Type: typ, Data: data}:
	default:
	}
}

// EmitKeyError reports a CDM key error.
func (s *Session) EmitKeyError(err error) {
	select {
	case s.keyErrs <- err:
	default:
	}
}

func (s *Session) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

func (s *Session) GenerateRequestCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateCalls
}

// InitData returns the data given to the last successful GenerateRequest.
func (s *Session) InitData() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initData
}

func (s *Session) Updates() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.updates...)
}

func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
