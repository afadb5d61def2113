// Package fake is an in-memory CDM used by tests and the simulator.
// Licenses are concatenations of 16-byte key ids, every key is reported usable.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/model"
)

func init() {
	cdm.Register("fake", func() cdm.Platform { return NewPlatform() })
	cdm.Register("fake-untrusted", func() cdm.Platform {
		return NewPlatform(WithName("fake-untrusted"), WithUntrustedNegotiation())
	})
}

// ErrNotSupported is returned for key systems the platform does not know.
var ErrNotSupported = errors.New("fake: key system not supported")

// LicenseParser turns a license into key statuses.
type LicenseParser func(license []byte) ([]model.KeyStatusInfo, error)

// AccessRequest records one RequestMediaKeySystemAccess call.
type AccessRequest struct {
	KeyType string
	Configs []cdm.KeySystemConfiguration
}

// Option configures a Platform.
type Option func(*Platform)

func WithName(name string) Option { return func(p *Platform) { p.name = name } }

// WithSupportedKeySystems restricts the accepted key-system names.
func WithSupportedKeySystems(keyTypes ...string) Option {
	return func(p *Platform) {
		p.supported = make(map[string]bool, len(keyTypes))
		for _, k := range keyTypes {
			p.supported[k] = true
		}
	}
}

// WithUntrustedNegotiation marks key systems as needing a probe. No argument
// marks every key system.
func WithUntrustedNegotiation(keyTypes ...string) Option {
	return func(p *Platform) {
		if len(keyTypes) == 0 {
			p.untrustAll = true
			return
		}
		for _, k := range keyTypes {
			p.untrusted[k] = true
		}
	}
}

// WithBrokenKeySystems makes generateRequest fail on sessions of those key systems.
func WithBrokenKeySystems(keyTypes ...string) Option {
	return func(p *Platform) {
		for _, k := range keyTypes {
			p.broken[k] = true
		}
	}
}

// WithConfigurationFilter rejects configurations for which reject returns true.
func WithConfigurationFilter(reject func(keyType string, cfg cdm.KeySystemConfiguration) bool) Option {
	return func(p *Platform) { p.rejectConfig = reject }
}

func WithCreateMediaKeysError(err error) Option {
	return func(p *Platform) { p.createMediaKeysErr = err }
}

func WithServerCertificateError(err error) Option {
	return func(p *Platform) { p.certErr = err }
}

func WithLicenseParser(fn LicenseParser) Option {
	return func(p *Platform) { p.parseLicense = fn }
}

// WithGenerateRequestHook runs before a request message is emitted. A non-nil
// error fails the call. The hook may block.
func WithGenerateRequestHook(fn func(ctx context.Context, s *Session) error) Option {
	return func(p *Platform) { p.generateHook = fn }
}

// WithUpdateHook runs before a license is applied.
func WithUpdateHook(fn func(ctx context.Context, s *Session, license []byte) error) Option {
	return func(p *Platform) { p.updateHook = fn }
}

// WithLoadedStatusesDeferred makes Load return before key statuses are known;
// they are published on the next KeyStatusesChanged signal.
func WithLoadedStatusesDeferred() Option {
	return func(p *Platform) { p.deferLoadedStatuses = true }
}

// Platform is an in-memory cdm.Platform.
type Platform struct {
	name                string
	supported           map[string]bool
	untrusted           map[string]bool
	untrustAll          bool
	broken              map[string]bool
	rejectConfig        func(string, cdm.KeySystemConfiguration) bool
	createMediaKeysErr  error
	certErr             error
	parseLicense        LicenseParser
	generateHook        func(context.Context, *Session) error
	updateHook          func(context.Context, *Session, []byte) error
	deferLoadedStatuses bool

	mu        sync.Mutex
	requests  []AccessRequest
	mediaKeys []*MediaKeys
	sessions  []*Session
	persisted map[string][]model.KeyStatusInfo
}

// NewPlatform builds a Platform accepting every key system.
func NewPlatform(opts ...Option) *Platform {
	p := &Platform{
		name:         "fake",
		untrusted:    make(map[string]bool),
		broken:       make(map[string]bool),
		parseLicense: ParseKeyIDLicense,
		persisted:    make(map[string][]model.KeyStatusInfo),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Platform) Name() string { return p.name }

func (p *Platform) TrustsAccessNegotiation(keyType string) bool {
	return !p.untrustAll && !p.untrusted[keyType]
}

func (p *Platform) RequestMediaKeySystemAccess(ctx context.Context, keyType string, configs []cdm.KeySystemConfiguration) (cdm.Access, error) {
	p.mu.Lock()
	p.requests = append(p.requests, AccessRequest{KeyType: keyType, Configs: configs})
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.supported != nil && !p.supported[keyType] {
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, keyType)
	}
	for _, cfg := range configs {
		if p.rejectConfig != nil && p.rejectConfig(keyType, cfg) {
			continue
		}
		return &Access{p: p, keySystem: keyType, cfg: cfg}, nil
	}
	return nil, fmt.Errorf("%w: no supported configuration for %s", ErrNotSupported, keyType)
}

// Requests returns the recorded access requests.
func (p *Platform) Requests() []AccessRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AccessRequest(nil), p.requests...)
}

// MediaKeysCreated returns how many CDM instances were created.
func (p *Platform) MediaKeysCreated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.mediaKeys)
}

// Sessions returns every session created so far, probes included.
func (p *Platform) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// OpenSessions returns sessions that were not closed.
func (p *Platform) OpenSessions() []*Session {
	var out []*Session
	for _, s := range p.Sessions() {
		if !s.IsClosed() {
			out = append(out, s)
		}
	}
	return out
}

// Persist stores a license as if a previous run had persisted it.
func (p *Platform) Persist(sessionID string, statuses []model.KeyStatusInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persisted[sessionID] = statuses
}

// IsPersisted reports whether the CDM holds a persisted license for sessionID.
func (p *Platform) IsPersisted(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.persisted[sessionID]
	return ok
}

// ParseKeyIDLicense reads a license made of 16-byte key ids.
func ParseKeyIDLicense(license []byte) ([]model.KeyStatusInfo, error) {
	if len(license)%16 != 0 {
		return nil, fmt.Errorf("fake: license length %d is not a multiple of 16", len(license))
	}
	out := make([]model.KeyStatusInfo, 0, len(license)/16)
	for i := 0; i < len(license); i += 16 {
		kid := append([]byte(nil), license[i:i+16]...)
		out = append(out, model.KeyStatusInfo{KeyID: kid, Status: model.KeyUsable})
	}
	return out, nil
}

// Access is a granted access.
type Access struct {
	p         *Platform
	keySystem string
	cfg       cdm.KeySystemConfiguration
}

func (a *Access) KeySystem() string                         { return a.keySystem }
func (a *Access) Configuration() cdm.KeySystemConfiguration { return a.cfg }

func (a *Access) CreateMediaKeys(ctx context.Context) (cdm.MediaKeys, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.p.createMediaKeysErr != nil {
		return nil, a.p.createMediaKeysErr
	}
	mk := &MediaKeys{p: a.p, keySystem: a.keySystem}
	a.p.mu.Lock()
	a.p.mediaKeys = append(a.p.mediaKeys, mk)
	a.p.mu.Unlock()
	return mk, nil
}

// MediaKeys is a fake CDM instance.
type MediaKeys struct {
	p         *Platform
	keySystem string

	mu   sync.Mutex
	cert []byte
}

func (m *MediaKeys) KeySystem() string { return m.keySystem }

func (m *MediaKeys) CreateSession(sessionType model.SessionType) (cdm.Session, error) {
	s := newSession(m, sessionType)
	m.p.mu.Lock()
	m.p.sessions = append(m.p.sessions, s)
	m.p.mu.Unlock()
	return s, nil
}

func (m *MediaKeys) SetServerCertificate(ctx context.Context, cert []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.p.certErr != nil {
		return m.p.certErr
	}
	m.mu.Lock()
	m.cert = append([]byte(nil), cert...)
	m.mu.Unlock()
	return nil
}

// ServerCertificate returns the last certificate set.
func (m *MediaKeys) ServerCertificate() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cert
}

// Element is a fake media element.
type Element struct {
	id string

	mu       sync.Mutex
	mk       cdm.MediaKeys
	failWith error
	setCalls int
}

func NewElement(id string) *Element { return &Element{id: id} }

func (e *Element) ID() string { return e.id }

func (e *Element) MediaKeys() cdm.MediaKeys {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mk
}

func (e *Element) SetMediaKeys(ctx context.Context, mk cdm.MediaKeys) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.failWith != nil {
		return e.failWith
	}
	e.mk = mk
	return nil
}

// FailAttachment makes subsequent SetMediaKeys calls fail.
func (e *Element) FailAttachment(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failWith = err
}

// SetMediaKeysCalls counts attachment attempts.
func (e *Element) SetMediaKeysCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setCalls
}
