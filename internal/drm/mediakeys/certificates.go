// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediakeys

import (
	"bytes"
	"sync"

	"github.com/ManuGH/emecore/internal/drm/cdm"
)

// certificateStore remembers the server certificate set on each CDM instance.
type certificateStore struct {
	mu    sync.Mutex
	certs map[cdm.MediaKeys][]byte
}

func newCertificateStore() *certificateStore {
	return &certificateStore{certs: make(map[cdm.MediaKeys][]byte)}
}

func (s *certificateStore) set(mk cdm.MediaKeys, cert []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[mk] = append([]byte(nil), cert...)
}

func (s *certificateStore) hasOne(mk cdm.MediaKeys) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.certs[mk]
	return ok
}

func (s *certificateStore) has(mk cdm.MediaKeys, cert []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.certs[mk]
	return ok && bytes.Equal(stored, cert)
}

func (s *certificateStore) forget(mk cdm.MediaKeys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.certs, mk)
}
