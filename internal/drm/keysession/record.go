// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package keysession binds the key ids covered by a session to the
// initialization data that created it.
package keysession

import (
	"sync"

	"github.com/ManuGH/emecore/internal/drm/initdata"
)

// Record is the identity of one key session.
// The initialization data never changes; associated key ids only grow.
type Record struct {
	initData initdata.InitializationData

	mu     sync.RWMutex
	keyIDs [][]byte
}

// New creates a Record for the given initialization data.
func New(d initdata.InitializationData) *Record {
	return &Record{initData: d}
}

// InitData returns the initialization data the session was created for.
func (r *Record) InitData() initdata.InitializationData {
	return r.initData
}

// AssociateKeyIDs adds key ids known to be covered by the session's license.
func (r *Record) AssociateKeyIDs(ids [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyIDs = initdata.AppendUniqueKeyIDs(r.keyIDs, ids...)
}

// AssociatedKeyIDs returns a snapshot of the associated key ids.
func (r *Record) AssociatedKeyIDs() [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([][]byte(nil), r.keyIDs...)
}

// IsAssociatedWithKeyID reports whether id was associated.
func (r *Record) IsAssociatedWithKeyID(id []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return initdata.ContainsKeyID(r.keyIDs, id)
}

// IsCompatibleWith reports whether the session can serve d. Key ids announced
// by d match when all of them were already associated; otherwise the
// initialization data fingerprints must match.
func (r *Record) IsCompatibleWith(d initdata.InitializationData) bool {
	if d.HasKeyIDs() {
		r.mu.RLock()
		covered := len(r.keyIDs) > 0 && initdata.AllKeyIDsContained(d.KeyIDs, r.keyIDs)
		r.mu.RUnlock()
		if covered {
			return true
		}
		if r.initData.KeyIDs != nil {
			return initdata.AllKeyIDsContained(d.KeyIDs, r.initData.KeyIDs)
		}
	}
	if r.initData.Type != d.Type {
		return false
	}
	if r.initData.Values == nil || d.Values == nil {
		return r.initData.Values == d.Values
	}
	return r.initData.Values.IsCompatibleWith(d.Values)
}
