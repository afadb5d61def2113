// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediakeys

import (
	"sync"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/drm/persistent"
	"github.com/ManuGH/emecore/internal/drm/sessions"
)

// State is the CDM state bound to one media element. It is replaced as a
// whole, never mutated.
type State struct {
	Option    *model.KeySystemOption
	Access    cdm.Access
	KeySystem string
	MediaKeys cdm.MediaKeys

	LoadedSessions     *sessions.Store
	PersistentSessions *persistent.Store
}

// Registry is the authoritative table of CDM states, keyed by media element
// id. Entries must be cleared when the element is disposed.
type Registry struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*State)}
}

var defaultRegistry = NewRegistry()

// Default is the process-wide registry.
func Default() *Registry { return defaultRegistry }

func (r *Registry) Get(el cdm.MediaElement) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[el.ID()]
}

func (r *Registry) Set(el cdm.MediaElement, st *State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[el.ID()] = st
}

func (r *Registry) Clear(el cdm.MediaElement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, el.ID())
}

// Len returns the number of tracked elements.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
