// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fsm provides a small strict transition-table state machine.
package fsm

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrInvalidTransition is returned when no edge exists for (state, event).
var ErrInvalidTransition = errors.New("invalid transition")

// Transition describes a single edge in the FSM.
// Guard may reject the transition.
type Transition[S ~string, E ~string] struct {
	From  S
	Event E
	To    S
	Guard func(from S, event E) error
}

// Machine is a small, test-friendly FSM runner.
// Unknown transitions are errors; states without outgoing edges are absorbing.
type Machine[S ~string, E ~string] struct {
	mu    sync.Mutex
	state S
	index map[string]Transition[S, E]
	hooks []func(from, to S, event E)
}

func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Machine[S, E]{state: initial, index: idx}, nil
}

// MustNew is New for static tables.
func MustNew[S ~string, E ~string](initial S, transitions []Transition[S, E]) *Machine[S, E] {
	m, err := New(initial, transitions)
	if err != nil {
		panic(err)
	}
	return m
}

// OnTransition registers a hook invoked after every applied transition.
// Hooks run without the machine lock held.
func (m *Machine[S, E]) OnTransition(fn func(from, to S, event E)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether event is accepted from the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[key(m.state, event)]
	return ok
}

// Fire attempts to apply an event atomically.
func (m *Machine[S, E]) Fire(event E) (S, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.index[key(from, event)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	if t.Guard != nil {
		if err := t.Guard(from, event); err != nil {
			m.mu.Unlock()
			return from, err
		}
	}
	m.state = t.To
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()

	for _, h := range hooks {
		h(from, t.To, event)
	}
	return t.To, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
