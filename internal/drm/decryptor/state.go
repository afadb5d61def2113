// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decryptor

import (
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/fsm"
)

type stateEvent string

const (
	evNegotiated stateEvent = "negotiated"
	evAttached   stateEvent = "attached"
	evFail       stateEvent = "fail"
	evDispose    stateEvent = "dispose"
)

// Error and Disposed have no outgoing edges.
var stateTransitions = func() []fsm.Transition[model.DecryptorState, stateEvent] {
	t := []fsm.Transition[model.DecryptorState, stateEvent]{
		{From: model.StateInitializing, Event: evNegotiated, To: model.StateWaitingForAttachment},
		{From: model.StateWaitingForAttachment, Event: evAttached, To: model.StateReadyForContent},
	}
	for _, from := range []model.DecryptorState{
		model.StateInitializing,
		model.StateWaitingForAttachment,
		model.StateReadyForContent,
	} {
		t = append(t,
			fsm.Transition[model.DecryptorState, stateEvent]{From: from, Event: evFail, To: model.StateError},
			fsm.Transition[model.DecryptorState, stateEvent]{From: from, Event: evDispose, To: model.StateDisposed},
		)
	}
	return t
}()

type attachment int

const (
	notAttached attachment = iota
	attachPending
	attached
)

func (a attachment) String() string {
	switch a {
	case attachPending:
		return "pending"
	case attached:
		return "attached"
	default:
		return "not-attached"
	}
}
