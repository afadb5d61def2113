// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sessions

import "github.com/ManuGH/emecore/internal/fsm"

// ClosingStatus tracks the teardown of one session entry.
type ClosingStatus string

const (
	ClosingNone     ClosingStatus = "none"
	ClosingPending  ClosingStatus = "pending"
	ClosingAwaiting ClosingStatus = "awaiting"
	ClosingDone     ClosingStatus = "done"
	ClosingFailed   ClosingStatus = "failed"
)

type closingEvent string

const (
	evClose   closingEvent = "close"
	evDefer   closingEvent = "defer"
	evResume  closingEvent = "resume"
	evSucceed closingEvent = "succeed"
	evFail    closingEvent = "fail"
)

// A close never runs while a request generation or a load is in flight:
// it is deferred (awaiting) and resumed once the operation settles.
var closingTransitions = []fsm.Transition[ClosingStatus, closingEvent]{
	{From: ClosingNone, Event: evClose, To: ClosingPending},
	{From: ClosingNone, Event: evDefer, To: ClosingAwaiting},
	{From: ClosingAwaiting, Event: evResume, To: ClosingPending},
	{From: ClosingPending, Event: evSucceed, To: ClosingDone},
	{From: ClosingPending, Event: evFail, To: ClosingFailed},
}

func newClosingMachine() *fsm.Machine[ClosingStatus, closingEvent] {
	return fsm.MustNew(ClosingNone, closingTransitions)
}
