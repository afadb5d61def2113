// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package resilience protects remote dependencies from repeated failing calls.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/metrics"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned without calling the dependency while the
// circuit is open, or while a half-open probe is in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

const (
	defaultThreshold    = 3
	defaultResetTimeout = 30 * time.Second
)

// CircuitBreaker opens after threshold consecutive failures. Once
// resetTimeout elapsed, a single probe call decides whether it closes again.
type CircuitBreaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	isFailure    func(error) bool
	now          func() time.Time
	logger       zerolog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

type Option func(*CircuitBreaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithFailureFilter decides which errors count against the dependency.
// Errors it rejects are returned to the caller but reset nothing.
func WithFailureFilter(isFailure func(error) bool) Option {
	return func(cb *CircuitBreaker) { cb.isFailure = isFailure }
}

// NewCircuitBreaker creates a closed breaker. Non-positive settings fall
// back to 3 failures and 30 seconds.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = defaultResetTimeout
	}
	cb := &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		isFailure:    func(err error) bool { return err != nil },
		now:          time.Now,
		logger:       xglog.WithComponent("resilience").With().Str("breaker", name).Logger(),
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.SetCircuitBreakerState(name, string(StateClosed))
	return cb
}

// Do calls fn unless the circuit is open and returns fn's error unchanged.
func (cb *CircuitBreaker) Do(fn func() error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}
	callErr := fn()
	cb.settle(probe, callErr)
	return callErr
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.setStateLocked(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probing {
			return false, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}

	if err != nil && !cb.isFailure(err) {
		// inconclusive; a half-open breaker waits for the next probe
		return
	}
	if err == nil {
		cb.failures = 0
		if cb.state != StateClosed {
			cb.setStateLocked(StateClosed)
		}
		return
	}

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.tripLocked("probe_failed", err)
	case cb.state == StateClosed && cb.failures >= cb.threshold:
		cb.tripLocked("threshold_exceeded", err)
	}
}

func (cb *CircuitBreaker) tripLocked(reason string, err error) {
	cb.openedAt = cb.now()
	cb.setStateLocked(StateOpen)
	metrics.RecordCircuitBreakerTrip(cb.name, reason)
	cb.logger.Warn().Err(err).
		Str("reason", reason).
		Int("failures", cb.failures).
		Dur("reset_after", cb.resetTimeout).
		Msg("circuit opened")
}

func (cb *CircuitBreaker) setStateLocked(s State) {
	if cb.state == s {
		return
	}
	cb.logger.Debug().
		Str(xglog.FieldOldState, string(cb.state)).
		Str(xglog.FieldNewState, string(s)).
		Msg("circuit state changed")
	cb.state = s
	metrics.SetCircuitBreakerState(cb.name, string(s))
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
