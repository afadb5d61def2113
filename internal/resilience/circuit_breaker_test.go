// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errUnavailable = errors.New("unavailable")

func fail() error    { return errUnavailable }
func succeed() error { return nil }

func newTestBreaker(threshold int, opts ...Option) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewCircuitBreaker("test", threshold, 10*time.Second, opts...), clock
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)

	for range 2 {
		assert.ErrorIs(t, cb.Do(fail), errUnavailable)
	}
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Do(fail), errUnavailable)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2)

	_ = cb.Do(fail)
	require.NoError(t, cb.Do(succeed))
	_ = cb.Do(fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1)
	_ = cb.Do(fail)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(5 * time.Second)
	assert.ErrorIs(t, cb.Do(succeed), ErrCircuitOpen, "still within the reset timeout")

	clock.Advance(5 * time.Second)
	assert.ErrorIs(t, cb.Do(fail), errUnavailable)
	assert.Equal(t, StateOpen, cb.State(), "a failed probe reopens")

	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Do(succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestSingleProbeInFlight(t *testing.T) {
	cb, clock := newTestBreaker(1)
	_ = cb.Do(fail)
	clock.Advance(time.Minute)

	err := cb.Do(func() error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Do(succeed), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestFailureFilter(t *testing.T) {
	cb, clock := newTestBreaker(1, WithFailureFilter(func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}))

	assert.ErrorIs(t, cb.Do(func() error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Do(fail)
	require.Equal(t, StateOpen, cb.State())

	// an ignored error on the probe neither closes nor reopens
	clock.Advance(time.Minute)
	_ = cb.Do(func() error { return context.Canceled })
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Do(succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestDefaults(t *testing.T) {
	cb := NewCircuitBreaker("test", 0, 0)
	assert.Equal(t, defaultThreshold, cb.threshold)
	assert.Equal(t, defaultResetTimeout, cb.resetTimeout)
}
