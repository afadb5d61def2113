// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/metrics"
)

// SubscriberBuffer is the per-subscriber channel capacity.
const SubscriberBuffer = 64

// SlowSubscriberTimeout bounds how long Publish waits for one full
// subscriber before dropping the message for it.
const SlowSubscriberTimeout = 250 * time.Millisecond

const dropLogEvery = 100

// ErrSlowSubscriber is returned by Publish when at least one subscriber
// missed the message because its buffer stayed full.
var ErrSlowSubscriber = errors.New("slow subscriber")

var dropCount atomic.Uint64

// Bus is an in-memory pub/sub. A full subscriber only delays its own
// delivery: every other subscriber still gets the message. One subscription
// may span several topics and then sees their events in publish order.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]*Subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]*Subscription)}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

// Publish delivers msg to every subscriber of its topic. Subscribers with
// room are served first; full ones are then waited on concurrently, each for
// at most SlowSubscriberTimeout or until ctx is done.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	topic := msg.Topic()

	b.mu.RLock()
	subs := slices.Clone(b.subs[topic])
	b.mu.RUnlock()

	var full []*Subscription
	for _, sub := range subs {
		if !sub.offer(msg) {
			full = append(full, sub)
		}
	}
	if len(full) == 0 {
		return nil
	}

	var (
		wg      sync.WaitGroup
		dropped atomic.Int32
	)
	for _, sub := range full {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sub.send(ctx, msg) {
				return
			}
			dropped.Add(1)
			reason := "slow_subscriber"
			if err := ctx.Err(); err != nil {
				reason = publishDropReason(err)
			}
			recordDrop(topic, reason)
		}()
	}
	wg.Wait()

	n := dropped.Load()
	if n == 0 {
		return nil
	}
	cause := ErrSlowSubscriber
	if err := ctx.Err(); err != nil {
		cause = err
	}
	return fmt.Errorf("publish topic %q: dropped for %d subscriber(s): %w", topic, n, cause)
}

func recordDrop(topic Topic, reason string) {
	metrics.RecordBusDrop(string(topic), reason)
	count := dropCount.Add(1)
	if count%dropLogEvery == 1 {
		log.L().Warn().
			Str("topic", string(topic)).
			Str("reason", reason).
			Uint64("dropped", count).
			Msg("event bus dropped a message for a subscriber")
	}
}

// Subscribe registers a subscription for topics (all topics when none is
// given). It is closed when ctx is done or Close is called.
func (b *Bus) Subscribe(ctx context.Context, topics ...Topic) *Subscription {
	if len(topics) == 0 {
		topics = AllTopics
	}
	sub := &Subscription{b: b, topics: topics, ch: make(chan Message, SubscriberBuffer)}

	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], sub)
	}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub
}

// Subscription receives published events.
type Subscription struct {
	b      *Bus
	topics []Topic
	ch     chan Message
	once   sync.Once

	// guards ch against a close racing a send
	mu     sync.RWMutex
	closed bool
}

// offer delivers msg if the buffer has room. A closed subscription counts
// as served.
func (s *Subscription) offer(msg Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// send waits for room in the buffer, for at most SlowSubscriberTimeout.
func (s *Subscription) send(ctx context.Context, msg Message) bool {
	timer := time.NewTimer(SlowSubscriberTimeout)
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Close unregisters the subscription and closes its channel. It is idempotent.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		for _, t := range s.topics {
			lst := s.b.subs[t]
			out := lst[:0]
			for _, c := range lst {
				if c != s {
					out = append(out, c)
				}
			}
			if len(out) == 0 {
				delete(s.b.subs, t)
			} else {
				s.b.subs[t] = out
			}
		}
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}
