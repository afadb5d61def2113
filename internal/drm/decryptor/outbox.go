// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decryptor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/emecore/internal/drm/events"
)

// publishTimeout bounds one Publish call. The bus already drops a message
// for a subscriber that stays full past events.SlowSubscriberTimeout.
const publishTimeout = time.Second

// outbox publishes events on the bus in the order they were queued. Events
// are queued while the decryptor lock is held and published without it.
type outbox struct {
	bus    *events.Bus
	logger zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []events.Message
	closed  bool
}

func newOutbox(bus *events.Bus, logger zerolog.Logger) *outbox {
	o := &outbox{bus: bus, logger: logger}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// push queues msg. It reports false once the outbox is closed.
func (o *outbox) push(msg events.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.pending = append(o.pending, msg)
	o.cond.Signal()
	return true
}

// close queues the last events and stops accepting new ones.
func (o *outbox) close(last ...events.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.pending = append(o.pending, last...)
	o.closed = true
	o.cond.Signal()
}

// run publishes until the outbox is closed and drained.
func (o *outbox) run() {
	for {
		o.mu.Lock()
		for len(o.pending) == 0 && !o.closed {
			o.cond.Wait()
		}
		batch := o.pending
		o.pending = nil
		closed := o.closed
		o.mu.Unlock()

		for _, msg := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			if err := o.bus.Publish(ctx, msg); err != nil {
				o.logger.Warn().Err(err).Str("topic", string(msg.Topic())).Msg("event dropped")
			}
			cancel()
		}
		if closed && len(batch) == 0 {
			return
		}
	}
}
