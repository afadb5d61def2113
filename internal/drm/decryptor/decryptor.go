// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package decryptor orchestrates content decryption for one media element:
// it negotiates a key system, binds a CDM instance and turns protection
// initialization data into licensed key sessions.
package decryptor

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/events"
	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/mediakeys"
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/fsm"
	xglog "github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/metrics"
)

var (
	// ErrDecryptorStopped is returned when init data arrives after an error or a dispose.
	ErrDecryptorStopped = errors.New("decryptor: disposed or stopped")
	// ErrNotWaitingForAttachment is returned by Attach outside of WaitingForAttachment.
	ErrNotWaitingForAttachment = errors.New("decryptor: attach is only possible in the WaitingForAttachment state")
)

// Config wires a ContentDecryptor.
type Config struct {
	Manager *mediakeys.Manager
	Element cdm.MediaElement
	Options []model.KeySystemOption
	// Bus receives the outward events. Subscribe to it before calling New to
	// observe the first state change. A private bus is used when nil.
	Bus *events.Bus
}

// ContentDecryptor is the public state machine of content decryption.
type ContentDecryptor struct {
	id      string
	manager *mediakeys.Manager
	element cdm.MediaElement
	options []model.KeySystemOption
	bus     *events.Bus
	out     *outbox
	logger  zerolog.Logger

	// cancelled exactly once, on the first fatal error or on dispose
	ctx     context.Context
	cancel  context.CancelFunc
	workers workerRegistry

	mu          sync.Mutex
	state       *fsm.Machine[model.DecryptorState, stateEvent]
	err         error
	attachment  attachment
	queueLocked bool
	queue       []initdata.InitializationData
	mediaKeys   *mediakeys.State
	sessions    []*sessionInfo
}

// New starts the key-system negotiation in the background and returns
// immediately, in the Initializing state.
func New(cfg Config) (*ContentDecryptor, error) {
	if cfg.Manager == nil || cfg.Element == nil {
		return nil, errors.New("decryptor: manager and element are required")
	}
	if len(cfg.Options) == 0 {
		return nil, errors.New("decryptor: no key system option given")
	}
	for _, o := range cfg.Options {
		if !o.SingleLicensePer.Valid() {
			return nil, errors.New("decryptor: unknown singleLicensePer " + string(o.SingleLicensePer))
		}
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	id := uuid.NewString()
	ctx := xglog.ContextWithDecryptorID(context.Background(), id)
	logger := xglog.WithContext(ctx, xglog.WithComponent("drm.decryptor")).With().
		Str(xglog.FieldElementID, cfg.Element.ID()).Logger()
	ctx, cancel := context.WithCancel(ctx)

	d := &ContentDecryptor{
		id:          id,
		manager:     cfg.Manager,
		element:     cfg.Element,
		options:     slices.Clone(cfg.Options),
		bus:         bus,
		out:         newOutbox(bus, logger),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		state:       fsm.MustNew(model.StateInitializing, stateTransitions),
		queueLocked: true,
	}
	d.state.OnTransition(func(from, to model.DecryptorState, _ stateEvent) {
		metrics.RecordTransition(string(from), string(to))
		d.logger.Info().
			Str(xglog.FieldOldState, string(from)).
			Str(xglog.FieldNewState, string(to)).
			Msg("decryptor state changed")
	})

	d.workers.Go(d.out.run)
	d.workers.Go(d.initialize)
	return d, nil
}

// ID identifies the decryptor in logs.
func (d *ContentDecryptor) ID() string { return d.id }

// State returns the current public state.
func (d *ContentDecryptor) State() model.DecryptorState { return d.state.State() }

// Err returns the fatal error that stopped the decryptor, if any.
func (d *ContentDecryptor) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Subscribe returns a subscription on the decryptor's bus.
func (d *ContentDecryptor) Subscribe(ctx context.Context, topics ...events.Topic) *events.Subscription {
	return d.bus.Subscribe(ctx, topics...)
}

// KeySystem returns the negotiated key system, or "" before negotiation.
func (d *ContentDecryptor) KeySystem() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mediaKeys == nil {
		return ""
	}
	return d.mediaKeys.KeySystem
}

func (d *ContentDecryptor) initialize() {
	st, err := d.manager.Init(d.ctx, d.element, d.options)
	if err != nil {
		d.fatal(err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stoppedLocked() {
		return
	}
	d.mediaKeys = st
	if _, err := d.state.Fire(evNegotiated); err != nil {
		d.logger.Error().Err(err).Msg("unexpected state after negotiation")
		return
	}
	d.emitLocked(events.StateChange{State: model.StateWaitingForAttachment})
}

// Attach binds the negotiated CDM instance to the media element. It must be
// called in WaitingForAttachment; a second call is ignored.
func (d *ContentDecryptor) Attach() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State() != model.StateWaitingForAttachment {
		return ErrNotWaitingForAttachment
	}
	if d.attachment != notAttached {
		d.logger.Warn().Msg("attach called more than once")
		return nil
	}
	d.attachment = attachPending
	st := d.mediaKeys

	if st.Option.DisableMediaKeysAttachmentLock {
		d.toReadyLocked()
		d.queueLocked = false
	}
	if !d.workers.Go(func() { d.attach(st) }) {
		return ErrDecryptorStopped
	}
	if !d.queueLocked {
		d.processQueueLocked()
	}
	return nil
}

func (d *ContentDecryptor) attach(st *mediakeys.State) {
	if err := d.manager.Attach(d.ctx, d.element, st); err != nil {
		if d.ctx.Err() != nil {
			return
		}
		d.fatal(model.NewError(model.CodeMediaKeysAttachment, "could not attach media keys", err))
		return
	}

	d.mu.Lock()
	d.attachment = attached
	d.mu.Unlock()

	if cert := st.Option.ServerCertificate; len(cert) > 0 {
		if err := d.manager.SetServerCertificate(d.ctx, st.MediaKeys, cert); err != nil && d.ctx.Err() == nil {
			var eme *model.EncryptedMediaError
			if errors.As(err, &eme) {
				d.warn(eme)
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stoppedLocked() {
		return
	}
	d.toReadyLocked()
	d.queueLocked = false
	d.processQueueLocked()
}

func (d *ContentDecryptor) toReadyLocked() {
	if d.State() == model.StateReadyForContent {
		return
	}
	if _, err := d.state.Fire(evAttached); err != nil {
		d.logger.Error().Err(err).Msg("unexpected state on attachment")
		return
	}
	d.emitLocked(events.StateChange{State: model.StateReadyForContent})
}

// Dispose stops the decryptor and waits, bounded by ctx, for its goroutines.
// The CDM instance stays bound to the element so a later decryptor can
// reuse it; see mediakeys.Manager.Dispose to release it.
func (d *ContentDecryptor) Dispose(ctx context.Context) error {
	d.mu.Lock()
	d.queue = nil
	if _, err := d.state.Fire(evDispose); err == nil {
		d.out.close(events.StateChange{State: model.StateDisposed})
	} else {
		d.out.close()
	}
	d.cancel()
	d.mu.Unlock()

	return d.workers.CloseAndWait(ctx)
}

// fatal stops the decryptor once. Later calls, and calls after dispose, are no-ops.
func (d *ContentDecryptor) fatal(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		return
	}
	d.err = err
	d.queue = nil
	d.cancel()

	code := model.CodeOf(err)
	metrics.RecordError("fatal", string(code))
	d.logger.Error().Err(err).Str(xglog.FieldCode, string(code)).Msg("content decryption failed")

	if _, ferr := d.state.Fire(evFail); ferr != nil {
		d.out.close(events.Error{Err: err})
		return
	}
	d.out.close(events.Error{Err: err}, events.StateChange{State: model.StateError})
}

func (d *ContentDecryptor) stoppedLocked() bool {
	return d.State().IsTerminal()
}

func (d *ContentDecryptor) emitLocked(msg events.Message) {
	d.out.push(msg)
}

func (d *ContentDecryptor) warn(err *model.EncryptedMediaError) {
	metrics.RecordError("warning", string(err.Code))
	d.logger.Warn().Err(err).Str(xglog.FieldCode, string(err.Code)).Msg("decryption warning")
	d.out.push(events.Warning{Err: err})
}
