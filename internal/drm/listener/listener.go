// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package listener drives the events of one key session: key status
// reconciliation and the license request/response cycle.
package listener

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/model"
	xglog "github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/metrics"
	"github.com/ManuGH/emecore/internal/telemetry"
)

// Handler receives what the listener observes. Calls are made from the
// listener goroutines, never concurrently for the same listener.
type Handler interface {
	OnWarning(err *model.EncryptedMediaError)
	OnKeyUpdate(whitelisted, blacklisted [][]byte)
	// OnError receives a *model.BlacklistedSessionError, a
	// *model.DecommissionedSessionError or a fatal error. The listener
	// stops after it.
	OnError(err error)
}

// Listener is a running session listener.
type Listener struct {
	session   cdm.Session
	opt       *model.KeySystemOption
	keySystem string
	handler   Handler
	logger    zerolog.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// serializes handler calls
	emitMu sync.Mutex
	failed bool
}

// Start listens to session until ctx is done, the session closes, Stop is
// called or an error is reported.
func Start(ctx context.Context, session cdm.Session, opt *model.KeySystemOption, keySystem string, h Handler) *Listener {
	lctx, cancel := context.WithCancel(ctx)
	l := &Listener{
		session:   session,
		opt:       opt,
		keySystem: keySystem,
		handler:   h,
		logger: xglog.WithContext(ctx, xglog.WithComponent("drm.listener")).With().
			Str(xglog.FieldKeySystem, keySystem).Logger(),
		tracer: telemetry.Tracer("drm.listener"),
		ctx:    lctx,
		cancel: cancel,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Stop cancels the listener. It is idempotent.
func (l *Listener) Stop() { l.cancel() }

// Wait blocks until every listener goroutine returned.
func (l *Listener) Wait() { l.wg.Wait() }

// Done is closed once the listener is cancelled.
func (l *Listener) Done() <-chan struct{} { return l.ctx.Done() }

func (l *Listener) run() {
	defer l.wg.Done()

	if len(l.session.KeyStatuses()) > 0 {
		l.handleKeyStatuses()
	}
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.session.Closed():
			l.logger.Debug().Msg("key session closed, stopping listener")
			l.cancel()
			return
		case <-l.session.KeyStatusesChanged():
			l.handleKeyStatuses()
		case msg := <-l.session.Messages():
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.handleMessage(msg)
			}()
		case err := <-l.session.KeyErrors():
			l.fail(model.NewError(model.CodeKeyError, "the CDM reported a key error", err))
		}
	}
}

func (l *Listener) handleKeyStatuses() {
	res, err := CheckKeyStatuses(l.session.KeyStatuses(), l.opt, l.keySystem)
	if res.Warning != nil {
		l.warn(res.Warning)
	}
	if err != nil {
		l.fail(err)
		return
	}
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	if l.failed || l.ctx.Err() != nil {
		return
	}
	l.handler.OnKeyUpdate(res.Whitelisted, res.Blacklisted)
}

func (l *Listener) handleMessage(msg cdm.Message) {
	logger := l.logger.With().Str(xglog.FieldMessageType, msg.Type).Logger()
	logger.Info().Int("size", len(msg.Data)).Msg("received license request message")

	license, err := l.fetchLicense(msg)
	if l.ctx.Err() != nil {
		return
	}
	if err != nil {
		var emeErr *model.EncryptedMediaError
		if !errors.As(err, &emeErr) {
			emeErr = model.NewError(model.CodeKeyLoadError, "", err)
		}
		l.fail(&model.BlacklistedSessionError{Reason: emeErr})
		return
	}
	if license == nil {
		logger.Info().Msg("no license given, skipping session update")
		return
	}

	logger.Debug().Int("size", len(license)).Msg("updating key session")
	if err := l.session.Update(l.ctx, license); err != nil {
		if l.ctx.Err() != nil {
			return
		}
		l.fail(&model.BlacklistedSessionError{
			Reason: model.NewError(model.CodeKeyUpdateError, "", err),
		})
	}
}

// fetchLicense calls getLicense with a per-attempt timeout and a fuzzed
// exponential backoff between attempts. Every retry reports a warning.
func (l *Listener) fetchLicense(msg cdm.Message) ([]byte, error) {
	cfg := l.opt.GetLicenseConfig
	timeout := cfg.EffectiveTimeout()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.EffectiveBaseDelay()
	bo.MaxInterval = cfg.EffectiveMaxDelay()
	bo.RandomizationFactor = 0.3

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		ctx, span := l.tracer.Start(l.ctx, "drm.get_license",
			trace.WithAttributes(telemetry.LicenseAttributes(msg.Type, attempt, timeout.Milliseconds())...))
		defer span.End()

		attemptCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		license, err := l.opt.GetLicense(attemptCtx, msg.Data, msg.Type)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			metrics.RecordLicenseAttempt("success", elapsed)
			return license, nil
		}
		if l.ctx.Err() != nil {
			return nil, backoff.Permanent(l.ctx.Err())
		}

		var emeErr *model.EncryptedMediaError
		if timeout > 0 && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			metrics.RecordLicenseAttempt("timeout", elapsed)
			emeErr = model.NewError(model.CodeKeyLoadTimeout, "the license server took too much time to respond", err)
		} else {
			metrics.RecordLicenseAttempt("error", elapsed)
			emeErr = model.NewError(model.CodeKeyLoadError, "", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(emeErr.Code))
		span.SetAttributes(telemetry.ErrorAttributes(err, string(emeErr.Code))...)
		if model.IsNoRetry(err) {
			return nil, backoff.Permanent(error(emeErr))
		}
		return nil, emeErr
	}

	return backoff.Retry(l.ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(cfg.EffectiveRetry()+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			var emeErr *model.EncryptedMediaError
			if errors.As(err, &emeErr) {
				l.logger.Warn().Err(err).Int(xglog.FieldAttempt, attempt).Dur("retry_in", next).Msg("license request failed, retrying")
				l.warn(emeErr)
			}
		}),
	)
}

func (l *Listener) warn(err *model.EncryptedMediaError) {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	if l.failed || l.ctx.Err() != nil {
		return
	}
	l.handler.OnWarning(err)
}

func (l *Listener) fail(err error) {
	l.emitMu.Lock()
	if l.failed || l.ctx.Err() != nil {
		l.emitMu.Unlock()
		return
	}
	l.failed = true
	l.handler.OnError(err)
	l.emitMu.Unlock()
	l.cancel()
}
