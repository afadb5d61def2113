// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/decryptor"
	"github.com/ManuGH/emecore/internal/drm/events"
	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/mediakeys"
	"github.com/ManuGH/emecore/internal/drm/model"
	xglog "github.com/ManuGH/emecore/internal/log"
)

const disposeTimeout = 5 * time.Second

// player plays the configured content on one media element: it feeds the
// init data of every period to a decryptor and mirrors its events in status.
type player struct {
	manager *mediakeys.Manager
	element cdm.MediaElement
	options []model.KeySystemOption
	content *initdata.Content
	status  *status
	logger  zerolog.Logger
}

// play returns nil once ctx is done, or the fatal decryption error.
func (p *player) play(ctx context.Context) error {
	bus := events.NewBus()
	sub := bus.Subscribe(ctx)
	defer func() { _ = sub.Close() }()

	d, err := decryptor.New(decryptor.Config{
		Manager: p.manager,
		Element: p.element,
		Options: p.options,
		Bus:     bus,
	})
	if err != nil {
		return fmt.Errorf("create decryptor: %w", err)
	}
	p.status.reset(d.ID())
	logger := p.logger.With().Str(xglog.FieldDecryptorID, d.ID()).Logger()
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disposeTimeout)
		defer cancel()
		if err := d.Dispose(dctx); err != nil {
			logger.Warn().Err(err).Msg("decryptor dispose did not complete")
		}
	}()

	// queued until the CDM is attached
	for i := range p.content.Periods {
		data, err := p.initData(i)
		if err != nil {
			return err
		}
		if err := d.OnInitializationData(data); err != nil {
			return fmt.Errorf("period %s: %w", p.content.Periods[i].ID, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := p.handle(d, msg, logger); err != nil {
				return err
			}
		}
	}
}

func (p *player) handle(d *decryptor.ContentDecryptor, msg events.Message, logger zerolog.Logger) error {
	switch m := msg.(type) {
	case events.StateChange:
		p.status.setState(m.State, d.KeySystem())
		switch m.State {
		case model.StateWaitingForAttachment:
			if err := d.Attach(); err != nil && !errors.Is(err, decryptor.ErrNotWaitingForAttachment) {
				return fmt.Errorf("attach: %w", err)
			}
		case model.StateReadyForContent:
			logger.Info().Str(xglog.FieldKeySystem, d.KeySystem()).Msg("ready for content")
		case model.StateError:
			return d.Err()
		}
	case events.Warning:
		p.status.warn(m.Err)
	case events.Error:
		p.status.fail(m.Err)
	case events.KeyIDsCompatibilityUpdate:
		p.status.applyUpdate(m)
		logger.Info().
			Strs("whitelisted", initdata.KeyIDsHex(m.Whitelisted)).
			Strs("blacklisted", initdata.KeyIDsHex(m.Blacklisted)).
			Msg("key ids compatibility update")
	case events.BlackListProtectionData:
		if c := m.InitData.Content; c != nil && c.Period != nil {
			p.status.blacklistPeriod(c.Period.ID)
			logger.Warn().Err(m.Err).Str("period", c.Period.ID).Msg("period not decipherable")
		}
	}
	return nil
}

// initData encodes the key ids of period i as one PSSH box per configured
// key system, the way a packager would.
func (p *player) initData(i int) (initdata.InitializationData, error) {
	period := &p.content.Periods[i]
	var (
		boxes bytes.Buffer
		seen  = map[string]bool{}
	)
	for _, opt := range p.options {
		sys := cdm.SystemIDForKeySystem(opt.Type)
		if sys == "" || seen[sys] {
			continue
		}
		seen[sys] = true
		box, err := initdata.BuildPSSH(sys, period.KeyIDs, nil)
		if err != nil {
			return initdata.InitializationData{}, fmt.Errorf("period %s: %w", period.ID, err)
		}
		boxes.Write(box)
	}
	if boxes.Len() == 0 {
		return initdata.InitializationData{}, errors.New("no configured key system has a known system id")
	}
	data, err := initdata.FromPSSH("cenc", boxes.Bytes())
	if err != nil {
		return initdata.InitializationData{}, fmt.Errorf("period %s: %w", period.ID, err)
	}
	return data.WithContent(&initdata.Content{Periods: p.content.Periods, Period: period}), nil
}
