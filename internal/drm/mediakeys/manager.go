// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package mediakeys creates CDM instances and binds them to media elements.
package mediakeys

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/keysystem"
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/drm/persistent"
	"github.com/ManuGH/emecore/internal/drm/sessions"
	xglog "github.com/ManuGH/emecore/internal/log"
)

// Manager prepares, attaches and disposes CDM instances.
type Manager struct {
	registry *Registry
	resolver *keysystem.Resolver
	certs    *certificateStore
	logger   zerolog.Logger
}

func NewManager(p cdm.Platform, reg *Registry) *Manager {
	if reg == nil {
		reg = Default()
	}
	return &Manager{
		registry: reg,
		resolver: keysystem.NewResolver(p),
		certs:    newCertificateStore(),
		logger:   xglog.WithComponent("drm.mediakeys"),
	}
}

// Registry returns the side table the manager maintains.
func (m *Manager) Registry() *Registry { return m.registry }

// Init negotiates a key system for el and returns the state to attach. The
// CDM instance currently bound to el is reused when the negotiation reused
// its access and its server certificate still fits.
func (m *Manager) Init(ctx context.Context, el cdm.MediaElement, options []model.KeySystemOption) (*State, error) {
	current := m.registry.Get(el)
	var cached *keysystem.Cached
	if current != nil {
		cached = &keysystem.Cached{Option: current.Option, Access: current.Access}
	}

	res, err := m.resolver.Resolve(ctx, options, cached, false)
	if err != nil {
		return nil, err
	}

	var ps *persistent.Store
	if plc := res.Option.PersistentLicenseConfig; plc != nil {
		if ps, err = persistent.NewStore(plc.Storage, plc.DisableRetroCompatibility); err != nil {
			return nil, model.NewError(model.CodeCreateMediaKeys, "could not open persistent license storage", err)
		}
	}

	logger := m.logger.With().Str(xglog.FieldElementID, el.ID()).Str(xglog.FieldKeySystem, res.KeySystem).Logger()
	if res.Reused && current != nil {
		cert := res.Option.ServerCertificate
		if !m.certs.hasOne(current.MediaKeys) || (cert != nil && m.certs.has(current.MediaKeys, cert)) {
			logger.Info().Msg("reusing media keys")
			return &State{
				Option:             res.Option,
				Access:             res.Access,
				KeySystem:          res.KeySystem,
				MediaKeys:          current.MediaKeys,
				LoadedSessions:     current.LoadedSessions,
				PersistentSessions: ps,
			}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Info().Msg("creating media keys")
	mk, err := res.Access.CreateMediaKeys(ctx)
	if err != nil {
		return nil, model.NewError(model.CodeCreateMediaKeys, "could not create media keys", err)
	}
	return &State{
		Option:             res.Option,
		Access:             res.Access,
		KeySystem:          res.KeySystem,
		MediaKeys:          mk,
		LoadedSessions:     sessions.NewStore(mk),
		PersistentSessions: ps,
	}, nil
}

// Attach records st as el's state and binds its CDM instance to el. Sessions
// of a replaced state are closed first.
func (m *Manager) Attach(ctx context.Context, el cdm.MediaElement, st *State) error {
	if prev := m.registry.Get(el); prev != nil && prev.LoadedSessions != st.LoadedSessions {
		if err := prev.LoadedSessions.CloseAllSessions(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("could not close previous key sessions")
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.registry.Set(el, st)
	if el.MediaKeys() == st.MediaKeys {
		return nil
	}
	m.logger.Info().Str(xglog.FieldElementID, el.ID()).Msg("attaching media keys to the media element")
	if err := el.SetMediaKeys(ctx, st.MediaKeys); err != nil {
		return fmt.Errorf("set media keys: %w", err)
	}
	return nil
}

// SetServerCertificate sets cert on mk once. Failures are returned as
// LICENSE_SERVER_CERTIFICATE_ERROR.
func (m *Manager) SetServerCertificate(ctx context.Context, mk cdm.MediaKeys, cert []byte) error {
	if m.certs.has(mk, cert) {
		return nil
	}
	if err := mk.SetServerCertificate(ctx, cert); err != nil {
		m.certs.forget(mk)
		return model.NewError(model.CodeServerCertificateError, "could not set the server certificate", err)
	}
	m.certs.set(mk, cert)
	return nil
}

// Dispose closes every session of el, detaches its CDM instance and clears
// its registry entry.
func (m *Manager) Dispose(ctx context.Context, el cdm.MediaElement) error {
	st := m.registry.Get(el)
	m.registry.Clear(el)
	if st == nil {
		return nil
	}
	m.logger.Info().Str(xglog.FieldElementID, el.ID()).Msg("disposing decryption resources")
	err := st.LoadedSessions.CloseAllSessions(ctx)
	if el.MediaKeys() != nil {
		if detachErr := el.SetMediaKeys(ctx, nil); detachErr != nil && err == nil {
			err = fmt.Errorf("detach media keys: %w", detachErr)
		}
	}
	m.certs.forget(st.MediaKeys)
	return err
}
