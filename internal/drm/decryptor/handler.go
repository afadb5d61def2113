// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decryptor

import (
	"errors"
	"slices"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/events"
	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/mediakeys"
	"github.com/ManuGH/emecore/internal/drm/model"
	xglog "github.com/ManuGH/emecore/internal/log"
)

// sessionHandler reacts to the listener of one session.
type sessionHandler struct {
	d           *ContentDecryptor
	st          *mediakeys.State
	info        *sessionInfo
	data        initdata.InitializationData
	native      cdm.Session
	sessionType model.SessionType

	// guarded by the decryptor lock
	persisted bool
}

func (h *sessionHandler) OnWarning(err *model.EncryptedMediaError) {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if h.d.stoppedLocked() {
		return
	}
	h.d.warn(err)
}

func (h *sessionHandler) OnKeyUpdate(usable, unusable [][]byte) {
	d := h.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stoppedLocked() {
		return
	}

	wl, bl := keyIDsLinkedToSession(h.data, d.scope(), h.info.source == model.SourceCreated, usable, unusable)
	h.info.record.AssociateKeyIDs(wl)
	h.info.record.AssociateKeyIDs(bl)
	h.info.hasKeyStatuses = true
	h.info.whitelisted = wl
	h.info.blacklisted = bl

	if ps := h.st.PersistentSessions; ps != nil && !h.persisted &&
		h.sessionType == model.SessionPersistentLicense &&
		len(h.info.record.AssociatedKeyIDs()) > 0 {
		if err := ps.CleanOld(model.MaxStoredPersistentSessions - 1); err != nil {
			d.logger.Warn().Err(err).Msg("could not clean old persistent sessions")
		}
		if err := ps.Add(h.data, h.info.record.AssociatedKeyIDs(), h.native.SessionID()); err != nil {
			d.logger.Warn().Err(err).Msg("could not persist key session")
		} else {
			h.persisted = true
		}
	}

	d.emitLocked(events.KeyIDsCompatibilityUpdate{
		Whitelisted: cloneKeyIDs(wl),
		Blacklisted: cloneKeyIDs(bl),
	})
	d.unlockQueueLocked()
}

func (h *sessionHandler) OnError(err error) {
	var decommissioned *model.DecommissionedSessionError
	if errors.As(err, &decommissioned) {
		h.decommission()
		return
	}
	var blacklisted *model.BlacklistedSessionError
	if !errors.As(err, &blacklisted) {
		h.d.fatal(err)
		return
	}

	d := h.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stoppedLocked() {
		return
	}
	h.info.blacklistedErr = blacklisted
	if h.data.Content != nil {
		d.logger.Info().Err(err).Msg("blacklisting content based on protection data")
		d.emitLocked(events.BlackListProtectionData{InitData: h.data, Err: blacklisted})
	} else {
		d.logger.Warn().Err(err).Msg("key session blacklisted but the content is unknown")
	}
	d.unlockQueueLocked()
}

// decommission removes the session so a later init data recreates it.
func (h *sessionHandler) decommission() {
	d := h.d
	sessionID := h.native.SessionID()
	logger := d.logger.With().Str(xglog.FieldSessionID, sessionID).Logger()

	d.mu.Lock()
	if d.stoppedLocked() {
		d.mu.Unlock()
		return
	}
	logger.Warn().Msg("key session closing condition triggered")
	d.lockQueueLocked()
	if i := slices.Index(d.sessions, h.info); i >= 0 {
		d.sessions = slices.Delete(d.sessions, i, i+1)
	}
	d.emitLocked(events.KeyIDsCompatibilityUpdate{Delisted: cloneKeyIDs(h.info.record.AssociatedKeyIDs())})
	if ps := h.st.PersistentSessions; ps != nil && sessionID != "" {
		if err := ps.Delete(sessionID); err != nil {
			logger.Warn().Err(err).Msg("could not delete persisted key session")
		}
	}
	d.mu.Unlock()

	closeSession := func() {
		if err := h.st.LoadedSessions.CloseSession(d.ctx, h.native); err != nil {
			logger.Error().Err(err).Msg("could not close decommissioned key session")
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		d.unlockQueueLocked()
	}
	if !d.workers.Go(closeSession) {
		d.mu.Lock()
		d.queueLocked = false
		d.mu.Unlock()
	}
}
