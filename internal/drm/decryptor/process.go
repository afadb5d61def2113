// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decryptor

import (
	"errors"
	"slices"

	"github.com/rs/zerolog"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/events"
	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/keysession"
	"github.com/ManuGH/emecore/internal/drm/listener"
	"github.com/ManuGH/emecore/internal/drm/mediakeys"
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/drm/sessions"
	xglog "github.com/ManuGH/emecore/internal/log"
)

// sessionInfo tracks one processed init data. Fields are guarded by the
// decryptor lock.
type sessionInfo struct {
	record *keysession.Record
	source model.SessionSource

	hasKeyStatuses bool
	whitelisted    [][]byte
	blacklisted    [][]byte

	blacklistedErr *model.BlacklistedSessionError
}

// OnInitializationData feeds protection initialization data. It is queued
// while the init data queue is locked and processed in arrival order.
func (d *ContentDecryptor) OnInitializationData(data initdata.InitializationData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stoppedLocked() {
		return ErrDecryptorStopped
	}
	if d.queueLocked {
		d.queue = append(d.queue, data)
		return nil
	}
	d.processLocked(data)
	return nil
}

func (d *ContentDecryptor) processQueueLocked() {
	for !d.queueLocked && len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		if d.stoppedLocked() {
			return
		}
		d.processLocked(next)
	}
}

func (d *ContentDecryptor) lockQueueLocked() {
	d.queueLocked = true
}

func (d *ContentDecryptor) unlockQueueLocked() {
	if d.stoppedLocked() {
		return
	}
	if d.attachment != attached && !d.mediaKeys.Option.DisableMediaKeysAttachmentLock {
		d.logger.Error().Str("attachment", d.attachment.String()).Msg("trying to unlock the init data queue before attachment")
		return
	}
	d.queueLocked = false
	d.processQueueLocked()
}

func (d *ContentDecryptor) scope() model.LicensingScope {
	return d.mediaKeys.Option.SingleLicensePer.OrDefault()
}

// processLocked runs the synchronous part of the session acquisition and,
// when a new session is needed, locks the queue and continues in a worker.
func (d *ContentDecryptor) processLocked(data initdata.InitializationData) {
	logger := d.logger.With().Str(xglog.FieldInitDataType, data.Type).Logger()
	if d.tryAlreadyCreatedSessionLocked(data, logger) {
		return
	}

	switch d.scope() {
	case model.ScopeContent:
		if d.handleSingleContentLicenseLocked(data, logger) {
			return
		}
	case model.ScopePeriods:
		if d.handlePeriodLicenseLocked(data) {
			return
		}
	}

	d.lockQueueLocked()
	st := d.mediaKeys
	if !d.workers.Go(func() { d.acquireSession(st, data) }) {
		d.queueLocked = false
	}
}

// tryAlreadyCreatedSessionLocked reports whether data is fully handled by a
// session already tracked for a compatible init data.
func (d *ContentDecryptor) tryAlreadyCreatedSessionLocked(data initdata.InitializationData, logger zerolog.Logger) bool {
	idx := slices.IndexFunc(d.sessions, func(s *sessionInfo) bool {
		return s.record.IsCompatibleWith(data)
	})
	if idx < 0 {
		return false
	}
	info := d.sessions[idx]

	if info.blacklistedErr != nil {
		if data.Type == "" || data.Content == nil {
			logger.Error().Msg("init data already blacklisted but the content is unknown")
			return true
		}
		logger.Info().Msg("init data already blacklisted, blacklisting the related content")
		d.emitLocked(events.BlackListProtectionData{InitData: data, Err: info.blacklistedErr})
		return true
	}

	if data.HasKeyIDs() && info.hasKeyStatuses {
		var undecipherable bool
		if d.scope() == model.ScopeInitData {
			// only keys explicitly reported unusable are avoided
			undecipherable = initdata.SomeKeyIDsContained(data.KeyIDs, info.blacklisted)
		} else {
			undecipherable = !initdata.AllKeyIDsContained(data.KeyIDs, info.whitelisted)
		}
		if undecipherable {
			if data.Content == nil {
				logger.Error().Msg("cannot forbid key ids, the content is unknown")
				return true
			}
			logger.Info().Strs("key_ids", initdata.KeyIDsHex(data.KeyIDs)).Msg("init data linked to blacklisted keys")
			d.emitLocked(events.KeyIDsCompatibilityUpdate{Blacklisted: cloneKeyIDs(data.KeyIDs)})
			return true
		}
	}

	if d.mediaKeys.LoadedSessions.Reuse(data) != nil {
		logger.Debug().Msg("init data already processed, skipping it")
		return true
	}

	logger.Debug().Msg("session of a processed init data is gone, processing it again")
	d.sessions = slices.Delete(d.sessions, idx, idx+1)
	return false
}

// handleSingleContentLicenseLocked applies the one-license-per-content
// shortcut: once a license was requested, new key ids are not fetched.
func (d *ContentDecryptor) handleSingleContentLicenseLocked(data initdata.InitializationData, logger zerolog.Logger) bool {
	idx := slices.IndexFunc(d.sessions, func(s *sessionInfo) bool {
		return s.source == model.SourceCreated
	})
	if idx < 0 {
		return false
	}
	first := d.sessions[idx]

	if !data.HasKeyIDs() {
		if data.Content == nil {
			logger.Warn().Msg("unable to fall back from a non-decipherable quality")
			return true
		}
		d.emitLocked(events.BlackListProtectionData{InitData: data})
		return true
	}

	first.record.AssociateKeyIDs(data.KeyIDs)
	logger.Info().Strs("key_ids", initdata.KeyIDsHex(data.KeyIDs)).
		Msg("license already fetched for the content, blacklisting new key ids")
	d.emitLocked(events.KeyIDsCompatibilityUpdate{Blacklisted: cloneKeyIDs(data.KeyIDs)})
	if data.Content != nil {
		d.emitLocked(events.BlackListProtectionData{InitData: data})
	}
	return true
}

// handlePeriodLicenseLocked merges the key ids of data's period into the
// created session already covering that period.
func (d *ContentDecryptor) handlePeriodLicenseLocked(data initdata.InitializationData) bool {
	if data.Content == nil || data.Content.Period == nil {
		return false
	}
	periodKeys := initdata.AppendUniqueKeyIDs(nil, data.Content.Period.KeyIDs...)
	for _, s := range d.sessions {
		if s.source != model.SourceCreated {
			continue
		}
		if !slices.ContainsFunc(periodKeys, s.record.IsAssociatedWithKeyID) {
			continue
		}
		s.record.AssociateKeyIDs(periodKeys)
		for _, kid := range periodKeys {
			if !initdata.ContainsKeyID(s.whitelisted, kid) && !initdata.ContainsKeyID(s.blacklisted, kid) {
				s.blacklisted = append(s.blacklisted, kid)
			}
		}
		d.emitLocked(events.KeyIDsCompatibilityUpdate{
			Whitelisted: cloneKeyIDs(s.whitelisted),
			Blacklisted: cloneKeyIDs(s.blacklisted),
		})
		return true
	}
	return false
}

func (d *ContentDecryptor) wantedSessionType(st *mediakeys.State) model.SessionType {
	if st.Option.PersistentLicenseConfig == nil {
		return model.SessionTemporary
	}
	if !slices.Contains(st.Access.Configuration().SessionTypes, model.SessionPersistentLicense) {
		d.logger.Warn().Msg("persistent licenses not supported by the CDM, using temporary sessions")
		return model.SessionTemporary
	}
	return model.SessionPersistentLicense
}

// acquireSession creates or loads a session for data and starts its license
// cycle. It runs with the init data queue locked.
func (d *ContentDecryptor) acquireSession(st *mediakeys.State, data initdata.InitializationData) {
	stores := sessions.Stores{Loaded: st.LoadedSessions, Persistent: st.PersistentSessions}
	res, err := sessions.CreateOrLoadSession(d.ctx, data, stores, d.wantedSessionType(st), st.Option.EffectiveMaxSessionCacheSize())
	if err != nil {
		if d.ctx.Err() == nil {
			d.fatal(err)
		}
		return
	}

	native := res.Entry.Session
	info := &sessionInfo{record: res.Entry.Record, source: res.Source}

	d.mu.Lock()
	if d.stoppedLocked() {
		d.mu.Unlock()
		return
	}
	d.sessions = append(d.sessions, info)
	h := &sessionHandler{d: d, st: st, info: info, data: data, native: native, sessionType: res.Entry.Type}
	l := listener.Start(d.ctx, native, st.Option, st.KeySystem, h)
	if !d.workers.Go(l.Wait) {
		l.Stop()
	}
	if d.scope() == model.ScopeInitData {
		d.unlockQueueLocked()
	}
	d.mu.Unlock()

	if res.Source != model.SourceCreated {
		return
	}
	values := data.Values.FilterSystemID(cdm.SystemIDForKeySystem(st.KeySystem))
	err = st.LoadedSessions.GenerateLicenseRequest(d.ctx, native, data.Type, values.RequestData())
	if err == nil || d.ctx.Err() != nil {
		return
	}

	entry := st.LoadedSessions.EntryFor(native)
	if entry == nil || entry.ClosingStatus() != sessions.ClosingNone || errors.Is(err, model.ErrSessionClosing) || errors.Is(err, model.ErrSessionNotFound) {
		d.logger.Debug().Err(err).Msg("request generation failed on a closing session, ignoring")
		d.mu.Lock()
		if i := slices.Index(d.sessions, info); i >= 0 {
			d.sessions = slices.Delete(d.sessions, i, i+1)
		}
		d.mu.Unlock()
		return
	}
	d.fatal(model.NewError(model.CodeKeyGenerateRequest, "could not generate the license request", err))
}

// keyIDsLinkedToSession splits the key ids a session is now responsible for.
// Outside of the init-data scope, key ids expected from the license but not
// reported usable are blacklisted too.
func keyIDsLinkedToSession(data initdata.InitializationData, scope model.LicensingScope, isCurrentLicense bool, usable, unusable [][]byte) (whitelisted, blacklisted [][]byte) {
	associated := append(cloneKeyIDs(usable), unusable...)
	if scope != model.ScopeInitData {
		associated = initdata.AppendUniqueKeyIDs(associated, data.KeyIDs...)
		if c := data.Content; isCurrentLicense && c != nil {
			switch scope {
			case model.ScopeContent:
				associated = initdata.AppendUniqueKeyIDs(associated, c.KeyIDs()...)
			case model.ScopePeriods:
				for _, p := range c.Periods {
					if (c.Period != nil && p.ID == c.Period.ID) ||
						initdata.SomeKeyIDsContained(p.KeyIDs, associated) {
						associated = initdata.AppendUniqueKeyIDs(associated, p.KeyIDs...)
					}
				}
			}
		}
	}
	return usable, associated[len(usable):]
}

func cloneKeyIDs(ids [][]byte) [][]byte {
	if len(ids) == 0 {
		return nil
	}
	return slices.Clone(ids)
}
