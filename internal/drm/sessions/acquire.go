// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sessions

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/drm/persistent"
	xglog "github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/metrics"
)

// loadedStatusesWait bounds the wait for key statuses after a load; some CDMs
// resolve load before publishing them.
const loadedStatusesWait = 100 * time.Millisecond

// IsSessionUsable reports whether a loaded session can be reused as is.
func IsSessionUsable(s cdm.Session) bool {
	if s.SessionID() == "" {
		return false
	}
	statuses := s.KeyStatuses()
	if len(statuses) == 0 {
		return false
	}
	for _, st := range statuses {
		if st.Status == model.KeyExpired || st.Status == model.KeyInternalError {
			return false
		}
	}
	return true
}

// LoadSession loads a persisted session and waits briefly for its key
// statuses when the CDM did not publish them yet.
func LoadSession(ctx context.Context, s cdm.Session, sessionID string) (bool, error) {
	ok, err := s.Load(ctx, sessionID)
	if err != nil || !ok {
		return ok, err
	}
	if len(s.KeyStatuses()) > 0 {
		return true, nil
	}
	timer := time.NewTimer(loadedStatusesWait)
	defer timer.Stop()
	select {
	case <-s.KeyStatusesChanged():
	case <-timer.C:
	case <-ctx.Done():
		return true, ctx.Err()
	}
	return true, nil
}

// CleanOldLoadedSessions closes the least recently used sessions until at
// most limit remain. A negative limit disables eviction.
func CleanOldLoadedSessions(ctx context.Context, store *Store, limit int) error {
	if limit < 0 {
		return nil
	}
	all := store.All()
	if len(all) <= limit {
		return nil
	}
	victims := all[:len(all)-limit]
	store.logger.Info().Int(xglog.FieldCount, len(victims)).Msg("evicting least recently used key sessions")

	var g errgroup.Group
	for _, e := range victims {
		g.Go(func() error {
			if !store.remove(e) {
				return nil
			}
			return store.closeEntry(ctx, e, "evicted")
		})
	}
	return g.Wait()
}

// Result is the outcome of CreateOrLoadSession.
type Result struct {
	Source model.SessionSource
	Entry  *Entry
}

// Stores groups the stores of one CDM instance. Persistent is nil when
// persistent licenses are not configured.
type Stores struct {
	Loaded     *Store
	Persistent *persistent.Store
}

// CreateOrLoadSession returns a session for d: a compatible live one if
// usable, a reloaded persistent one, or a freshly created one. maxSessions
// bounds the live sessions once the new one is added.
func CreateOrLoadSession(ctx context.Context, d initdata.InitializationData, stores Stores, wanted model.SessionType, maxSessions int) (Result, error) {
	loaded := stores.Loaded
	if prev := loaded.Reuse(d); prev != nil {
		if IsSessionUsable(prev.Session) {
			loaded.logger.Info().Str(xglog.FieldSessionID, prev.Session.SessionID()).Msg("reusing loaded key session")
			metrics.RecordSession("reused")
			return Result{Source: model.SourceLoadedOpen, Entry: prev}, nil
		}
		loaded.logger.Info().Msg("loaded key session not usable anymore, closing it")
		if err := loaded.CloseSession(ctx, prev.Session); err != nil {
			loaded.logger.Warn().Err(err).Msg("could not close unusable key session")
		}
	}

	limit := maxSessions
	if limit > 0 {
		limit--
	}
	if err := CleanOldLoadedSessions(ctx, loaded, limit); err != nil {
		loaded.logger.Warn().Err(err).Msg("could not evict old key sessions")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if wanted == model.SessionTemporary || stores.Persistent == nil {
		return createSession(loaded, d, model.SessionTemporary)
	}
	return createOrRetrievePersistent(ctx, d, stores)
}

func createSession(loaded *Store, d initdata.InitializationData, typ model.SessionType) (Result, error) {
	e, err := loaded.CreateSession(d, typ)
	if err != nil {
		return Result{}, err
	}
	metrics.RecordSession("created")
	return Result{Source: model.SourceCreated, Entry: e}, nil
}

func createOrRetrievePersistent(ctx context.Context, d initdata.InitializationData, stores Stores) (Result, error) {
	loaded, ps := stores.Loaded, stores.Persistent
	e, err := loaded.CreateSession(d, model.SessionPersistentLicense)
	if err != nil {
		return Result{}, err
	}

	stored, ok := ps.GetAndReuse(d)
	if !ok {
		metrics.RecordSession("created")
		return Result{Source: model.SourceCreated, Entry: e}, nil
	}
	logger := loaded.logger.With().Str(xglog.FieldSessionID, stored.SessionID).Logger()

	recreate := func() (Result, error) {
		logger.Info().Msg("recreating persistent key session")
		if err := ps.Delete(stored.SessionID); err != nil {
			logger.Warn().Err(err).Msg("could not delete persistent session entry")
		}
		if err := loaded.CloseSession(ctx, e.Session); err != nil {
			logger.Warn().Err(err).Msg("could not close persistent key session")
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		return createSession(loaded, d, model.SessionPersistentLicense)
	}

	hasLoaded, err := loaded.LoadPersistentSession(ctx, e.Session, stored.SessionID)
	if err != nil {
		logger.Warn().Err(err).Msg("could not load persistent key session")
		return recreate()
	}
	if !hasLoaded {
		logger.Warn().Msg("no data stored for the persistent key session")
		if err := ps.Delete(stored.SessionID); err != nil {
			logger.Warn().Err(err).Msg("could not delete persistent session entry")
		}
		metrics.RecordSession("created")
		return Result{Source: model.SourceCreated, Entry: e}, nil
	}
	if !IsSessionUsable(e.Session) {
		logger.Info().Msg("persistent key session not usable")
		return recreate()
	}

	keyIDs := initdata.AppendUniqueKeyIDs(append([][]byte(nil), d.KeyIDs...), stored.KeyIDBytes()...)
	if err := ps.Add(d, keyIDs, e.Session.SessionID()); err != nil {
		logger.Warn().Err(err).Msg("could not update persistent session entry")
	}
	logger.Info().Msg("loaded persistent key session")
	metrics.RecordSession("loaded_persistent")
	return Result{Source: model.SourceLoadedPersistent, Entry: e}, nil
}
