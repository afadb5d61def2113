// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package keysystem negotiates which key-system configuration the platform
// supports.
package keysystem

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/model"
	xglog "github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/metrics"
	"github.com/ManuGH/emecore/internal/telemetry"
)

// Cached is the last successful negotiation for a media element.
type Cached struct {
	Option *model.KeySystemOption
	Access cdm.Access
}

// Result is a granted key-system access and the option that obtained it.
type Result struct {
	Option    *model.KeySystemOption
	Access    cdm.Access
	KeySystem string
	Reused    bool
}

// Resolver walks key-system options in priority order.
type Resolver struct {
	platform cdm.Platform
	logger   zerolog.Logger
	tracer   trace.Tracer
}

func NewResolver(p cdm.Platform) *Resolver {
	return &Resolver{
		platform: p,
		logger:   xglog.WithComponent("drm.keysystem"),
		tracer:   telemetry.Tracer("drm.keysystem"),
	}
}

// Resolve returns the first supported option. cached is reused when it still
// satisfies one of the options and renewal is not forced.
func (r *Resolver) Resolve(ctx context.Context, options []model.KeySystemOption, cached *Cached, forceRenewal bool) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "drm.negotiate")
	defer span.End()

	if !forceRenewal && cached != nil {
		if opt := compatibleWithCache(options, cached); opt != nil {
			ks := cached.Access.KeySystem()
			r.logger.Info().Str(xglog.FieldKeySystem, ks).Msg("reusing cached key system access")
			span.SetAttributes(telemetry.NegotiationAttributes(ks, 0, true, false)...)
			metrics.RecordNegotiation(ks, "reused")
			return Result{Option: opt, Access: cached.Access, KeySystem: ks, Reused: true}, nil
		}
	}

	candidates := buildCandidates(options)
	var lastErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		logger := r.logger.With().Str(xglog.FieldKeySystem, c.keyType).Logger()
		logger.Debug().Msg("requesting key system access")

		access, err := r.platform.RequestMediaKeySystemAccess(ctx, c.keyType, Configurations(c.keyType, c.option))
		if err != nil {
			logger.Debug().Err(err).Msg("key system not supported")
			metrics.RecordNegotiation(c.keyType, "unsupported")
			lastErr = err
			continue
		}

		probed := !r.platform.TrustsAccessNegotiation(c.keyType)
		if probed {
			if err := probe(ctx, access); err != nil {
				logger.Warn().Err(err).Msg("key system access granted but unusable")
				metrics.RecordNegotiation(c.keyType, "probe_failed")
				lastErr = err
				continue
			}
		}

		logger.Info().Bool("probed", probed).Msg("found compatible key system")
		span.SetAttributes(telemetry.NegotiationAttributes(c.keyType, len(candidates), false, probed)...)
		metrics.RecordNegotiation(c.keyType, "granted")
		return Result{Option: c.option, Access: access, KeySystem: c.keyType}, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	emeErr := model.NewError(model.CodeIncompatibleKeySystems,
		"no key system compatible with the wanted configuration has been found", lastErr)
	if lastErr == nil {
		emeErr.Err = errors.New("no key system option given")
	}
	span.RecordError(emeErr)
	span.SetStatus(codes.Error, string(emeErr.Code))
	return Result{}, emeErr
}

// compatibleWithCache returns the first option the cached access still
// satisfies, or nil.
func compatibleWithCache(options []model.KeySystemOption, cached *Cached) *model.KeySystemOption {
	if cached.Access == nil || cached.Option == nil {
		return nil
	}
	cfg := cached.Access.Configuration()
	ks := cached.Access.KeySystem()
	for i := range options {
		opt := &options[i]
		if opt.Type != cached.Option.Type && !slices.Contains(ExpandType(opt.Type), ks) {
			continue
		}
		if (opt.PersistentLicenseConfig != nil || opt.PersistentState == model.RequirementRequired) &&
			cfg.PersistentState != model.RequirementRequired {
			continue
		}
		if opt.DistinctiveIdentifier == model.RequirementRequired &&
			cfg.DistinctiveIdentifier != model.RequirementRequired {
			continue
		}
		return opt
	}
	return nil
}
