// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"strings"

	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/drm/persistent"
	xglog "github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/telemetry"
	"github.com/ManuGH/emecore/internal/validate"
)

var (
	scopes       = []string{"", string(model.ScopeInitData), string(model.ScopeContent), string(model.ScopePeriods)}
	policies     = []string{"", string(model.PolicyError), string(model.PolicyCloseSession), string(model.PolicyFallback), string(model.PolicyContinue)}
	requirements = []string{"", string(model.RequirementRequired), string(model.RequirementOptional), string(model.RequirementNotAllowed)}
)

// Validate checks cfg and reports every problem at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("logLevel", cfg.LogLevel, xglog.Levels())
	v.ListenAddr("listen", cfg.Listen)
	v.OneOf("cdm.implementation", cfg.CDM.Implementation, cdm.Implementations())

	if cfg.License.URL != "" {
		v.URL("license.url", cfg.License.URL, []string{"http", "https"})
	}
	validate.NotNegative(v, "license.timeout", cfg.License.Timeout)
	validate.NotNegative(v, "license.burst", cfg.License.Burst)
	validate.NotNegative(v, "license.breakerThreshold", cfg.License.BreakerThreshold)
	validate.NotNegative(v, "license.breakerReset", cfg.License.BreakerReset)
	validate.NotNegative(v, "license.server.requestLimit", cfg.License.Server.RequestLimit)
	for i, kid := range cfg.License.Server.DeniedKeyIDs {
		v.KeyID(fmt.Sprintf("license.server.deniedKeyIds[%d]", i), kid)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, telemetry.Exporters())
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		validate.Between(v, "telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	if len(cfg.KeySystems) == 0 {
		v.AddError("keySystems", "at least one key system is required", nil)
	}
	for i, ks := range cfg.KeySystems {
		validateKeySystem(v, fmt.Sprintf("keySystems[%d]", i), ks, cfg.License)
	}

	for i, p := range cfg.Content.Periods {
		field := fmt.Sprintf("content.periods[%d]", i)
		v.NotEmpty(field+".id", p.ID)
		for j, kid := range p.KeyIDs {
			v.KeyID(fmt.Sprintf("%s.keyIds[%d]", field, j), kid)
		}
	}

	return v.Err()
}

func validateKeySystem(v *validate.Validator, field string, ks KeySystemConfig, license LicenseConfig) {
	v.NotEmpty(field+".type", ks.Type)
	v.OneOf(field+".singleLicensePer", ks.SingleLicensePer, scopes)
	v.OneOf(field+".onKeyOutputRestricted", ks.OnKeyOutputRestricted, policies)
	v.OneOf(field+".onKeyInternalError", ks.OnKeyInternalError, policies)
	v.OneOf(field+".onKeyExpiration", ks.OnKeyExpiration, policies)
	v.OneOf(field+".persistentState", ks.PersistentState, requirements)
	v.OneOf(field+".distinctiveIdentifier", ks.DistinctiveIdentifier, requirements)
	validate.Between(v, field+".maxSessionCacheSize", ks.MaxSessionCacheSize, -1, model.MaxStoredPersistentSessions)
	if ks.ServerCertificateFile == "" {
		v.Base64(field+".serverCertificate", ks.ServerCertificate)
	}

	gl := ks.GetLicense
	switch {
	case gl.URL != "":
		v.URL(field+".getLicense.url", gl.URL, []string{"http", "https"})
	case license.URL == "" && !license.Server.Enabled:
		v.AddError(field+".getLicense.url", "no license url and no local license server", nil)
	}
	validate.NotNegative(v, field+".getLicense.timeout", gl.Timeout)
	validate.NotNegative(v, field+".getLicense.baseDelay", gl.BaseDelay)
	validate.NotNegative(v, field+".getLicense.maxDelay", gl.MaxDelay)
	if gl.Retry != nil {
		validate.NotNegative(v, field+".getLicense.retry", *gl.Retry)
	}

	if p := ks.Persistent; p != nil {
		backend := strings.ToLower(p.Backend)
		v.OneOf(field+".persistent.backend", backend, append([]string{""}, persistent.Backends...))
		if backend != "" && backend != "memory" {
			v.NotEmpty(field+".persistent.path", p.Path)
		}
	}
}
