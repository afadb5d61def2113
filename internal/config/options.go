// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/drm/persistent"
	"github.com/ManuGH/emecore/internal/license"
)

// Resources owns what KeySystemOptions opened.
type Resources struct {
	closers []io.Closer
}

// Close releases every opened storage backend.
func (r *Resources) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// KeySystemOptions turns the configured key systems into decryptor options.
// The returned Resources must be closed once no decryptor uses the options.
func (c AppConfig) KeySystemOptions() ([]model.KeySystemOption, *Resources, error) {
	res := &Resources{}
	out := make([]model.KeySystemOption, 0, len(c.KeySystems))
	for i, ks := range c.KeySystems {
		opt, err := c.keySystemOption(ks, res)
		if err != nil {
			_ = res.Close()
			return nil, nil, fmt.Errorf("keySystems[%d] (%s): %w", i, ks.Type, err)
		}
		out = append(out, opt)
	}
	return out, res, nil
}

func (c AppConfig) keySystemOption(ks KeySystemConfig, res *Resources) (model.KeySystemOption, error) {
	url := ks.GetLicense.URL
	if url == "" {
		url = c.License.URL
	}
	if url == "" {
		return model.KeySystemOption{}, ErrNoLicenseURL
	}
	client := license.NewClient(url, license.Options{
		Timeout:        c.License.Timeout,
		RateLimit:      rate.Limit(c.License.RateLimit),
		RateLimitBurst: c.License.Burst,
		UserAgent:      c.License.UserAgent,
		Headers:        c.License.Headers,

		BreakerThreshold:    c.License.BreakerThreshold,
		BreakerResetTimeout: c.License.BreakerReset,
	})

	cert, err := ks.serverCertificate()
	if err != nil {
		return model.KeySystemOption{}, err
	}

	opt := model.KeySystemOption{
		Type:       ks.Type,
		GetLicense: client.GetLicense,
		GetLicenseConfig: model.GetLicenseConfig{
			Timeout:   ks.GetLicense.Timeout,
			Retry:     ks.GetLicense.Retry,
			BaseDelay: ks.GetLicense.BaseDelay,
			MaxDelay:  ks.GetLicense.MaxDelay,
		},
		ServerCertificate:              cert,
		PersistentState:                model.Requirement(ks.PersistentState),
		DistinctiveIdentifier:          model.Requirement(ks.DistinctiveIdentifier),
		SingleLicensePer:               model.LicensingScope(ks.SingleLicensePer),
		MaxSessionCacheSize:            ks.MaxSessionCacheSize,
		DisableMediaKeysAttachmentLock: ks.DisableMediaKeysAttachmentLock,
		OnKeyOutputRestricted:          model.KeyStatusPolicy(ks.OnKeyOutputRestricted),
		OnKeyInternalError:             model.KeyStatusPolicy(ks.OnKeyInternalError),
		OnKeyExpiration:                model.KeyStatusPolicy(ks.OnKeyExpiration),
		VideoRobustnesses:              ks.VideoRobustnesses,
		AudioRobustnesses:              ks.AudioRobustnesses,
	}

	if p := ks.Persistent; p != nil {
		backend, err := persistent.OpenStorage(persistent.StorageConfig{
			Backend: strings.ToLower(p.Backend),
			Path:    p.Path,
			Name:    p.Name,
		})
		if err != nil {
			return model.KeySystemOption{}, fmt.Errorf("open persistent storage: %w", err)
		}
		res.closers = append(res.closers, backend)
		opt.PersistentLicenseConfig = &model.PersistentLicenseConfig{
			Storage:                   backend,
			DisableRetroCompatibility: p.DisableRetroCompatibility,
		}
	}
	return opt, nil
}

func (ks KeySystemConfig) serverCertificate() ([]byte, error) {
	if ks.ServerCertificateFile != "" {
		// #nosec G304 -- certificate paths are provided by the operator
		cert, err := os.ReadFile(filepath.Clean(ks.ServerCertificateFile))
		if err != nil {
			return nil, fmt.Errorf("read server certificate: %w", err)
		}
		return cert, nil
	}
	if ks.ServerCertificate == "" {
		return nil, nil
	}
	cert, err := base64.StdEncoding.DecodeString(ks.ServerCertificate)
	if err != nil {
		return nil, fmt.Errorf("decode server certificate: %w", err)
	}
	return cert, nil
}

// Denied decodes the key ids the local license server refuses.
func (s LicenseServerConfig) Denied() ([][]byte, error) {
	return parseKeyIDs(s.DeniedKeyIDs)
}

// Build returns the simulated content with every period's key ids decoded.
func (c ContentConfig) Build() (*initdata.Content, error) {
	content := &initdata.Content{}
	for _, p := range c.Periods {
		kids, err := parseKeyIDs(p.KeyIDs)
		if err != nil {
			return nil, fmt.Errorf("period %s: %w", p.ID, err)
		}
		content.Periods = append(content.Periods, initdata.Period{ID: p.ID, KeyIDs: kids})
	}
	return content, nil
}

func parseKeyIDs(in []string) ([][]byte, error) {
	out := make([][]byte, 0, len(in))
	for _, s := range in {
		kid, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
		if err != nil {
			return nil, fmt.Errorf("key id %q: %w", s, err)
		}
		if len(kid) != 16 {
			return nil, fmt.Errorf("key id %q: %w, got %d", s, ErrKeyIDLength, len(kid))
		}
		out = append(out, kid)
	}
	return out, nil
}
