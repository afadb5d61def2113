// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/emecore/internal/config"
	"github.com/ManuGH/emecore/internal/drm/cdm"
	"github.com/ManuGH/emecore/internal/drm/cdm/fake"
	"github.com/ManuGH/emecore/internal/drm/mediakeys"
	"github.com/ManuGH/emecore/internal/license"
	xglog "github.com/ManuGH/emecore/internal/log"
)

const shutdownTimeout = 10 * time.Second

// run serves the simulator surface on ln and plays the configured content
// until ctx is done. A fatal decryption error ends it.
func run(ctx context.Context, cfg config.AppConfig, ln net.Listener) error {
	logger := xglog.WithComponent("emesim")

	platform, err := cdm.Open(cfg.CDM.Implementation)
	if err != nil {
		return err
	}

	var licenseOpts *license.ServerOptions
	if cfg.License.Server.Enabled {
		denied, err := cfg.License.Server.Denied()
		if err != nil {
			return fmt.Errorf("license server: %w", err)
		}
		licenseOpts = &license.ServerOptions{
			Denied:       denied,
			RequestLimit: cfg.License.Server.RequestLimit,
			Window:       cfg.License.Server.Window,
		}
		if cfg.License.URL == "" {
			cfg.License.URL = localURL(ln.Addr()) + "/license"
		}
	}

	options, res, err := cfg.KeySystemOptions()
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing persistent storage failed")
		}
	}()

	content, err := cfg.Content.Build()
	if err != nil {
		return fmt.Errorf("content: %w", err)
	}

	st := newStatus()
	srv := &http.Server{
		Handler: newRouter(routerConfig{
			status:  st,
			tracing: cfg.Telemetry.Enabled,
			license: licenseOpts,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	element := fake.NewElement("emesim-video")
	manager := mediakeys.NewManager(platform, mediakeys.NewRegistry())
	p := &player{
		manager: manager,
		element: element,
		options: options,
		content: content,
		status:  st,
		logger:  logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", ln.Addr().String()).Msg("simulator listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		err := p.play(gctx)
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if derr := manager.Dispose(mctx, element); derr != nil {
			logger.Warn().Err(derr).Msg("releasing the CDM instance failed")
		}
		if err != nil {
			return fmt.Errorf("playback: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// localURL turns a listen address into a URL reachable from this host.
func localURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
