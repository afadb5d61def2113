// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command emesim runs the content decryption core against a simulated CDM
// and an in-process license server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/emecore/internal/config"
	xglog "github.com/ManuGH/emecore/internal/log"
	"github.com/ManuGH/emecore/internal/telemetry"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "emesim",
		Version: version,
	})
	logger := xglog.WithComponent("emesim")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*configPath, version).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	xglog.Reconfigure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "emesim",
		Version: cfg.Version,
	})
	logger = xglog.WithComponent("emesim")

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "emesim",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "telemetry.init_failed").Msg("failed to initialise tracing")
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Listen).Msg("failed to listen")
	}

	logger.Info().
		Str(xglog.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("cdm", cfg.CDM.Implementation).
		Str("license_url", maskURL(cfg.License.URL)).
		Bool("license_server", cfg.License.Server.Enabled).
		Int("key_systems", len(cfg.KeySystems)).
		Msg("starting emesim")

	runErr := run(ctx, cfg, ln)
	if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	if runErr != nil {
		logger.Fatal().Err(runErr).Str(xglog.FieldEvent, "emesim.failed").Msg("simulator failed")
	}
	logger.Info().Msg("simulator exiting")
}
