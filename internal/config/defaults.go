// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import "time"

// Defaults returns the configuration used when neither file nor env set a value.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",
		Listen:   ":8088",
		CDM:      CDMConfig{Implementation: "fake"},
		License: LicenseConfig{
			Timeout:   10 * time.Second,
			RateLimit: 20,
			Burst:     5,

			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,

			Server: LicenseServerConfig{
				Enabled: true,
				Window:  time.Minute,
			},
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			Environment:  "development",
			SamplingRate: 1.0,
		},
		KeySystems: []KeySystemConfig{
			{Type: "widevine"},
			{Type: "playready"},
		},
		Content: ContentConfig{
			Periods: []PeriodConfig{
				{ID: "p0", KeyIDs: []string{"00000000000000000000000000000001"}},
				{ID: "p1", KeyIDs: []string{"00000000000000000000000000000002"}},
			},
		},
	}
}
