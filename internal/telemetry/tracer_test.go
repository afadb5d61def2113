// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func restoreGlobalProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestNewProviderDisabled(t *testing.T) {
	restoreGlobalProvider(t)

	p, err := NewProvider(context.Background(), Config{Enabled: false, ExporterType: "grpc"})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))

	_, span := Tracer("test").Start(context.Background(), "noop-check")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestNewProviderRejectsUnknownExporter(t *testing.T) {
	restoreGlobalProvider(t)

	_, err := NewProvider(context.Background(), Config{Enabled: true, ExporterType: "zipkin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported exporter type "zipkin"`)
	assert.Contains(t, err.Error(), "grpc")
}

func TestProviderExportsSpans(t *testing.T) {
	restoreGlobalProvider(t)
	exp := tracetest.NewInMemoryExporter()

	p, err := NewProvider(context.Background(), Config{
		Enabled:        true,
		ServiceName:    "emesim",
		ServiceVersion: "test",
		SamplingRate:   1,
	}, WithExporter(exp))
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := Tracer("drm.listener").Start(context.Background(), "license.exchange",
		trace.WithAttributes(LicenseAttributes("license-request", 1, 500)...))
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "license.exchange", spans[0].Name)
	assert.Equal(t, InstrumentationName+"/drm.listener", spans[0].InstrumentationScope.Name)

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		assert.Contains(t, samplerFor(tt.rate).Description(), tt.want)
		assert.Contains(t, samplerFor(tt.rate).Description(), "ParentBased")
	}
}

func TestExporters(t *testing.T) {
	assert.Equal(t, []string{"grpc", "http"}, Exporters())
}
