// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package telemetry provides OpenTelemetry tracing for key-system negotiation
// and license exchanges.
package telemetry

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName prefixes every tracer of this module.
const InstrumentationName = "github.com/ManuGH/emecore"

const shutdownTimeout = 5 * time.Second

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string

	// ExporterType is one of Exporters().
	ExporterType string
	// Endpoint is the OTLP collector address, host:port.
	Endpoint string
	// SamplingRate applies to root spans; children follow their parent.
	SamplingRate float64
}

type exporterFactory func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error)

// OTLP over plaintext; TLS termination is left to the collector sidecar.
var exporters = map[string]exporterFactory{
	"grpc": func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	},
	"http": func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	},
}

// Exporters lists the supported exporter types.
func Exporters() []string {
	names := make([]string, 0, len(exporters))
	for name := range exporters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ProviderOption customizes NewProvider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	exporter   sdktrace.SpanExporter
	syncExport bool
}

// WithExporter replaces the configured OTLP exporter. Spans are exported
// synchronously, which suits tests.
func WithExporter(exp sdktrace.SpanExporter) ProviderOption {
	return func(o *providerOptions) {
		o.exporter = exp
		o.syncExport = true
	}
}

// Provider owns the process tracer provider.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider installs the global tracer provider and propagator. A
// disabled config installs a noop provider.
func NewProvider(ctx context.Context, cfg Config, opts ...ProviderOption) (*Provider, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	}

	var po providerOptions
	for _, opt := range opts {
		opt(&po)
	}

	exp := po.exporter
	if exp == nil {
		factory, ok := exporters[cfg.ExporterType]
		if !ok {
			return nil, fmt.Errorf("unsupported exporter type %q (supported: %v)", cfg.ExporterType, Exporters())
		}
		var err error
		if exp, err = factory(ctx, cfg.Endpoint); err != nil {
			return nil, fmt.Errorf("create %s exporter: %w", cfg.ExporterType, err)
		}
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	export := sdktrace.WithBatcher(exp)
	if po.syncExport {
		export = sdktrace.WithSyncer(exp)
	}
	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Enabled reports whether the provider exports spans.
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// Shutdown flushes pending spans, bounded by a few seconds.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// Tracer returns a tracer for the given component.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(InstrumentationName + "/" + component)
}
