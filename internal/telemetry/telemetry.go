// Package telemetry wires tagsweep traces, metrics and logs into OpenTelemetry.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/tagsweep/internal/config"
)

// ServiceVersion is reported as service.version on every span and metric.
var ServiceVersion = "dev"

const scope = "github.com/yairfalse/tagsweep"

// Provider owns the process-wide tracer and meter providers.
type Provider struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
}

// NewProvider builds the providers described by cfg and installs them
// globally. With no endpoint and no Prometheus reader, spans and metrics
// are recorded but never exported.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	res, err := serviceResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	traces, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}

	readers, err := metricReaders(ctx, cfg)
	if err != nil {
		_ = traces.Shutdown(ctx)
		return nil, err
	}
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mopts = append(mopts, sdkmetric.WithReader(r))
	}

	p := &Provider{
		traces:  traces,
		metrics: sdkmetric.NewMeterProvider(mopts...),
	}

	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.metrics)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}

func serviceResource(ctx context.Context, name string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcessRuntimeName(),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

// newTracerProvider exports spans over OTLP only when tracing is enabled and
// a collector endpoint is set.
func newTracerProvider(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if !cfg.Traces.Enabled || cfg.Endpoint == "" {
		return sdktrace.NewTracerProvider(opts...), nil
	}

	eopts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		eopts = append(eopts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, eopts...)
	if err != nil {
		return nil, fmt.Errorf("otlp span exporter: %w", err)
	}

	opts = append(opts,
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))),
	)
	return sdktrace.NewTracerProvider(opts...), nil
}

// metricReaders returns the OTLP push reader and the Prometheus pull reader
// that cfg enables. Either, both or neither may be present.
func metricReaders(ctx context.Context, cfg config.OTELConfig) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		eopts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			eopts = append(eopts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, eopts...)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp))
	}

	if cfg.Metrics.Prometheus {
		prom, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("prometheus reader: %w", err)
		}
		readers = append(readers, prom)
	}

	return readers, nil
}

// Tracer returns the tagsweep tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return otel.Tracer(scope)
	}
	return p.traces.Tracer(scope)
}

// Meter returns the tagsweep meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return otel.Meter(scope)
	}
	return p.metrics.Meter(scope)
}

// StartSpan starts a command-level span. A nil provider falls back to the
// global tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if err := p.traces.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown traces: %w", err))
	}
	if err := p.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
	}
	return errors.Join(errs...)
}
