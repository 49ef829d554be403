// Package observability wires OpenTelemetry tracing and metrics for the
// Hookline pipeline. When disabled (the default) every call is a no-op so
// handlers never need to branch on whether telemetry is configured.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls the telemetry pipeline.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns a disabled configuration pointed at a local
// collector.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "hooklined",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider owns the tracer and meter providers plus the instruments the
// gateway records on.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	durationHist    metric.Float64Histogram
	subscriberGauge metric.Int64UpDownCounter
}

// New builds a Provider. With cfg.Enabled false it returns a provider whose
// methods do nothing, so callers can instrument unconditionally.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{
		config: cfg,
		logger: slog.Default().With("component", "observability"),
	}
	if !cfg.Enabled {
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initInstruments(); err != nil {
		return nil, err
	}

	p.logger.Info("telemetry enabled", "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(p.config.ServiceName)
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(p.config.ServiceName)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	if p.requestCounter, err = p.meter.Int64Counter("hookline.requests.total",
		metric.WithDescription("Total HTTP requests handled")); err != nil {
		return fmt.Errorf("create request counter: %w", err)
	}
	if p.errorCounter, err = p.meter.Int64Counter("hookline.errors.total",
		metric.WithDescription("Total HTTP requests that failed")); err != nil {
		return fmt.Errorf("create error counter: %w", err)
	}
	if p.durationHist, err = p.meter.Float64Histogram("hookline.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return fmt.Errorf("create duration histogram: %w", err)
	}
	if p.subscriberGauge, err = p.meter.Int64UpDownCounter("hookline.subscribers.active",
		metric.WithDescription("Currently connected stream subscribers")); err != nil {
		return fmt.Errorf("create subscriber gauge: %w", err)
	}
	return nil
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer provider: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter provider: %w", err)
		}
	}
	return nil
}

// Tracer returns the service tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(p.config.ServiceName)
	}
	return p.tracer
}

// RecordSubscriber adjusts the active-subscriber gauge by delta.
func (p *Provider) RecordSubscriber(ctx context.Context, delta int64) {
	if p.subscriberGauge == nil {
		return
	}
	p.subscriberGauge.Add(ctx, delta)
}

// TrackRequest starts a span for route and returns the span context plus a
// completion callback recording duration and outcome.
func (p *Provider) TrackRequest(ctx context.Context, route string) (context.Context, func(err error)) {
	if !p.config.Enabled {
		return ctx, func(error) {}
	}

	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("route", route))
	ctx, span := p.tracer.Start(ctx, route)

	return ctx, func(err error) {
		p.requestCounter.Add(ctx, 1, attrs)
		p.durationHist.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			p.errorCounter.Add(ctx, 1, attrs)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
