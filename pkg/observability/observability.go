// Package observability wires OpenTelemetry tracing and metrics into the
// adjudication core. A disabled Provider is fully usable and records nothing.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "vlab.adjudication"

// Config configures the OpenTelemetry providers.
type Config struct {
	Enabled        bool          `env:"VLAB_OTEL_ENABLED" envDefault:"false"`
	ServiceName    string        `env:"VLAB_OTEL_SERVICE_NAME" envDefault:"vlab"`
	ServiceVersion string        `env:"VLAB_OTEL_SERVICE_VERSION" envDefault:"1.0.0"`
	Environment    string        `env:"VLAB_OTEL_ENVIRONMENT" envDefault:"development"`
	OTLPEndpoint   string        `env:"VLAB_OTEL_ENDPOINT" envDefault:"localhost:4317"`
	Insecure       bool          `env:"VLAB_OTEL_INSECURE" envDefault:"false"`
	SampleRate     float64       `env:"VLAB_OTEL_SAMPLE_RATE" envDefault:"1.0"`
	BatchTimeout   time.Duration `env:"VLAB_OTEL_BATCH_TIMEOUT" envDefault:"5s"`
}

// DefaultConfig returns telemetry-off defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "vlab",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Option customises a Provider.
type Option func(*options)

type options struct {
	reader   sdkmetric.Reader
	exporter sdktrace.SpanExporter
}

// WithMetricReader replaces the OTLP metric exporter with r.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.reader = r }
}

// WithSpanExporter replaces the OTLP span exporter with e.
func WithSpanExporter(e sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = e }
}

// Provider owns the trace and metric providers and the adjudication
// instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	adjudications metric.Int64Counter
	errors        metric.Int64Counter
	duration      metric.Float64Histogram
	active        metric.Int64UpDownCounter
	cacheHits     metric.Int64Counter
}

// Noop returns a provider whose spans and instruments record nothing.
func Noop() *Provider {
	p := &Provider{
		config: DefaultConfig(),
		logger: slog.Default().With("component", "observability"),
		tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:  noop.NewMeterProvider().Meter(instrumentationName),
	}
	// Instrument creation on a no-op meter cannot fail.
	_ = p.initInstruments()
	return p
}

// New creates a provider. With telemetry disabled and no options it returns
// a no-op provider.
func New(ctx context.Context, config *Config, opts ...Option) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
		tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:  noop.NewMeterProvider().Meter(instrumentationName),
	}

	if !config.Enabled && o.reader == nil && o.exporter == nil {
		p.logger.DebugContext(ctx, "observability disabled")
		return p, p.initInstruments()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res, o.exporter); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res, o.reader); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = p.meterProvider.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource, reader sdkmetric.Reader) error {
	if reader == nil {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.adjudications, err = p.meter.Int64Counter("vlab.adjudications.total",
		metric.WithDescription("Adjudications completed, by ruleset and topline verdict"),
		metric.WithUnit("{adjudication}"),
	)
	if err != nil {
		return err
	}

	p.errors, err = p.meter.Int64Counter("vlab.errors.total",
		metric.WithDescription("Adjudication failures, by error code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.duration, err = p.meter.Float64Histogram("vlab.adjudication.duration",
		metric.WithDescription("Adjudication duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return err
	}

	p.active, err = p.meter.Int64UpDownCounter("vlab.operations.active",
		metric.WithDescription("Operations in flight"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	p.cacheHits, err = p.meter.Int64Counter("vlab.cache.hits",
		metric.WithDescription("Result cache hits"),
		metric.WithUnit("{hit}"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, opts...)
}

// RecordAdjudication counts a completed adjudication.
func (p *Provider) RecordAdjudication(ctx context.Context, rulesetID, verdict string) {
	p.adjudications.Add(ctx, 1, metric.WithAttributes(
		AttrRulesetID.String(rulesetID),
		AttrVerdict.String(verdict),
	))
}

// RecordError counts a failure under its stable code.
func (p *Provider) RecordError(ctx context.Context, code string) {
	p.errors.Add(ctx, 1, metric.WithAttributes(AttrErrorCode.String(code)))
}

// RecordCacheHit counts a result served from cache.
func (p *Provider) RecordCacheHit(ctx context.Context, rulesetID string) {
	p.cacheHits.Add(ctx, 1, metric.WithAttributes(AttrRulesetID.String(rulesetID)))
}

// TrackOperation starts a span and an in-flight count for name and returns
// the function that ends both and records the duration.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	p.active.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", name)))

	return ctx, func(err error) {
		p.active.Add(ctx, -1, metric.WithAttributes(attribute.String("operation", name)))
		p.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("operation", name)))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
