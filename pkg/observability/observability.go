// Package observability exports dispatcher traces and metrics over OTLP
// gRPC. Every reading stage gets a span and a latency sample labelled with
// the expert and stage; quota admissions and writer verifications are
// counted by outcome.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is the default service and instrumentation name.
const ServiceName = "astro-dispatcher"

// Metric names.
const (
	MetricStageDuration = "astro.stage.duration"
	MetricStageFailures = "astro.stage.failures"
	MetricInFlight      = "astro.stage.in_flight"
	MetricAdmissions    = "astro.quota.admissions"
	MetricVerifications = "astro.writer.verifications"
)

// Config configures the exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // host:port of the collector's gRPC receiver
	SampleRate     float64 // 0.0 to 1.0
	BatchTimeout   time.Duration
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns the defaults; export stays off until Enabled is set.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
		Insecure:       true,
	}
}

// Provider records dispatcher spans and metrics.
type Provider struct {
	tracer trace.Tracer
	logger *slog.Logger

	// Owned SDK providers, shut down by Shutdown. Nil when borrowed.
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	stageDuration metric.Float64Histogram
	stageFailures metric.Int64Counter
	inFlight      metric.Int64UpDownCounter
	admissions    metric.Int64Counter
	verifications metric.Int64Counter
}

// Disabled returns a provider backed by the global (by default no-op)
// OpenTelemetry providers.
func Disabled() *Provider {
	p, err := NewWithProviders(otel.GetTracerProvider(), otel.GetMeterProvider())
	if err != nil {
		// Instrument creation on the global providers does not fail.
		panic(err)
	}
	return p
}

// NewWithProviders builds a Provider on existing tracer and meter providers.
// The caller keeps ownership of them.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		tracer: tp.Tracer(ServiceName),
		logger: slog.Default().With("component", "observability"),
	}
	if err := p.initInstruments(mp.Meter(ServiceName)); err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	return p, nil
}

// New creates a provider exporting to config.OTLPEndpoint and installs it as
// the global OpenTelemetry provider. A disabled config yields Disabled().
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		slog.Default().InfoContext(ctx, "observability disabled", "component", "observability")
		return Disabled(), nil
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

	tp, err := newTracerProvider(ctx, config, res)
	if err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	mp, err := newMeterProvider(ctx, config, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p, err := NewWithProviders(tp, mp)
	if err != nil {
		return nil, err
	}
	p.tracerProvider, p.meterProvider = tp, mp

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func newTracerProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SampleRate)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	), nil
}

func newMeterProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	interval := config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	), nil
}

func (p *Provider) initInstruments(m metric.Meter) error {
	var err error
	// Writer stages call out to an LLM, so buckets reach a minute.
	p.stageDuration, err = m.Float64Histogram(MetricStageDuration,
		metric.WithDescription("Pipeline stage latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return err
	}
	p.stageFailures, err = m.Int64Counter(MetricStageFailures,
		metric.WithDescription("Pipeline stages that returned an error"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		return err
	}
	p.inFlight, err = m.Int64UpDownCounter(MetricInFlight,
		metric.WithDescription("Pipeline stages currently running"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		return err
	}
	p.admissions, err = m.Int64Counter(MetricAdmissions,
		metric.WithDescription("Quota consume decisions by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}
	p.verifications, err = m.Int64Counter(MetricVerifications,
		metric.WithDescription("Writer answers checked against their facts"),
		metric.WithUnit("{answer}"),
	)
	return err
}

// Shutdown flushes and stops the exporters owned by p.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown trace provider: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metric provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the dispatcher tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// TrackStage opens the span for one pipeline stage of r. The returned
// function ends it and records latency, and the failure when err is non-nil.
func (p *Provider) TrackStage(ctx context.Context, r Reading, stage string) (context.Context, func(error)) {
	start := time.Now()
	labels := metric.WithAttributeSet(r.metricSet(AttrStage.String(stage)))
	ctx, span := p.tracer.Start(ctx, "pipeline."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(r.spanAttrs(AttrStage.String(stage))...),
	)
	p.inFlight.Add(ctx, 1, labels)

	return ctx, func(err error) {
		p.inFlight.Add(ctx, -1, labels)
		p.stageDuration.Record(ctx, time.Since(start).Seconds(), labels)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.stageFailures.Add(ctx, 1, metric.WithAttributeSet(
				r.metricSet(AttrStage.String(stage), AttrErrorKind.String(ErrorKind(err)))))
		}
		span.End()
	}
}

// TrackConsume opens the quota admission span. The returned function
// counts the decision: admitted when err is nil, otherwise by ErrorKind.
func (p *Provider) TrackConsume(ctx context.Context, r Reading, cost int) (context.Context, func(error)) {
	ctx, span := p.tracer.Start(ctx, "quota.consume",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(r.spanAttrs(AttrCost.Int(cost))...),
	)
	return ctx, func(err error) {
		outcome := OutcomeAdmitted
		if err != nil {
			outcome = ErrorKind(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(AttrOutcome.String(outcome))
		p.admissions.Add(ctx, 1, metric.WithAttributeSet(r.metricSet(AttrOutcome.String(outcome))))
		span.End()
	}
}

// RecordVerification counts a checked answer and notes it on the span in
// ctx. missing is the number of facts absent from the answer.
func (p *Provider) RecordVerification(ctx context.Context, r Reading, verified bool, missing int) {
	p.verifications.Add(ctx, 1, metric.WithAttributeSet(r.metricSet(AttrVerified.Bool(verified))))
	trace.SpanFromContext(ctx).AddEvent("writer.verified", trace.WithAttributes(
		AttrVerified.Bool(verified),
		AttrMissing.Int(missing),
	))
}
