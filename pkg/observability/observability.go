// Package observability wires OpenTelemetry tracing and metrics for the
// refund engine. Every evaluation and settlement is one span plus RED
// metrics (Rate, Errors, Duration); decisions and payouts also feed domain
// counters. A disabled Provider is a no-op, so components can always
// instrument unconditionally.
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
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/AbhayRathi/AgenticRefunds"

// Config configures the exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC, e.g. "localhost:4317"
	SampleRate     float64 // 0.0 to 1.0
	BatchTimeout   time.Duration
	MetricInterval time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC, dev only
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "refund-engine",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
		Enabled:        true,
	}
}

// instruments are created once per Provider. All fields are nil on a
// disabled provider.
type instruments struct {
	operations  metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
	inFlight    metric.Int64UpDownCounter
	decisions   metric.Int64Counter
	payouts     metric.Int64Counter
	payoutValue metric.Float64Counter
}

// Provider owns the trace and metric pipelines.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	inst           instruments
	logger         *slog.Logger
}

// New builds a provider. With Enabled false it returns a provider that
// records nothing and never dials the collector.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{config: config, logger: slog.Default().With("component", "observability")}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	)
	if err := p.startTracing(ctx, res); err != nil {
		return nil, err
	}
	if err := p.startMetrics(ctx, res); err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, err
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func (p *Provider) startTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler(p.config.SampleRate)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(p.config.ServiceVersion))
	return nil
}

func (p *Provider) startMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: metric exporter: %w", err)
	}

	interval := p.config.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(p.meterProvider)

	inst, err := newInstruments(p.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(p.config.ServiceVersion)))
	if err != nil {
		return fmt.Errorf("observability: instruments: %w", err)
	}
	p.inst = inst
	return nil
}

func newInstruments(m metric.Meter) (instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.operations, err = m.Int64Counter("refund.operations",
		metric.WithDescription("Evaluations and settlements started"), metric.WithUnit("{operation}")); err != nil {
		return in, err
	}
	if in.failures, err = m.Int64Counter("refund.operation.failures",
		metric.WithDescription("Operations that returned an error"), metric.WithUnit("{operation}")); err != nil {
		return in, err
	}
	if in.duration, err = m.Float64Histogram("refund.operation.duration",
		metric.WithDescription("Operation latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)); err != nil {
		return in, err
	}
	if in.inFlight, err = m.Int64UpDownCounter("refund.operations.in_flight",
		metric.WithDescription("Operations currently running"), metric.WithUnit("{operation}")); err != nil {
		return in, err
	}
	if in.decisions, err = m.Int64Counter("refund.decisions",
		metric.WithDescription("Refund decisions by outcome"), metric.WithUnit("{decision}")); err != nil {
		return in, err
	}
	if in.payouts, err = m.Int64Counter("refund.payouts",
		metric.WithDescription("Completed settlements by method"), metric.WithUnit("{payout}")); err != nil {
		return in, err
	}
	if in.payoutValue, err = m.Float64Counter("refund.payout.value",
		metric.WithDescription("Refund value settled, in USDC"), metric.WithUnit("{USDC}")); err != nil {
		return in, err
	}
	return in, nil
}

// Shutdown flushes and stops both pipelines. Failures are logged.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

func (p *Provider) tracerOrGlobal() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// TrackOperation starts a span for name and counts it. The returned func
// ends the span; a non-nil error marks it failed and bumps the failure
// counter.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracerOrGlobal().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	// Only the operation name goes on metrics; ids would explode cardinality.
	opAttrs := metric.WithAttributes(AttrOperation.String(name))

	if p.inst.operations != nil {
		p.inst.operations.Add(ctx, 1, opAttrs)
		p.inst.inFlight.Add(ctx, 1, opAttrs)
	}

	return ctx, func(err error) {
		if p.inst.operations != nil {
			p.inst.inFlight.Add(ctx, -1, opAttrs)
			p.inst.duration.Record(ctx, time.Since(start).Seconds(), opAttrs)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if p.inst.failures != nil {
				p.inst.failures.Add(ctx, 1, metric.WithAttributes(
					AttrOperation.String(name),
					attribute.String("error.type", fmt.Sprintf("%T", err)),
				))
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// RecordDecision counts one refund decision.
func (p *Provider) RecordDecision(ctx context.Context, approved, fallback bool, reasoningSource string) {
	if p.inst.decisions == nil {
		return
	}
	p.inst.decisions.Add(ctx, 1, metric.WithAttributes(
		AttrShouldRefund.Bool(approved),
		AttrRetrievalFellBack.Bool(fallback),
		AttrReasoningSource.String(reasoningSource),
	))
}

// RecordPayout counts one completed settlement and its value.
func (p *Provider) RecordPayout(ctx context.Context, method string, value float64) {
	if p.inst.payouts == nil {
		return
	}
	attrs := metric.WithAttributes(AttrSettlementMethod.String(method))
	p.inst.payouts.Add(ctx, 1, attrs)
	p.inst.payoutValue.Add(ctx, value, attrs)
}

// Disabled returns a provider that records nothing.
func Disabled() *Provider {
	return &Provider{
		config: &Config{Enabled: false},
		logger: slog.Default().With("component", "observability"),
	}
}

// SpanFromContext returns the span carried by ctx, or a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}
