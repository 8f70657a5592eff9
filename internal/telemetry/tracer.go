// Package telemetry wraps OpenTelemetry tracing for the runtime. It exports
// a single Tracer used to span the two operations worth tracing end to end —
// a model streaming turn and a tool execution — plus the no-op default that
// applies whenever no collector endpoint is configured, so the core has zero
// hard dependency on a running collector.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the tracer. An empty Endpoint yields a no-op tracer: spans
// are created but never exported, so local runs and tests never need a
// collector.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	SamplingRatio  float64
	Insecure       bool
}

// Tracer is a thin wrapper around an otel trace.Tracer. The shutdown hook
// for its provider is not held here; New returns it separately.
type Tracer struct {
	tracer trace.Tracer
}

// Shutdown stops the underlying exporter, if any was started. The no-op
// tracer's Shutdown is a no-op itself.
type Shutdown func(context.Context) error

// New builds a Tracer from cfg. If cfg.Endpoint is empty, or the exporter
// fails to start, it falls back to the global no-op tracer rather than
// returning an error — tracing is always optional.
func New(cfg Config) (*Tracer, Shutdown) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentcore-runtime"
	}
	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, func(context.Context) error { return nil }
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, func(context.Context) error { return nil }
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	ratio := cfg.SamplingRatio
	var sampler sdktrace.Sampler
	switch {
	case ratio <= 0:
		sampler = sdktrace.AlwaysSample()
	case ratio >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(ratio)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{tracer: provider.Tracer(cfg.ServiceName)}, provider.Shutdown
}

// StartSpan starts a span named name and returns the derived context plus a
// SpanEnder that records err (if non-nil) and ends the span. Call sites use
// it as: ctx, end := tracer.StartSpan(ctx, "agentloop.turn"); defer end(&err).
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, SpanEnder) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

// SpanEnder closes the span started by StartSpan, recording *errp if it
// points at a non-nil error.
type SpanEnder func(errp *error)

// SpanStarter is the narrow interface agentloop and tools depend on instead
// of importing this package directly, mirroring tools.MetricsRecorder's
// decoupling from internal/metrics: a package that only starts spans for a
// fixed operation name doesn't need the rest of Tracer's surface.
type SpanStarter interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, SpanEnder)
}

// ToolAttributes builds the standard attribute set for a tool execution span.
func ToolAttributes(toolName string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("tool.name", toolName)}
}

// ProviderAttributes builds the standard attribute set for a model streaming
// span.
func ProviderAttributes(provider, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	}
}

// SpanName formats a dotted span name, e.g. SpanName("tool", toolName).
func SpanName(namespace, op string) string {
	return fmt.Sprintf("%s.%s", namespace, op)
}
