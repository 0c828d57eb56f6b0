// Package observability wires OpenTelemetry tracing for litagent.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "litagent"

type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is a gRPC host:port. Empty disables export.
	OTLPEndpoint string
	SampleRate   float64
}

func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "litagent",
		ServiceVersion: "0.1.0",
		SampleRate:     1.0,
	}
}

type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a global OTLP tracer provider. Without an endpoint the
// global no-op provider stays in place.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartTurnSpan covers one ask request end to end.
func StartTurnSpan(ctx context.Context, userID, mode string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "assistant.ask",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("litagent.user_id", userID),
			attribute.String("litagent.mode", mode),
		),
	)
}

func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "reasoning."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("litagent.stage", stage)),
	)
}

func StartIngestSpan(ctx context.Context, userID, externalID string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "ingest.paper",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("litagent.user_id", userID),
			attribute.String("litagent.external_id", externalID),
		),
	)
}

func StartUploadSpan(ctx context.Context, userID, filename string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "ingest.upload",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("litagent.user_id", userID),
			attribute.String("litagent.filename", filename),
		),
	)
}

func StartRetrievalSpan(ctx context.Context, userID string, k int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "vector.search",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("litagent.user_id", userID),
			attribute.Int("litagent.top_k", k),
		),
	)
}

// MarkDegraded flags a span whose step failed but did not abort the turn.
func MarkDegraded(span trace.Span, reason string) {
	span.SetAttributes(attribute.Bool("litagent.degraded", true), attribute.String("litagent.degraded_reason", reason))
}

func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
