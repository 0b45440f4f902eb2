// Package telemetry traces relay calls and credential refreshes with
// OpenTelemetry. Without an OTLP endpoint spans go to the global no-op
// provider.
package telemetry

import (
	"context"
	"log/slog"

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

const ServiceName = "vertex-gateway"

const (
	attrRequestID    = attribute.Key("gateway.request_id")
	attrModel        = attribute.Key("gateway.backend_model")
	attrStream       = attribute.Key("gateway.stream")
	attrFragments    = attribute.Key("gateway.stream.fragments")
	attrInputTokens  = attribute.Key("gen_ai.usage.input_tokens")
	attrOutputTokens = attribute.Key("gen_ai.usage.output_tokens")
	attrStatus       = attribute.Key("http.response.status_code")
)

type Config struct {
	ServiceName string
	Version     string
	Endpoint    string
	// SampleRatio is the fraction of root spans kept. Values outside (0, 1]
	// keep every span.
	SampleRatio float64
}

var tracer trace.Tracer

// Init installs an OTLP/gRPC tracer provider and returns its shutdown.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = ServiceName
	}

	if cfg.Endpoint == "" {
		tracer = otel.Tracer(cfg.ServiceName)
		slog.Info("tracing disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tracer = tp.Tracer(cfg.ServiceName)

	slog.Info("tracing to OTLP collector", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)

	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = otel.Tracer(ServiceName)
	}
	return tracer.Start(ctx, name)
}

func AnnotateRelay(span trace.Span, requestID, model string, stream bool) {
	span.SetAttributes(
		attrRequestID.String(requestID),
		attrModel.String(model),
		attrStream.Bool(stream),
	)
}

func AnnotateUsage(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(
		attrInputTokens.Int(inputTokens),
		attrOutputTokens.Int(outputTokens),
	)
}

func AnnotateFragments(span trace.Span, n int) {
	span.SetAttributes(attrFragments.Int(n))
}

// Finish records the reply status. A non-nil err marks the span failed.
func Finish(span trace.Span, status int, err error) {
	span.SetAttributes(attrStatus.Int(status))
	if err != nil {
		Fail(span, err)
	}
}

func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace id carried by ctx, or "" when it is not sampled
// into a real trace.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
