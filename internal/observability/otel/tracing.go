package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/stiffinWanjohi/courier/internal/observability"
)

func init() {
	observability.RegisterTracingProvider("otel", NewTracingProvider)
	observability.RegisterTracingProvider("otlp", NewTracingProvider)
}

// TracingProvider exports courier spans over OTLP/gRPC and propagates W3C
// trace context on outgoing Webex calls.
type TracingProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	prop     propagation.TextMapPropagator
}

var _ observability.TracingProvider = (*TracingProvider)(nil)

// NewTracingProvider builds a provider sampling cfg.SampleRate of root spans.
// Child spans follow their parent's decision.
func NewTracingProvider(ctx context.Context, cfg observability.MetricsConfig) (observability.TracingProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(cfg.SampleRate))),
	}
	if cfg.Endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	prop := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(prop)

	return &TracingProvider{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
		prop:     prop,
	}, nil
}

func (p *TracingProvider) StartSpan(ctx context.Context, name string, opts ...observability.SpanOption) (context.Context, observability.Span) {
	options := observability.ApplyOptions(opts...)

	attrs := make([]attribute.KeyValue, 0, len(options.Attributes))
	for k, v := range options.Attributes {
		attrs = append(attrs, toAttribute(k, v))
	}

	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(spanKind(options.Kind)),
		trace.WithAttributes(attrs...),
	)
	return ctx, otelSpan{span}
}

func (p *TracingProvider) Inject(ctx context.Context, carrier observability.TextMapCarrier) {
	p.prop.Inject(ctx, carrier)
}

func (p *TracingProvider) Extract(ctx context.Context, carrier observability.TextMapCarrier) context.Context {
	return p.prop.Extract(ctx, carrier)
}

func (p *TracingProvider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End()                               { s.span.End() }
func (s otelSpan) RecordError(err error)              { s.span.RecordError(err) }
func (s otelSpan) SetAttribute(key string, value any) { s.span.SetAttributes(toAttribute(key, value)) }

func (s otelSpan) SetStatus(status observability.SpanStatus, description string) {
	switch status {
	case observability.SpanStatusOK:
		s.span.SetStatus(codes.Ok, "")
	case observability.SpanStatusError:
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Unset, "")
	}
}

func spanKind(kind observability.SpanKind) trace.SpanKind {
	switch kind {
	case observability.SpanKindServer:
		return trace.SpanKindServer
	case observability.SpanKindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

// toAttribute covers the value types courier puts on spans: ids and
// destinations as strings, counts as ints, and the odd Stringer.
func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
