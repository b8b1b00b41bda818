package observability

import (
	"context"
)

// SpanKind says which side of a call a span describes.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// SpanStatus is the final status of a span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// Span is an active trace span.
type Span interface {
	End()
	SetAttribute(key string, value any)
	SetStatus(status SpanStatus, description string)
	RecordError(err error)
}

// TracingProvider is a tracing backend. The otel subpackage registers one;
// NoopTracingProvider is used otherwise.
type TracingProvider interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)

	// Inject writes the active trace context into outgoing headers.
	Inject(ctx context.Context, carrier TextMapCarrier)

	// Extract reads a remote trace context from incoming headers.
	Extract(ctx context.Context, carrier TextMapCarrier) context.Context

	Shutdown(ctx context.Context) error
}

// SpanOption configures a span.
type SpanOption func(*SpanOptions)

// SpanOptions holds span configuration options.
type SpanOptions struct {
	Kind       SpanKind
	Attributes map[string]any
}

// ApplyOptions applies all options and returns the resulting SpanOptions.
func ApplyOptions(opts ...SpanOption) SpanOptions {
	o := SpanOptions{
		Attributes: make(map[string]any),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(o *SpanOptions) {
		o.Kind = kind
	}
}

// WithAttributes sets initial span attributes.
func WithAttributes(attrs map[string]any) SpanOption {
	return func(o *SpanOptions) {
		o.Attributes = attrs
	}
}

// TextMapCarrier is a carrier for trace context propagation.
type TextMapCarrier interface {
	Get(key string) string
	Set(key, value string)
	Keys() []string
}

// HTTPHeaderCarrier adapts http.Header to TextMapCarrier.
type HTTPHeaderCarrier map[string][]string

func (c HTTPHeaderCarrier) Get(key string) string {
	vals := c[key]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (c HTTPHeaderCarrier) Set(key, value string) {
	c[key] = []string{value}
}

func (c HTTPHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Tracer provides a convenient wrapper for tracing operations.
// A nil *Tracer hands out no-op spans.
type Tracer struct {
	provider    TracingProvider
	serviceName string
}

// NewTracer creates a new Tracer with the given provider.
func NewTracer(provider TracingProvider, serviceName string) *Tracer {
	if provider == nil {
		provider = &NoopTracingProvider{}
	}
	return &Tracer{
		provider:    provider,
		serviceName: serviceName,
	}
}

// StartSpan starts a new span.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	if t == nil {
		return ctx, &noopSpan{}
	}
	return t.provider.StartSpan(ctx, name, opts...)
}

// Inject injects trace context into a carrier.
func (t *Tracer) Inject(ctx context.Context, carrier TextMapCarrier) {
	if t == nil {
		return
	}
	t.provider.Inject(ctx, carrier)
}

// Extract extracts trace context from a carrier.
func (t *Tracer) Extract(ctx context.Context, carrier TextMapCarrier) context.Context {
	if t == nil {
		return ctx
	}
	return t.provider.Extract(ctx, carrier)
}

// Shutdown shuts down the tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(SpanStatusError, err.Error())
	} else {
		span.SetStatus(SpanStatusOK, "")
	}
	span.End()
}

// Span names.
const (
	SpanHTTPRequest    = "http.request"
	SpanDispatchCycle  = "dispatcher.cycle"
	SpanReconcileStale = "dispatcher.reconcile_stale"
	SpanDelivery       = "delivery.execute"
	SpanWebexSend      = "webex.send"
	SpanDuplicateCheck = "dedup.check"
)

// Attribute keys.
const (
	AttrJobID           = "courier.job.id"
	AttrReportID        = "courier.report.id"
	AttrMethod          = "courier.delivery.method"
	AttrDestination     = "courier.destination"
	AttrRetryCount      = "courier.retry_count"
	AttrDeliveryOutcome = "courier.delivery.outcome"
	AttrFetched         = "courier.dispatcher.fetched"
	AttrFreeSlots       = "courier.dispatcher.free_slots"
	AttrHTTPMethod      = "http.method"
	AttrHTTPURL         = "http.url"
	AttrHTTPStatusCode  = "http.status_code"
)
