package otel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/stiffinWanjohi/courier/internal/logging"
	"github.com/stiffinWanjohi/courier/internal/observability"
)

var log = logging.Component("otel")

const defaultExportInterval = 15 * time.Second

// Webex round trips sit between a few hundred milliseconds and the client
// timeout, so the default OTel buckets are too coarse at the low end.
var deliveryBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

func init() {
	observability.RegisterMetricsProvider("otel", NewMetricsProvider)
	observability.RegisterMetricsProvider("otlp", NewMetricsProvider)
}

// MetricsProvider records courier metrics through an OTel MeterProvider.
// Instruments are created on first use and cached by name.
type MetricsProvider struct {
	provider *sdkmetric.MeterProvider

	counters   *instruments[metric.Int64Counter]
	gauges     *instruments[metric.Float64Gauge]
	histograms *instruments[metric.Float64Histogram]
}

var _ observability.MetricsProvider = (*MetricsProvider)(nil)

// NewMetricsProvider builds a provider that pushes to cfg.Endpoint over
// OTLP/gRPC. With no endpoint, measurements are aggregated but never exported.
// cfg.Options["export_interval"] overrides the 15s push interval.
func NewMetricsProvider(ctx context.Context, cfg observability.MetricsConfig) (observability.MetricsProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithView(durationView("*.deliveries.duration")),
	}

	if cfg.Endpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval(cfg.Options)))
		opts = append(opts, sdkmetric.WithReader(reader))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)
	meter := provider.Meter(cfg.ServiceName)

	return &MetricsProvider{
		provider: provider,
		counters: newInstruments(func(name string) (metric.Int64Counter, error) {
			return meter.Int64Counter(name)
		}),
		gauges: newInstruments(func(name string) (metric.Float64Gauge, error) {
			return meter.Float64Gauge(name)
		}),
		histograms: newInstruments(func(name string) (metric.Float64Histogram, error) {
			if strings.HasSuffix(name, ".duration") {
				return meter.Float64Histogram(name, metric.WithUnit("s"))
			}
			return meter.Float64Histogram(name)
		}),
	}, nil
}

func (p *MetricsProvider) Counter(ctx context.Context, name string, value int64, tags map[string]string) {
	if c, ok := p.counters.get(name); ok {
		c.Add(ctx, value, withTags(tags))
	}
}

func (p *MetricsProvider) Gauge(ctx context.Context, name string, value float64, tags map[string]string) {
	if g, ok := p.gauges.get(name); ok {
		g.Record(ctx, value, withTags(tags))
	}
}

func (p *MetricsProvider) Histogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if h, ok := p.histograms.get(name); ok {
		h.Record(ctx, value, withTags(tags))
	}
}

func (p *MetricsProvider) Timing(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	p.Histogram(ctx, name, duration.Seconds(), tags)
}

func (p *MetricsProvider) Flush(ctx context.Context) error {
	return p.provider.ForceFlush(ctx)
}

func (p *MetricsProvider) Close(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

// instruments caches one instrument kind by name.
type instruments[T any] struct {
	create func(name string) (T, error)

	mu    sync.RWMutex
	byKey map[string]T
}

func newInstruments[T any](create func(string) (T, error)) *instruments[T] {
	return &instruments[T]{create: create, byKey: make(map[string]T)}
}

func (i *instruments[T]) get(name string) (T, bool) {
	i.mu.RLock()
	inst, ok := i.byKey[name]
	i.mu.RUnlock()
	if ok {
		return inst, true
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if inst, ok = i.byKey[name]; ok {
		return inst, true
	}
	inst, err := i.create(name)
	if err != nil {
		log.Warn("failed to create otel instrument", "name", name, "error", err)
		return inst, false
	}
	i.byKey[name] = inst
	return inst, true
}

func durationView(pattern string) sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{Name: pattern, Kind: sdkmetric.InstrumentKindHistogram},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: deliveryBuckets}},
	)
}

func exportInterval(options map[string]string) time.Duration {
	if raw, ok := options["export_interval"]; ok {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return defaultExportInterval
}

func withTags(tags map[string]string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	return metric.WithAttributes(attrs...)
}
