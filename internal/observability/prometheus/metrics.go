package prometheus

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stiffinWanjohi/courier/internal/observability"
)

func init() {
	observability.RegisterMetricsProvider("prometheus", NewPrometheusProvider)
}

// deliveryBuckets covers a chat API round trip: tens of milliseconds up to
// the client timeout.
var deliveryBuckets = []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Provider implements observability.MetricsProvider on a private registry.
// Vectors are created lazily on first use; a metric name must always be
// recorded with the same tag keys.
type Provider struct {
	registry    *prometheus.Registry
	constLabels prometheus.Labels

	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var (
	_ observability.MetricsProvider = (*Provider)(nil)
	_ observability.HandlerProvider = (*Provider)(nil)
)

// NewPrometheusProvider creates a Prometheus metrics provider.
func NewPrometheusProvider(_ context.Context, cfg observability.MetricsConfig) (observability.MetricsProvider, error) {
	return New(cfg), nil
}

// New creates a Provider with Go runtime and process collectors registered.
func New(cfg observability.MetricsConfig) *Provider {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	constLabels := prometheus.Labels{}
	if cfg.ServiceName != "" {
		constLabels["service"] = cfg.ServiceName
	}
	if cfg.Environment != "" {
		constLabels["environment"] = cfg.Environment
	}

	return &Provider{
		registry:    registry,
		constLabels: constLabels,
		counters:    make(map[string]*prometheus.CounterVec),
		gauges:      make(map[string]*prometheus.GaugeVec),
		histograms:  make(map[string]*prometheus.HistogramVec),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Provider) Counter(_ context.Context, name string, value int64, tags map[string]string) {
	if value < 0 {
		return
	}
	p.counter(name, tags).With(tagsToLabels(tags)).Add(float64(value))
}

func (p *Provider) Gauge(_ context.Context, name string, value float64, tags map[string]string) {
	p.gauge(name, tags).With(tagsToLabels(tags)).Set(value)
}

func (p *Provider) Histogram(_ context.Context, name string, value float64, tags map[string]string) {
	p.histogram(name, tags).With(tagsToLabels(tags)).Observe(value)
}

func (p *Provider) Timing(_ context.Context, name string, duration time.Duration, tags map[string]string) {
	p.histogram(name+"_seconds", tags).With(tagsToLabels(tags)).Observe(duration.Seconds())
}

// Flush is a no-op; Prometheus scrapes.
func (p *Provider) Flush(context.Context) error { return nil }

func (p *Provider) Close(context.Context) error { return nil }

func (p *Provider) counter(name string, tags map[string]string) *prometheus.CounterVec {
	key := sanitizeName(name)

	p.mu.RLock()
	vec, ok := p.counters[key]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = p.counters[key]; ok {
		return vec
	}

	vec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        key + "_total",
		Help:        "Counter for " + name,
		ConstLabels: p.constLabels,
	}, labelNames(tags))
	p.registry.MustRegister(vec)
	p.counters[key] = vec
	return vec
}

func (p *Provider) gauge(name string, tags map[string]string) *prometheus.GaugeVec {
	key := sanitizeName(name)

	p.mu.RLock()
	vec, ok := p.gauges[key]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = p.gauges[key]; ok {
		return vec
	}

	vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        key,
		Help:        "Gauge for " + name,
		ConstLabels: p.constLabels,
	}, labelNames(tags))
	p.registry.MustRegister(vec)
	p.gauges[key] = vec
	return vec
}

func (p *Provider) histogram(name string, tags map[string]string) *prometheus.HistogramVec {
	key := sanitizeName(name)

	p.mu.RLock()
	vec, ok := p.histograms[key]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = p.histograms[key]; ok {
		return vec
	}

	buckets := prometheus.DefBuckets
	if strings.HasSuffix(key, "_seconds") {
		buckets = deliveryBuckets
	}
	vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        key,
		Help:        "Histogram for " + name,
		ConstLabels: p.constLabels,
		Buckets:     buckets,
	}, labelNames(tags))
	p.registry.MustRegister(vec)
	p.histograms[key] = vec
	return vec
}

// sanitizeName maps a dotted metric name onto [a-zA-Z_:][a-zA-Z0-9_:]*.
func sanitizeName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func labelNames(tags map[string]string) []string {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, sanitizeName(k))
	}
	sort.Strings(names)
	return names
}

func tagsToLabels(tags map[string]string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags))
	for k, v := range tags {
		labels[sanitizeName(k)] = v
	}
	return labels
}
