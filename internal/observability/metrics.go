package observability

import (
	"context"
	"strconv"
	"time"
)

// MetricsProvider defines the interface for recording metrics.
// Implement this interface to integrate with any metrics backend.
type MetricsProvider interface {
	// Counter increments a counter metric
	Counter(ctx context.Context, name string, value int64, tags map[string]string)

	// Gauge sets a gauge metric value
	Gauge(ctx context.Context, name string, value float64, tags map[string]string)

	// Histogram records a value in a histogram/distribution
	Histogram(ctx context.Context, name string, value float64, tags map[string]string)

	// Timing records a duration
	Timing(ctx context.Context, name string, duration time.Duration, tags map[string]string)

	// Flush ensures all metrics are sent (for buffered providers)
	Flush(ctx context.Context) error

	// Close shuts down the metrics provider
	Close(ctx context.Context) error
}

// Metrics provides a convenient wrapper for recording application metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	provider  MetricsProvider
	namespace string
}

// NewMetrics creates a new Metrics instance with the given provider.
func NewMetrics(provider MetricsProvider, namespace string) *Metrics {
	if provider == nil {
		provider = &NoopMetricsProvider{}
	}
	return &Metrics{
		provider:  provider,
		namespace: namespace,
	}
}

func (m *Metrics) prefixName(name string) string {
	if m.namespace == "" {
		return name
	}
	return m.namespace + "." + name
}

// HTTP metrics

func (m *Metrics) HTTPRequestTotal(ctx context.Context, method, path, status string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("http.requests.total"), 1, map[string]string{
		"method": method,
		"path":   path,
		"status": status,
	})
}

func (m *Metrics) HTTPRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	if m == nil {
		return
	}
	m.provider.Timing(ctx, m.prefixName("http.request.duration"), duration, map[string]string{
		"method": method,
		"path":   path,
	})
}

// Dispatcher metrics

// DispatchCycle records one poll cycle and how many jobs it handed out.
func (m *Metrics) DispatchCycle(ctx context.Context, dispatched int, duration time.Duration) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("dispatcher.cycles"), 1, nil)
	m.provider.Counter(ctx, m.prefixName("dispatcher.dispatched"), int64(dispatched), nil)
	m.provider.Timing(ctx, m.prefixName("dispatcher.cycle.duration"), duration, nil)
}

func (m *Metrics) DispatchCycleFailed(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("dispatcher.cycle.errors"), 1, map[string]string{
		"stage": stage,
	})
}

func (m *Metrics) ActiveJobs(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.provider.Gauge(ctx, m.prefixName("dispatcher.active_jobs"), float64(n), nil)
}

func (m *Metrics) StaleJobsFailed(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.provider.Counter(ctx, m.prefixName("dispatcher.stale_failed"), int64(count), nil)
}

// Delivery metrics

func (m *Metrics) DeliverySucceeded(ctx context.Context, method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("deliveries.succeeded"), 1, map[string]string{
		"method": method,
	})
	m.provider.Timing(ctx, m.prefixName("deliveries.duration"), duration, map[string]string{
		"method": method,
	})
}

func (m *Metrics) DeliveryFailed(ctx context.Context, method, reason string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("deliveries.failed"), 1, map[string]string{
		"method": method,
		"reason": reason,
	})
}

func (m *Metrics) DeliveryRetry(ctx context.Context, method string, attempt int) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("deliveries.retries"), 1, map[string]string{
		"method":  method,
		"attempt": strconv.Itoa(attempt),
	})
}

func (m *Metrics) DeliveryDeferred(ctx context.Context, method, reason string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("deliveries.deferred"), 1, map[string]string{
		"method": method,
		"reason": reason,
	})
}

func (m *Metrics) DeliverySkipped(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("deliveries.skipped"), 1, map[string]string{
		"status": status,
	})
}

func (m *Metrics) DuplicateSuppressed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("deliveries.duplicates"), 1, map[string]string{
		"method": method,
	})
}

func (m *Metrics) RateLimited(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("ratelimit.hits"), 1, map[string]string{
		"scope": scope,
	})
}

// Circuit breaker metrics

func (m *Metrics) CircuitBreakerStateChange(ctx context.Context, destination, state string) {
	if m == nil {
		return
	}
	stateValue := 0.0
	switch state {
	case "open":
		stateValue = 1
	case "half-open":
		stateValue = 0.5
	}
	m.provider.Gauge(ctx, m.prefixName("circuit_breaker.state"), stateValue, map[string]string{
		"destination": destination,
	})
}

func (m *Metrics) CircuitBreakerTrip(ctx context.Context, destination string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("circuit_breaker.trips"), 1, map[string]string{
		"destination": destination,
	})
}

// Audit metrics

// AttemptOutcome counts attempts as seen by the dispatcher, including
// executor errors that never reached the job store.
func (m *Metrics) AttemptOutcome(ctx context.Context, method, outcome string) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("attempts"), 1, map[string]string{
		"method":  method,
		"outcome": outcome,
	})
}

func (m *Metrics) AuditWriteFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("audit.write_errors"), 1, nil)
}

// Job store metrics

// JobsByStatus publishes the current row count per job status.
func (m *Metrics) JobsByStatus(ctx context.Context, pending, completed, failed int64) {
	if m == nil {
		return
	}
	name := m.prefixName("jobs.count")
	m.provider.Gauge(ctx, name, float64(pending), map[string]string{"status": "PENDING"})
	m.provider.Gauge(ctx, name, float64(completed), map[string]string{"status": "COMPLETED"})
	m.provider.Gauge(ctx, name, float64(failed), map[string]string{"status": "FAILED"})
}

func (m *Metrics) JobsCleanedUp(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.provider.Counter(ctx, m.prefixName("jobs.cleaned_up"), count, nil)
}

// Flush flushes all pending metrics.
func (m *Metrics) Flush(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Flush(ctx)
}

// Close shuts down the metrics provider.
func (m *Metrics) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Close(ctx)
}
