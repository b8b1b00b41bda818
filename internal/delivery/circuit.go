package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/stiffinWanjohi/courier/internal/logging"
	"github.com/stiffinWanjohi/courier/internal/observability"
)

var circuitLog = logging.Component("circuit_breaker")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitConfig holds circuit breaker configuration.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open before closing.
	SuccessThreshold int
	// OpenDuration is how long to stay open before letting a trial send through.
	OpenDuration time.Duration
}

// DefaultCircuitConfig returns the default circuit breaker configuration.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenDuration:     5 * time.Minute,
	}
}

// CircuitNotifier is told when a destination's circuit trips or recovers.
type CircuitNotifier interface {
	NotifyCircuitTrip(ctx context.Context, destination string, failures int)
	NotifyCircuitRecover(ctx context.Context, destination string)
}

type circuit struct {
	state           CircuitState
	failures        int
	successes       int
	lastStateChange time.Time
	lastAccess      time.Time
}

// CircuitBreaker tracks Webex health per destination room or person, so one
// broken room does not consume retries for every job queued behind it.
type CircuitBreaker struct {
	config   CircuitConfig
	mu       sync.Mutex
	circuits map[string]*circuit
	ttl      time.Duration
	now      func() time.Time
	metrics  *observability.Metrics
	notifier CircuitNotifier
}

const defaultCircuitTTL = time.Hour

// NewCircuitBreaker creates a new circuit breaker manager.
func NewCircuitBreaker(config CircuitConfig) *CircuitBreaker {
	defaults := DefaultCircuitConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = defaults.OpenDuration
	}

	return &CircuitBreaker{
		config:   config,
		circuits: make(map[string]*circuit),
		ttl:      defaultCircuitTTL,
		now:      time.Now,
	}
}

// WithMetrics sets the metrics recorder.
func (cb *CircuitBreaker) WithMetrics(metrics *observability.Metrics) *CircuitBreaker {
	cb.metrics = metrics
	return cb
}

// WithNotifier sets who is told about trips and recoveries.
func (cb *CircuitBreaker) WithNotifier(notifier CircuitNotifier) *CircuitBreaker {
	cb.notifier = notifier
	return cb
}

// Allow reports whether a send to destination may proceed. An open circuit
// whose open duration has elapsed moves to half-open and lets the call through.
func (cb *CircuitBreaker) Allow(destination string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, exists := cb.circuits[destination]
	if !exists {
		return true
	}

	now := cb.now()
	c.lastAccess = now
	cb.maybeHalfOpen(destination, c, now)
	return c.state != CircuitOpen
}

// RecordSuccess records a successful send.
func (cb *CircuitBreaker) RecordSuccess(destination string) {
	cb.mu.Lock()

	c, exists := cb.circuits[destination]
	if !exists {
		cb.mu.Unlock()
		return
	}

	now := cb.now()
	c.lastAccess = now
	previous := c.state

	switch c.state {
	case CircuitHalfOpen:
		c.successes++
		if c.successes >= cb.config.SuccessThreshold {
			c.state = CircuitClosed
			c.failures = 0
			c.successes = 0
			c.lastStateChange = now
		}
	case CircuitClosed:
		c.failures = 0
	}

	recovered := previous == CircuitHalfOpen && c.state == CircuitClosed
	cb.mu.Unlock()

	if recovered {
		circuitLog.Info("circuit breaker recovered", "destination", destination)
		ctx := context.Background()
		cb.metrics.CircuitBreakerStateChange(ctx, destination, CircuitClosed.String())
		if cb.notifier != nil {
			cb.notifier.NotifyCircuitRecover(ctx, destination)
		}
	}
}

// RecordFailure records a failed send.
func (cb *CircuitBreaker) RecordFailure(destination string) {
	cb.mu.Lock()

	now := cb.now()
	c, exists := cb.circuits[destination]
	if !exists {
		c = &circuit{state: CircuitClosed, lastStateChange: now}
		cb.circuits[destination] = c
	}
	c.lastAccess = now
	previous := c.state

	switch c.state {
	case CircuitClosed:
		c.failures++
		if c.failures >= cb.config.FailureThreshold {
			c.state = CircuitOpen
			c.lastStateChange = now
		}
	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.successes = 0
		c.lastStateChange = now
	}

	tripped := previous != CircuitOpen && c.state == CircuitOpen
	failures := c.failures
	cb.mu.Unlock()

	if tripped {
		circuitLog.Warn("circuit breaker tripped",
			"destination", destination,
			"failures", failures,
			"open_duration", cb.config.OpenDuration,
		)
		ctx := context.Background()
		cb.metrics.CircuitBreakerTrip(ctx, destination)
		cb.metrics.CircuitBreakerStateChange(ctx, destination, CircuitOpen.String())
		if cb.notifier != nil {
			cb.notifier.NotifyCircuitTrip(ctx, destination, failures)
		}
	}
}

// State returns the current state of a destination's circuit.
func (cb *CircuitBreaker) State(destination string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, exists := cb.circuits[destination]
	if !exists {
		return CircuitClosed
	}
	cb.maybeHalfOpen(destination, c, cb.now())
	return c.state
}

// RetryAt returns when an open circuit will next let a send through.
// It returns the zero time for a circuit that is not open.
func (cb *CircuitBreaker) RetryAt(destination string) time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, exists := cb.circuits[destination]
	if !exists {
		return time.Time{}
	}
	cb.maybeHalfOpen(destination, c, cb.now())
	if c.state != CircuitOpen {
		return time.Time{}
	}
	return c.lastStateChange.Add(cb.config.OpenDuration)
}

// Reset forgets a destination's circuit.
func (cb *CircuitBreaker) Reset(destination string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, destination)
}

// Prune removes closed circuits idle for longer than the TTL and returns
// how many were dropped. The executor calls it from its own housekeeping.
func (cb *CircuitBreaker) Prune() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cutoff := cb.now().Add(-cb.ttl)
	removed := 0
	for dest, c := range cb.circuits {
		if c.state == CircuitClosed && c.lastAccess.Before(cutoff) {
			delete(cb.circuits, dest)
			removed++
		}
	}
	if removed > 0 {
		circuitLog.Debug("pruned idle circuits", "count", removed)
	}
	return removed
}

// Stats returns a snapshot of every tracked circuit.
func (cb *CircuitBreaker) Stats() map[string]CircuitInfo {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := make(map[string]CircuitInfo, len(cb.circuits))
	for dest, c := range cb.circuits {
		stats[dest] = CircuitInfo{
			State:           c.state.String(),
			Failures:        c.failures,
			Successes:       c.successes,
			LastStateChange: c.lastStateChange,
		}
	}
	return stats
}

// CircuitInfo describes a single circuit.
type CircuitInfo struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	LastStateChange time.Time `json:"last_state_change"`
}

// must hold cb.mu
func (cb *CircuitBreaker) maybeHalfOpen(destination string, c *circuit, now time.Time) {
	if c.state != CircuitOpen || now.Sub(c.lastStateChange) < cb.config.OpenDuration {
		return
	}
	c.state = CircuitHalfOpen
	c.successes = 0
	c.lastStateChange = now
	circuitLog.Info("circuit breaker half-open", "destination", destination)
}
