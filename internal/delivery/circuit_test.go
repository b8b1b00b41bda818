package delivery

import (
	"context"
	"sync"
	"testing"
	"time"
)

type circuitEvents struct {
	mu       sync.Mutex
	trips    []string
	recovers []string
}

func (c *circuitEvents) NotifyCircuitTrip(_ context.Context, destination string, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trips = append(c.trips, destination)
}

func (c *circuitEvents) NotifyCircuitRecover(_ context.Context, destination string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recovers = append(c.recovers, destination)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCircuit(cfg CircuitConfig) (*CircuitBreaker, *fakeClock, *circuitEvents) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	events := &circuitEvents{}
	cb := NewCircuitBreaker(cfg).WithNotifier(events)
	cb.now = clock.now
	return cb, clock, events
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("CircuitState(%d).String() = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestNewCircuitBreaker_FillsDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{})
	if cb.config != DefaultCircuitConfig() {
		t.Errorf("config = %+v, want defaults", cb.config)
	}
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb, _, events := newTestCircuit(CircuitConfig{FailureThreshold: 3, SuccessThreshold: 1, OpenDuration: time.Minute})

	for i := 0; i < 2; i++ {
		cb.RecordFailure("room-1")
	}
	if !cb.Allow("room-1") {
		t.Fatal("expected circuit to stay closed below threshold")
	}

	cb.RecordFailure("room-1")
	if cb.Allow("room-1") {
		t.Fatal("expected circuit to be open at threshold")
	}
	if len(events.trips) != 1 || events.trips[0] != "room-1" {
		t.Errorf("expected one trip notification, got %v", events.trips)
	}

	if !cb.Allow("room-2") {
		t.Error("other destinations must not be affected")
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _, _ := newTestCircuit(CircuitConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenDuration: time.Minute})

	cb.RecordFailure("room-1")
	cb.RecordSuccess("room-1")
	cb.RecordFailure("room-1")

	if cb.State("room-1") != CircuitClosed {
		t.Errorf("state = %v, want closed", cb.State("room-1"))
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock, events := newTestCircuit(CircuitConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenDuration: time.Minute})

	cb.RecordFailure("room-1")
	clock.advance(59 * time.Second)
	if cb.Allow("room-1") {
		t.Fatal("expected circuit still open before open duration")
	}

	clock.advance(time.Second)
	if !cb.Allow("room-1") {
		t.Fatal("expected a trial send to be allowed after open duration")
	}
	if cb.State("room-1") != CircuitHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State("room-1"))
	}

	cb.RecordSuccess("room-1")
	if cb.State("room-1") != CircuitHalfOpen {
		t.Fatal("expected half-open until success threshold")
	}
	cb.RecordSuccess("room-1")
	if cb.State("room-1") != CircuitClosed {
		t.Fatalf("state = %v, want closed", cb.State("room-1"))
	}
	if len(events.recovers) != 1 {
		t.Errorf("expected one recover notification, got %d", len(events.recovers))
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock, events := newTestCircuit(CircuitConfig{FailureThreshold: 1, SuccessThreshold: 1, OpenDuration: time.Minute})

	cb.RecordFailure("room-1")
	clock.advance(time.Minute)
	cb.Allow("room-1")
	cb.RecordFailure("room-1")

	if cb.State("room-1") != CircuitOpen {
		t.Errorf("state = %v, want open", cb.State("room-1"))
	}
	if len(events.trips) != 2 {
		t.Errorf("expected a trip per opening, got %d", len(events.trips))
	}
}

func TestCircuitBreaker_RetryAt(t *testing.T) {
	cb, clock, _ := newTestCircuit(CircuitConfig{FailureThreshold: 1, OpenDuration: time.Minute})

	if got := cb.RetryAt("room-1"); !got.IsZero() {
		t.Fatalf("RetryAt for unknown room = %v, want zero", got)
	}

	opened := clock.t
	cb.RecordFailure("room-1")
	clock.advance(20 * time.Second)
	if got, want := cb.RetryAt("room-1"), opened.Add(time.Minute); !got.Equal(want) {
		t.Errorf("RetryAt = %v, want %v", got, want)
	}

	clock.advance(40 * time.Second)
	if got := cb.RetryAt("room-1"); !got.IsZero() {
		t.Errorf("RetryAt after open duration = %v, want zero", got)
	}
}

func TestCircuitBreaker_PruneAndReset(t *testing.T) {
	cb, clock, _ := newTestCircuit(CircuitConfig{FailureThreshold: 5})

	cb.RecordFailure("idle")
	cb.RecordFailure("busy")
	clock.advance(2 * time.Hour)
	cb.RecordFailure("busy")

	if removed := cb.Prune(); removed != 1 {
		t.Errorf("Prune() = %d, want 1", removed)
	}
	stats := cb.Stats()
	if _, ok := stats["idle"]; ok {
		t.Error("idle circuit should have been pruned")
	}
	if stats["busy"].Failures != 2 {
		t.Errorf("busy failures = %d, want 2", stats["busy"].Failures)
	}

	cb.Reset("busy")
	if len(cb.Stats()) != 0 {
		t.Error("expected no circuits after reset")
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				cb.RecordFailure("room-1")
			} else {
				cb.RecordSuccess("room-1")
			}
			cb.Allow("room-1")
		}(i)
	}
	wg.Wait()
}
