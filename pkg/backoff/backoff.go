// Package backoff retries startup operations such as connecting to
// PostgreSQL or Redis while those services come up.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Schedule is the default wait before each retry.
var Schedule = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Calculator computes waits with optional jitter.
type Calculator struct {
	schedule    []time.Duration
	jitterRatio float64
}

// NewCalculator creates a calculator with the default schedule and 10% jitter.
func NewCalculator() *Calculator {
	return &Calculator{
		schedule:    Schedule,
		jitterRatio: 0.1,
	}
}

// WithSchedule returns a copy using schedule.
func (c *Calculator) WithSchedule(schedule []time.Duration) *Calculator {
	return &Calculator{schedule: schedule, jitterRatio: c.jitterRatio}
}

// WithJitter returns a copy with the given jitter ratio (0.0 to 1.0).
func (c *Calculator) WithJitter(ratio float64) *Calculator {
	return &Calculator{schedule: c.schedule, jitterRatio: ratio}
}

// Duration returns the wait after the given failed attempt (1-indexed).
// Attempts past the end of the schedule reuse its last entry.
func (c *Calculator) Duration(attempt int) time.Duration {
	if len(c.schedule) == 0 {
		return 0
	}
	index := min(max(attempt, 1), len(c.schedule)) - 1
	return c.addJitter(c.schedule[index])
}

func (c *Calculator) addJitter(d time.Duration) time.Duration {
	if c.jitterRatio <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * float64(d) * c.jitterRatio
	return time.Duration(float64(d) + delta)
}

// Retry calls fn up to attempts times, waiting between failures. It returns
// nil on the first success, the last error once attempts are used up, or
// the context error if ctx ends while waiting. onRetry may be nil.
func (c *Calculator) Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	attempts = max(attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		wait := c.Duration(attempt)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
