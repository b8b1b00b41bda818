package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/stiffinWanjohi/courier/internal/domain"
	"github.com/stiffinWanjohi/courier/internal/logging"
	"github.com/stiffinWanjohi/courier/internal/observability"
)

var log = logging.Component("jobstore")

const (
	DefaultCleanupInterval = time.Hour
	DefaultRetentionPeriod = 30 * 24 * time.Hour
)

// TerminalCleaner is the part of the store the janitor needs.
type TerminalCleaner interface {
	Stats(ctx context.Context) (domain.StatusCounts, error)
	CleanupTerminal(ctx context.Context, olderThan time.Time) (int64, error)
}

// Pruner drops idle in-memory state, such as closed circuit breakers.
type Pruner interface {
	Prune() int
}

// JanitorConfig holds janitor configuration.
type JanitorConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// Janitor periodically deletes old COMPLETED and FAILED jobs and publishes
// the job count per status.
type Janitor struct {
	store   TerminalCleaner
	config  JanitorConfig
	metrics *observability.Metrics
	pruners []Pruner
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewJanitor creates a janitor. Zero config fields take the defaults.
func NewJanitor(store TerminalCleaner, config JanitorConfig) *Janitor {
	if config.Interval <= 0 {
		config.Interval = DefaultCleanupInterval
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetentionPeriod
	}
	return &Janitor{
		store:  store,
		config: config,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// WithMetrics sets the metrics recorder.
func (j *Janitor) WithMetrics(metrics *observability.Metrics) *Janitor {
	j.metrics = metrics
	return j
}

// WithPruner adds in-memory state to prune on every run.
func (j *Janitor) WithPruner(p Pruner) *Janitor {
	j.pruners = append(j.pruners, p)
	return j
}

// Start runs the janitor in the background until Stop or ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	log.Info("starting janitor", "interval", j.config.Interval, "retention", j.config.Retention)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-j.stopCh:
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	}()
}

// Stop signals the janitor to stop and waits for it. It is safe to call
// more than once.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

// RunOnce performs a single cleanup pass.
func (j *Janitor) RunOnce(ctx context.Context) {
	cutoff := j.now().Add(-j.config.Retention)
	deleted, err := j.store.CleanupTerminal(ctx, cutoff)
	if err != nil {
		log.Error("failed to clean up terminal jobs", "error", err)
	} else if deleted > 0 {
		j.metrics.JobsCleanedUp(ctx, deleted)
		log.Info("cleaned up terminal jobs", "count", deleted, "older_than", cutoff)
	}

	counts, err := j.store.Stats(ctx)
	if err != nil {
		log.Warn("failed to load job stats", "error", err)
	} else {
		j.metrics.JobsByStatus(ctx, counts.Pending, counts.Completed, counts.Failed)
	}

	for _, p := range j.pruners {
		p.Prune()
	}
}
