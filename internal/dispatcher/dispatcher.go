// Package dispatcher polls the job table for pending deliveries and runs a
// bounded number of them concurrently.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/courier/internal/domain"
	"github.com/stiffinWanjohi/courier/internal/logging"
	"github.com/stiffinWanjohi/courier/internal/notification"
	"github.com/stiffinWanjohi/courier/internal/observability"
)

var log = logging.Component("dispatcher")

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultMaxConcurrent  = 3
	DefaultStaleThreshold = 30 * time.Minute
	DefaultMaxRetries     = 3
	DefaultDrainTimeout   = 30 * time.Second

	drainCheckInterval = time.Second
)

// JobStore is the slice of the job table the dispatcher reads and writes.
type JobStore interface {
	FetchPending(ctx context.Context, method domain.DeliveryMethod, limit int) ([]domain.DeliveryJob, error)
	FetchStale(ctx context.Context, method domain.DeliveryMethod, olderThan time.Time, minRetryCount int) ([]domain.DeliveryJob, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
}

// Executor performs one delivery. A returned error counts as a failed attempt
// and leaves the job row alone.
type Executor interface {
	Deliver(ctx context.Context, id uuid.UUID) (domain.DeliveryResult, error)
}

// AuditSink receives the outcome of every attempt. It must not block.
type AuditSink interface {
	RecordOutcome(ctx context.Context, jobID uuid.UUID, outcome domain.Outcome)
}

// FailureNotifier is told about jobs failed by stale reconciliation.
type FailureNotifier interface {
	NotifyDeliveryFailed(ctx context.Context, failure notification.DeliveryFailure)
}

// Config holds dispatcher configuration. Zero fields take the defaults.
type Config struct {
	Method         domain.DeliveryMethod
	PollInterval   time.Duration
	MaxConcurrent  int
	StaleThreshold time.Duration
	MaxRetries     int
	DrainTimeout   time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Method:         domain.DeliveryMethodWebex,
		PollInterval:   DefaultPollInterval,
		MaxConcurrent:  DefaultMaxConcurrent,
		StaleThreshold: DefaultStaleThreshold,
		MaxRetries:     DefaultMaxRetries,
		DrainTimeout:   DefaultDrainTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Method == "" {
		c.Method = d.Method
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = d.StaleThreshold
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	Running    bool `json:"running"`
	ActiveJobs int  `json:"active_jobs"`
}

// Dispatcher owns the poll loop, the concurrency budget and the set of
// jobs currently being delivered.
type Dispatcher struct {
	store    JobStore
	executor Executor
	audit    AuditSink
	config   Config
	notifier FailureNotifier
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	now        func() time.Time
	drainCheck time.Duration

	mu       sync.Mutex
	running  bool
	inFlight map[uuid.UUID]struct{}
	stopCh   chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// New creates a dispatcher. audit may be nil.
func New(store JobStore, executor Executor, audit AuditSink, config Config) *Dispatcher {
	return &Dispatcher{
		store:      store,
		executor:   executor,
		audit:      audit,
		config:     config.withDefaults(),
		now:        time.Now,
		drainCheck: drainCheckInterval,
		inFlight:   make(map[uuid.UUID]struct{}),
	}
}

// WithMetrics sets the metrics recorder.
func (d *Dispatcher) WithMetrics(metrics *observability.Metrics) *Dispatcher {
	d.metrics = metrics
	return d
}

// WithTracer sets the tracer.
func (d *Dispatcher) WithTracer(tracer *observability.Tracer) *Dispatcher {
	d.tracer = tracer
	return d
}

// WithNotifier sets who is told about jobs failed as stale.
func (d *Dispatcher) WithNotifier(notifier FailureNotifier) *Dispatcher {
	d.notifier = notifier
	return d
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.config
}

// Start runs one poll cycle right away and then one every PollInterval.
// It returns immediately. Calling Start on a running dispatcher does nothing.
// Canceling ctx stops polling only; Stop must still be called to drain
// in-flight deliveries.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		log.Warn("dispatcher already running")
		return
	}
	d.running = true
	previous := d.loopDone
	d.stopCh = make(chan struct{})
	d.loopDone = make(chan struct{})
	stopCh, loopDone := d.stopCh, d.loopDone
	d.mu.Unlock()

	log.Info("starting dispatcher",
		"method", d.config.Method,
		"poll_interval", d.config.PollInterval,
		"max_concurrent", d.config.MaxConcurrent,
		"stale_threshold", d.config.StaleThreshold,
		"max_retries", d.config.MaxRetries,
	)

	go func() {
		// A loop left behind by a Stop that timed out finishes its cycle first.
		if previous != nil {
			<-previous
		}
		d.loop(ctx, stopCh, loopDone)
	}()
}

// Stop halts polling and waits up to DrainTimeout for in-flight deliveries
// to finish. Deliveries still running after that are left to complete on
// their own. Calling Stop on a stopped dispatcher does nothing.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	loopDone := d.loopDone
	d.mu.Unlock()

	log.Info("stopping dispatcher", "active", d.activeCount())

	deadline := time.Now().Add(d.config.DrainTimeout)
	select {
	case <-loopDone:
	case <-time.After(d.config.DrainTimeout):
	}

	ticker := time.NewTicker(d.drainCheck)
	defer ticker.Stop()
	for {
		active := d.activeCount()
		if active == 0 {
			log.Info("dispatcher stopped")
			return
		}
		if !time.Now().Before(deadline) {
			log.Warn("drain timeout reached, leaving deliveries running",
				"active", active,
				"drain_timeout", d.config.DrainTimeout,
			)
			return
		}
		log.Debug("waiting for in-flight deliveries", "active", active)
		<-ticker.C
	}
}

// Wait blocks until every delivery goroutine has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Status returns whether the dispatcher is running and how many jobs it is
// delivering right now.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{Running: d.running, ActiveJobs: len(d.inFlight)}
}

func (d *Dispatcher) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	d.cycle(ctx)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			log.Info("context canceled, poll loop exiting")
			return
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

// cycle fetches as many pending jobs as there are free slots, dispatches
// them, then reconciles stale jobs.
func (d *Dispatcher) cycle(ctx context.Context) {
	d.mu.Lock()
	running := d.running
	free := d.config.MaxConcurrent - len(d.inFlight)
	d.mu.Unlock()
	if !running {
		return
	}

	start := time.Now()
	ctx, span := d.tracer.StartSpan(ctx, observability.SpanDispatchCycle,
		observability.WithAttributes(map[string]any{observability.AttrFreeSlots: free}))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	dispatched := 0
	if free > 0 {
		var jobs []domain.DeliveryJob
		jobs, err = d.store.FetchPending(ctx, d.config.Method, free)
		if err != nil {
			log.Error("failed to fetch pending jobs", "error", err)
			d.metrics.DispatchCycleFailed(ctx, "fetch_pending")
			return
		}
		span.SetAttribute(observability.AttrFetched, len(jobs))

		now := d.now()
		for _, job := range jobs {
			if !job.IsDue(now) {
				continue
			}
			if d.dispatch(ctx, job) {
				dispatched++
			}
		}
	}

	d.reconcile(ctx)

	active := d.activeCount()
	d.metrics.DispatchCycle(ctx, dispatched, time.Since(start))
	d.metrics.ActiveJobs(ctx, active)
	if dispatched > 0 {
		log.Debug("dispatched jobs", "count", dispatched, "active", active)
	}
}

// dispatch claims a slot for job and delivers it in the background. It
// returns false when the job is already in flight, the budget is spent or
// the dispatcher is stopping.
func (d *Dispatcher) dispatch(ctx context.Context, job domain.DeliveryJob) bool {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return false
	}
	if _, busy := d.inFlight[job.ID]; busy {
		d.mu.Unlock()
		log.Debug("job already in flight", "job_id", job.ID)
		return false
	}
	if len(d.inFlight) >= d.config.MaxConcurrent {
		d.mu.Unlock()
		return false
	}
	d.inFlight[job.ID] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(context.WithoutCancel(ctx), job)
	return true
}

func (d *Dispatcher) run(ctx context.Context, job domain.DeliveryJob) {
	defer d.wg.Done()
	defer d.release(job.ID)

	outcome := d.execute(ctx, job)
	d.record(ctx, job.ID, outcome)
}

func (d *Dispatcher) execute(ctx context.Context, job domain.DeliveryJob) (outcome domain.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("delivery panicked", "job_id", job.ID, "panic", r)
			outcome = domain.OutcomeFromError(job.Method, fmt.Errorf("panic: %v", r), time.Since(start))
		}
	}()

	result, err := d.executor.Deliver(ctx, job.ID)
	if err != nil {
		log.Error("delivery attempt errored", "job_id", job.ID, "error", err)
		return domain.OutcomeFromError(job.Method, err, time.Since(start))
	}
	return domain.OutcomeFromResult(job.Method, result, time.Since(start))
}

func (d *Dispatcher) record(ctx context.Context, id uuid.UUID, outcome domain.Outcome) {
	if d.audit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("audit sink panicked", "job_id", id, "panic", r)
		}
	}()
	d.audit.RecordOutcome(ctx, id, outcome)
}

func (d *Dispatcher) release(id uuid.UUID) {
	d.mu.Lock()
	delete(d.inFlight, id)
	d.mu.Unlock()
}

func (d *Dispatcher) isInFlight(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[id]
	return ok
}

func (d *Dispatcher) activeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}
