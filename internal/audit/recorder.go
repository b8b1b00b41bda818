package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/courier/internal/domain"
	"github.com/stiffinWanjohi/courier/internal/logging"
	"github.com/stiffinWanjohi/courier/internal/observability"
)

var log = logging.Component("audit")

const writeTimeout = 5 * time.Second

// AttemptWriter persists attempt records.
type AttemptWriter interface {
	Insert(ctx context.Context, attempt domain.DeliveryAttempt) error
}

// Recorder is the dispatcher's audit sink. Outcomes are counted right away
// and written in the background; a failed write is logged and dropped.
type Recorder struct {
	writer  AttemptWriter
	metrics *observability.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder. A nil writer records metrics only.
func NewRecorder(writer AttemptWriter, metrics *observability.Metrics) *Recorder {
	return &Recorder{writer: writer, metrics: metrics}
}

// RecordOutcome records one attempt for jobID. It never blocks on the database.
func (r *Recorder) RecordOutcome(ctx context.Context, jobID uuid.UUID, outcome domain.Outcome) {
	r.metrics.AttemptOutcome(ctx, string(outcome.Method), string(outcome.Kind))

	if outcome.Kind == domain.OutcomeError || outcome.Kind == domain.OutcomeFailed {
		log.Debug("attempt recorded", "job_id", jobID, "outcome", outcome.Kind, "error", outcome.Error)
	}

	if r.writer == nil {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Warn("recorder closed, dropping attempt", "job_id", jobID, "outcome", outcome.Kind)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	attempt := domain.NewDeliveryAttempt(jobID, outcome)
	go func() {
		defer r.wg.Done()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()

		if err := r.writer.Insert(writeCtx, attempt); err != nil {
			r.metrics.AuditWriteFailed(writeCtx)
			log.Warn("failed to record delivery attempt", "job_id", jobID, "outcome", outcome.Kind, "error", err)
		}
	}()
}

// Close stops accepting outcomes and waits for pending writes.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
