package dispatcher

import (
	"context"

	"github.com/stiffinWanjohi/courier/internal/domain"
	"github.com/stiffinWanjohi/courier/internal/notification"
	"github.com/stiffinWanjohi/courier/internal/observability"
)

// reconcile fails PENDING jobs older than StaleThreshold that have already
// used all their retries. Jobs below MaxRetries are never picked up here.
func (d *Dispatcher) reconcile(ctx context.Context) {
	ctx, span := d.tracer.StartSpan(ctx, observability.SpanReconcileStale)
	var err error
	defer func() { observability.EndSpan(span, err) }()

	now := d.now()
	cutoff := now.Add(-d.config.StaleThreshold)

	var stale []domain.DeliveryJob
	stale, err = d.store.FetchStale(ctx, d.config.Method, cutoff, d.config.MaxRetries)
	if err != nil {
		log.Error("failed to fetch stale jobs", "error", err)
		d.metrics.DispatchCycleFailed(ctx, "fetch_stale")
		return
	}
	span.SetAttribute(observability.AttrFetched, len(stale))

	failed := 0
	reason := domain.ErrStaleJob.Error()
	for _, job := range stale {
		if d.isInFlight(job.ID) || !job.IsStale(now, d.config.StaleThreshold, d.config.MaxRetries) {
			continue
		}
		if markErr := d.store.MarkFailed(ctx, job.ID, reason); markErr != nil {
			log.Error("failed to mark stale job failed", "job_id", job.ID, "error", markErr)
			continue
		}
		failed++

		log.Warn("stale job marked failed",
			"job_id", job.ID,
			"created_at", job.CreatedAt,
			"retry_count", job.RetryCount,
		)
		d.record(ctx, job.ID, domain.Outcome{
			Kind:   domain.OutcomeStale,
			Method: job.Method,
			Error:  reason,
			At:     now.UTC(),
		})
		d.notifyStale(ctx, job, reason)
	}

	d.metrics.StaleJobsFailed(ctx, failed)
}

func (d *Dispatcher) notifyStale(ctx context.Context, job domain.DeliveryJob, reason string) {
	if d.notifier == nil {
		return
	}
	failure := notification.DeliveryFailure{
		JobID:       job.ID.String(),
		Method:      string(job.Method),
		Destination: job.Destination,
		Error:       reason,
		RetryCount:  job.RetryCount,
	}
	if job.ReportID != nil {
		failure.ReportID = job.ReportID.String()
	}
	d.notifier.NotifyDeliveryFailed(ctx, failure)
}
