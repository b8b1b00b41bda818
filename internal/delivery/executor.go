// Package delivery performs the send for a single delivery job.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/courier/internal/domain"
	"github.com/stiffinWanjohi/courier/internal/logging"
	"github.com/stiffinWanjohi/courier/internal/notification"
	"github.com/stiffinWanjohi/courier/internal/observability"
	"github.com/stiffinWanjohi/courier/internal/webex"
)

var log = logging.Component("delivery")

// JobRepository is the part of the job store the executor writes to.
type JobRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.DeliveryJob, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, messageID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	RecordFailure(ctx context.Context, id uuid.UUID, message string, maxRetries int) (domain.DeliveryJob, error)
	Defer(ctx context.Context, id uuid.UUID, until time.Time) error
}

// Sender posts a rendered message to the channel.
type Sender interface {
	Send(ctx context.Context, msg webex.Message) (webex.SendResult, error)
}

// DeliveredGuard remembers which jobs were already sent.
type DeliveredGuard interface {
	Delivered(ctx context.Context, jobID uuid.UUID) (string, bool, error)
	MarkDelivered(ctx context.Context, jobID uuid.UUID, messageID string) error
}

// RoomLimiter bounds sends per destination.
type RoomLimiter interface {
	Allow(ctx context.Context, key string, limit int) bool
	Window() time.Duration
}

// FailureNotifier is told when a job reaches FAILED.
type FailureNotifier interface {
	NotifyDeliveryFailed(ctx context.Context, failure notification.DeliveryFailure)
}

// Config holds executor configuration.
type Config struct {
	// MaxRetries is the attempt count at which a failing job becomes FAILED.
	MaxRetries int
	// RoomRateLimit is the sends per second allowed per destination; 0 disables it.
	RoomRateLimit int
}

// Executor delivers one job per call. It is safe for concurrent use.
type Executor struct {
	jobs     JobRepository
	sender   Sender
	cards    *webex.CardValidator
	config   Config
	guard    DeliveredGuard
	limiter  RoomLimiter
	circuit  *CircuitBreaker
	notifier FailureNotifier
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	now      func() time.Time
}

// NewExecutor creates an executor. Optional collaborators are attached with
// the With methods; a nil one disables that step.
func NewExecutor(jobs JobRepository, sender Sender, cards *webex.CardValidator, config Config) *Executor {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	return &Executor{
		jobs:   jobs,
		sender: sender,
		cards:  cards,
		config: config,
		now:    time.Now,
	}
}

// WithGuard sets the duplicate-send guard.
func (e *Executor) WithGuard(guard DeliveredGuard) *Executor {
	e.guard = guard
	return e
}

// WithRoomLimiter sets the per-destination rate limiter.
func (e *Executor) WithRoomLimiter(limiter RoomLimiter) *Executor {
	e.limiter = limiter
	return e
}

// WithCircuitBreaker sets the per-destination circuit breaker.
func (e *Executor) WithCircuitBreaker(cb *CircuitBreaker) *Executor {
	e.circuit = cb
	return e
}

// WithNotifier sets who is told about terminal failures.
func (e *Executor) WithNotifier(notifier FailureNotifier) *Executor {
	e.notifier = notifier
	return e
}

// WithMetrics sets the metrics recorder.
func (e *Executor) WithMetrics(metrics *observability.Metrics) *Executor {
	e.metrics = metrics
	return e
}

// WithTracer sets the tracer.
func (e *Executor) WithTracer(tracer *observability.Tracer) *Executor {
	e.tracer = tracer
	return e
}

// CircuitBreaker returns the executor's circuit breaker, if any.
func (e *Executor) CircuitBreaker() *CircuitBreaker {
	return e.circuit
}

// Deliver sends the job with the given id. The returned result describes a
// business outcome that has already been persisted; a non-nil error means the
// attempt could not be carried out and the job row was left as it was.
func (e *Executor) Deliver(ctx context.Context, id uuid.UUID) (result domain.DeliveryResult, err error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanDelivery,
		observability.WithAttributes(map[string]any{observability.AttrJobID: id.String()}))
	defer func() {
		span.SetAttribute(observability.AttrDeliveryOutcome, outcomeLabel(result, err))
		observability.EndSpan(span, err)
	}()

	job, err := e.jobs.GetByID(ctx, id)
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("load job: %w", err)
	}
	method := string(job.Method)
	span.SetAttribute(observability.AttrMethod, method)
	span.SetAttribute(observability.AttrDestination, job.Destination)
	span.SetAttribute(observability.AttrRetryCount, job.RetryCount)
	if job.ReportID != nil {
		span.SetAttribute(observability.AttrReportID, job.ReportID.String())
	}

	if !job.IsPending() {
		log.Debug("job no longer pending", "job_id", id, "status", job.Status)
		e.metrics.DeliverySkipped(ctx, string(job.Status))
		return domain.NewSkippedResult(job.Status), nil
	}

	if job.Method != domain.DeliveryMethodWebex {
		return e.failPermanently(ctx, job, fmt.Errorf("%w: %s", domain.ErrUnsupportedMethod, job.Method), 0, 0)
	}

	if res, done, err := e.completeIfDelivered(ctx, job); done {
		return res, err
	}

	if e.circuit != nil && !e.circuit.Allow(job.Destination) {
		return e.deferJob(ctx, job, "circuit_open", domain.ErrCircuitOpen, e.circuit.RetryAt(job.Destination))
	}

	if e.limiter != nil && !e.limiter.Allow(ctx, "room:"+job.Destination, e.config.RoomRateLimit) {
		e.metrics.RateLimited(ctx, "room")
		return e.deferJob(ctx, job, "rate_limited", domain.ErrRateLimited, e.now().Add(e.limiter.Window()))
	}

	msg, err := webex.BuildMessage(job, e.cards)
	if err != nil {
		return e.failPermanently(ctx, job, err, 0, 0)
	}

	start := time.Now()
	sent, sendErr := e.sender.Send(ctx, msg)
	duration := time.Since(start)

	if sendErr != nil {
		if webex.IsPermanent(sendErr) {
			return e.failPermanently(ctx, job, sendErr, sent.StatusCode, duration.Milliseconds())
		}
		if wait := webex.RetryAfter(sendErr); wait > 0 {
			e.metrics.RateLimited(ctx, "webex")
			return e.deferJob(ctx, job, "retry_after", sendErr, e.now().Add(wait))
		}
		return e.recordRetryableFailure(ctx, job, sendErr, sent.StatusCode, duration)
	}

	if e.circuit != nil {
		e.circuit.RecordSuccess(job.Destination)
	}
	if e.guard != nil {
		if err := e.guard.MarkDelivered(ctx, job.ID, sent.MessageID); err != nil {
			log.Warn("failed to record delivered message", "job_id", id, "error", err)
		}
	}
	if err := e.jobs.MarkCompleted(ctx, job.ID, sent.MessageID); err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("mark completed after send: %w", err)
	}

	e.metrics.DeliverySucceeded(ctx, method, duration)
	log.Info("report delivered",
		"job_id", id,
		"destination", job.Destination,
		"message_id", sent.MessageID,
		"duration_ms", duration.Milliseconds(),
	)
	return domain.NewSuccessResult(sent.MessageID, sent.StatusCode, duration.Milliseconds()), nil
}

// completeIfDelivered finishes a job whose message was already sent by an
// earlier attempt that crashed before the status write.
func (e *Executor) completeIfDelivered(ctx context.Context, job domain.DeliveryJob) (domain.DeliveryResult, bool, error) {
	if e.guard == nil {
		return domain.DeliveryResult{}, false, nil
	}

	checkCtx, span := e.tracer.StartSpan(ctx, observability.SpanDuplicateCheck)
	messageID, found, err := e.guard.Delivered(checkCtx, job.ID)
	observability.EndSpan(span, err)
	if err != nil {
		log.Warn("duplicate check failed, sending anyway", "job_id", job.ID, "error", err)
		return domain.DeliveryResult{}, false, nil
	}
	if !found {
		return domain.DeliveryResult{}, false, nil
	}

	e.metrics.DuplicateSuppressed(ctx, string(job.Method))
	if err := e.jobs.MarkCompleted(ctx, job.ID, messageID); err != nil {
		if errors.Is(err, domain.ErrJobNotPending) {
			return domain.NewSkippedResult(domain.JobStatusFailed), true, nil
		}
		return domain.DeliveryResult{}, true, fmt.Errorf("complete already delivered job: %w", err)
	}

	log.Info("job already delivered, marked completed", "job_id", job.ID, "message_id", messageID)
	return domain.NewSuccessResult(messageID, 0, 0), true, nil
}

// deferJob keeps the job PENDING without spending a retry and hides it from
// the dispatcher until until, so jobs for other destinations get the slots.
func (e *Executor) deferJob(ctx context.Context, job domain.DeliveryJob, reason string, cause error, until time.Time) (domain.DeliveryResult, error) {
	if !until.IsZero() {
		err := e.jobs.Defer(ctx, job.ID, until)
		if errors.Is(err, domain.ErrJobNotPending) {
			return domain.NewSkippedResult(domain.JobStatusFailed), nil
		}
		if err != nil {
			return domain.DeliveryResult{}, fmt.Errorf("defer job: %w", err)
		}
	}

	e.metrics.DeliveryDeferred(ctx, string(job.Method), reason)
	log.Debug("delivery deferred",
		"job_id", job.ID,
		"destination", job.Destination,
		"reason", reason,
		"until", until,
	)
	return domain.NewDeferredResult(cause.Error()), nil
}

func (e *Executor) failPermanently(ctx context.Context, job domain.DeliveryJob, cause error, statusCode int, durationMs int64) (domain.DeliveryResult, error) {
	if err := e.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("mark failed: %w", err)
	}

	e.metrics.DeliveryFailed(ctx, string(job.Method), "permanent")
	log.Warn("delivery rejected permanently", "job_id", job.ID, "destination", job.Destination, "error", cause)
	e.notifyFailed(ctx, job, cause.Error(), job.RetryCount)

	return domain.NewFailureResult(statusCode, cause.Error(), durationMs).AsPermanent(), nil
}

func (e *Executor) recordRetryableFailure(ctx context.Context, job domain.DeliveryJob, cause error, statusCode int, duration time.Duration) (domain.DeliveryResult, error) {
	if e.circuit != nil {
		e.circuit.RecordFailure(job.Destination)
	}

	updated, err := e.jobs.RecordFailure(ctx, job.ID, cause.Error(), e.config.MaxRetries)
	if errors.Is(err, domain.ErrJobNotPending) {
		return domain.NewSkippedResult(domain.JobStatusFailed), nil
	}
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("record failure: %w", err)
	}

	method := string(job.Method)
	result := domain.NewFailureResult(statusCode, cause.Error(), duration.Milliseconds())
	if updated.Status == domain.JobStatusFailed {
		e.metrics.DeliveryFailed(ctx, method, "retries_exhausted")
		log.Warn("delivery failed, retries exhausted",
			"job_id", job.ID,
			"retry_count", updated.RetryCount,
			"error", cause,
		)
		e.notifyFailed(ctx, updated, cause.Error(), updated.RetryCount)
		return result, nil
	}

	e.metrics.DeliveryRetry(ctx, method, updated.RetryCount)
	log.Info("delivery failed, will retry",
		"job_id", job.ID,
		"retry_count", updated.RetryCount,
		"max_retries", e.config.MaxRetries,
		"error", cause,
	)
	return result, nil
}

func (e *Executor) notifyFailed(ctx context.Context, job domain.DeliveryJob, reason string, attempts int) {
	if e.notifier == nil {
		return
	}
	failure := notification.DeliveryFailure{
		JobID:       job.ID.String(),
		Method:      string(job.Method),
		Destination: job.Destination,
		Error:       reason,
		RetryCount:  attempts,
	}
	if job.ReportID != nil {
		failure.ReportID = job.ReportID.String()
	}
	e.notifier.NotifyDeliveryFailed(ctx, failure)
}

func outcomeLabel(result domain.DeliveryResult, err error) string {
	if err != nil {
		return string(domain.OutcomeError)
	}
	return string(domain.OutcomeFromResult("", result, 0).Kind)
}
