package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryResult is the outcome the executor reports for one job.
type DeliveryResult struct {
	Success   bool
	MessageID string
	Error     string

	// Deferred is set when the attempt was postponed without consuming a
	// retry (rate limit, open circuit). The job stays PENDING.
	Deferred bool

	// Skipped is set when the job was no longer pending when the executor
	// loaded it.
	Skipped bool

	// Permanent marks a failure that retrying cannot fix.
	Permanent bool

	StatusCode int
	DurationMs int64
}

// NewSuccessResult creates a successful delivery result.
func NewSuccessResult(messageID string, statusCode int, durationMs int64) DeliveryResult {
	return DeliveryResult{
		Success:    true,
		MessageID:  messageID,
		StatusCode: statusCode,
		DurationMs: durationMs,
	}
}

// NewFailureResult creates a failed delivery result.
func NewFailureResult(statusCode int, errMsg string, durationMs int64) DeliveryResult {
	return DeliveryResult{
		StatusCode: statusCode,
		Error:      errMsg,
		DurationMs: durationMs,
	}
}

// NewDeferredResult creates a result for an attempt postponed to a later cycle.
func NewDeferredResult(reason string) DeliveryResult {
	return DeliveryResult{Deferred: true, Error: reason}
}

// NewSkippedResult creates a result for a job that was not pending anymore.
func NewSkippedResult(status JobStatus) DeliveryResult {
	return DeliveryResult{Skipped: true, Error: "job is " + string(status)}
}

// AsPermanent marks the failure as non-retryable.
func (r DeliveryResult) AsPermanent() DeliveryResult {
	r.Permanent = true
	return r
}

// OutcomeKind classifies an attempt for the audit trail.
type OutcomeKind string

const (
	OutcomeDelivered OutcomeKind = "delivered"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeDeferred  OutcomeKind = "deferred"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeError     OutcomeKind = "error"
	OutcomeStale     OutcomeKind = "stale"
)

// Outcome is what the dispatcher hands to the audit sink after an attempt.
type Outcome struct {
	Kind      OutcomeKind
	Method    DeliveryMethod
	MessageID string
	Error     string
	Duration  time.Duration
	At        time.Time
}

// OutcomeFromResult converts an executor result into an audit outcome.
func OutcomeFromResult(method DeliveryMethod, result DeliveryResult, duration time.Duration) Outcome {
	o := Outcome{
		Method:    method,
		MessageID: result.MessageID,
		Error:     result.Error,
		Duration:  duration,
		At:        time.Now().UTC(),
	}
	switch {
	case result.Success:
		o.Kind = OutcomeDelivered
	case result.Skipped:
		o.Kind = OutcomeSkipped
	case result.Deferred:
		o.Kind = OutcomeDeferred
	default:
		o.Kind = OutcomeFailed
	}
	return o
}

// OutcomeFromError builds the outcome for an executor call that returned an error.
func OutcomeFromError(method DeliveryMethod, err error, duration time.Duration) Outcome {
	return Outcome{
		Kind:     OutcomeError,
		Method:   method,
		Error:    err.Error(),
		Duration: duration,
		At:       time.Now().UTC(),
	}
}

// DeliveryAttempt is a persisted audit record of one attempt.
type DeliveryAttempt struct {
	ID          uuid.UUID      `json:"id"`
	JobID       uuid.UUID      `json:"job_id"`
	Outcome     OutcomeKind    `json:"outcome"`
	Method      DeliveryMethod `json:"method"`
	MessageID   string         `json:"message_id,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	AttemptedAt time.Time      `json:"attempted_at"`
}

// NewDeliveryAttempt creates an audit record for the given outcome.
func NewDeliveryAttempt(jobID uuid.UUID, outcome Outcome) DeliveryAttempt {
	at := outcome.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return DeliveryAttempt{
		ID:          uuid.New(),
		JobID:       jobID,
		Outcome:     outcome.Kind,
		Method:      outcome.Method,
		MessageID:   outcome.MessageID,
		Error:       outcome.Error,
		DurationMs:  outcome.Duration.Milliseconds(),
		AttemptedAt: at,
	}
}
