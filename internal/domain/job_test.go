package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewDeliveryJob(t *testing.T) {
	job := NewDeliveryJob(DeliveryMethodWebex, "room-123", ContentTypeMarkdown, "**weekly report**")

	if job.ID == uuid.Nil {
		t.Error("expected non-nil UUID")
	}
	if job.Status != JobStatusPending {
		t.Errorf("expected status %q, got %q", JobStatusPending, job.Status)
	}
	if job.Method != DeliveryMethodWebex {
		t.Errorf("expected method %q, got %q", DeliveryMethodWebex, job.Method)
	}
	if job.Destination != "room-123" {
		t.Errorf("expected destination room-123, got %q", job.Destination)
	}
	if job.RetryCount != 0 {
		t.Errorf("expected 0 retries, got %d", job.RetryCount)
	}
	if job.Error != nil {
		t.Error("expected nil error")
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestDeliveryJob_WithReport(t *testing.T) {
	reportID := uuid.New()
	job := NewDeliveryJob(DeliveryMethodWebex, "room", ContentTypeText, "hi")

	linked := job.WithReport(reportID)

	if linked.ReportID == nil || *linked.ReportID != reportID {
		t.Errorf("expected report id %v, got %v", reportID, linked.ReportID)
	}
	if job.ReportID != nil {
		t.Error("original job should be unchanged")
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusProcessing, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestDeliveryJob_IsStale(t *testing.T) {
	now := time.Now().UTC()
	threshold := 30 * time.Minute

	tests := []struct {
		name       string
		status     JobStatus
		age        time.Duration
		retryCount int
		want       bool
	}{
		{"old and exhausted", JobStatusPending, 31 * time.Minute, 3, true},
		{"old with retries left", JobStatusPending, 31 * time.Minute, 2, false},
		{"young and exhausted", JobStatusPending, 10 * time.Minute, 3, false},
		{"terminal", JobStatusFailed, 31 * time.Minute, 3, false},
		{"over exhausted", JobStatusPending, 2 * time.Hour, 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := DeliveryJob{
				Status:     tt.status,
				RetryCount: tt.retryCount,
				CreatedAt:  now.Add(-tt.age),
			}
			if got := job.IsStale(now, threshold, 3); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeliveryJob_IsDue(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	tests := []struct {
		name   string
		status JobStatus
		next   *time.Time
		want   bool
	}{
		{"never deferred", JobStatusPending, nil, true},
		{"deferral elapsed", JobStatusPending, &past, true},
		{"deferral exactly now", JobStatusPending, &now, true},
		{"deferred into future", JobStatusPending, &future, false},
		{"terminal", JobStatusCompleted, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := DeliveryJob{Status: tt.status, NextAttemptAt: tt.next}
			if got := job.IsDue(now); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeliveryJob_LastError(t *testing.T) {
	job := DeliveryJob{}
	if job.LastError() != "" {
		t.Errorf("expected empty error, got %q", job.LastError())
	}

	msg := "webex returned 500"
	job.Error = &msg
	if job.LastError() != msg {
		t.Errorf("expected %q, got %q", msg, job.LastError())
	}
}

func TestOutcomeFromResult(t *testing.T) {
	tests := []struct {
		name   string
		result DeliveryResult
		want   OutcomeKind
	}{
		{"success", NewSuccessResult("msg-1", 200, 12), OutcomeDelivered},
		{"failure", NewFailureResult(500, "server error", 40), OutcomeFailed},
		{"permanent failure", NewFailureResult(400, "bad room", 5).AsPermanent(), OutcomeFailed},
		{"deferred", NewDeferredResult("rate limited"), OutcomeDeferred},
		{"skipped", NewSkippedResult(JobStatusCompleted), OutcomeSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := OutcomeFromResult(DeliveryMethodWebex, tt.result, time.Second)
			if o.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", o.Kind, tt.want)
			}
			if o.Method != DeliveryMethodWebex {
				t.Errorf("Method = %q, want WEBEX", o.Method)
			}
			if o.At.IsZero() {
				t.Error("expected At to be set")
			}
		})
	}
}

func TestOutcomeFromError(t *testing.T) {
	o := OutcomeFromError(DeliveryMethodWebex, errors.New("store unreachable"), 2*time.Second)

	if o.Kind != OutcomeError {
		t.Errorf("Kind = %q, want %q", o.Kind, OutcomeError)
	}
	if o.Error != "store unreachable" {
		t.Errorf("Error = %q", o.Error)
	}
}

func TestNewDeliveryAttempt(t *testing.T) {
	jobID := uuid.New()
	outcome := Outcome{
		Kind:      OutcomeDelivered,
		Method:    DeliveryMethodWebex,
		MessageID: "msg-9",
		Duration:  1500 * time.Millisecond,
	}

	attempt := NewDeliveryAttempt(jobID, outcome)

	if attempt.ID == uuid.Nil {
		t.Error("expected attempt id")
	}
	if attempt.JobID != jobID {
		t.Errorf("JobID = %v, want %v", attempt.JobID, jobID)
	}
	if attempt.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", attempt.DurationMs)
	}
	if attempt.AttemptedAt.IsZero() {
		t.Error("expected AttemptedAt to default to now")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("destination", "is required")
	if err.Error() != "destination: is required" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
