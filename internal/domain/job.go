package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the persisted state of a delivery job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"

	// JobStatusProcessing is never written to the store. It only describes
	// a job held in a dispatcher's in-flight set.
	JobStatusProcessing JobStatus = "PROCESSING"
)

// IsTerminal returns true if no further delivery will be attempted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// DeliveryMethod is the channel a job is delivered through. Rows may carry
// other tags; only WEBEX is polled and delivered.
type DeliveryMethod string

const DeliveryMethodWebex DeliveryMethod = "WEBEX"

// ContentType describes how a job's content is rendered by the channel.
type ContentType string

const (
	ContentTypeMarkdown     ContentType = "markdown"
	ContentTypeText         ContentType = "text"
	ContentTypeAdaptiveCard ContentType = "adaptive_card"
)

// DeliveryJob is one unit of outbound delivery work.
type DeliveryJob struct {
	ID          uuid.UUID
	ReportID    *uuid.UUID
	Status      JobStatus
	Method      DeliveryMethod
	Destination string
	ContentType ContentType
	Content     string
	RetryCount  int
	Error       *string
	MessageID   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	// NextAttemptAt hides a deferred job from the dispatcher until it passes.
	NextAttemptAt *time.Time
}

// NewDeliveryJob creates a pending job for the given channel and destination.
func NewDeliveryJob(method DeliveryMethod, destination string, contentType ContentType, content string) DeliveryJob {
	now := time.Now().UTC()
	return DeliveryJob{
		ID:          uuid.New(),
		Status:      JobStatusPending,
		Method:      method,
		Destination: destination,
		ContentType: contentType,
		Content:     content,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithReport links the job to the report it delivers.
func (j DeliveryJob) WithReport(reportID uuid.UUID) DeliveryJob {
	j.ReportID = &reportID
	return j
}

// IsPending returns true if the job is eligible for dispatch.
func (j DeliveryJob) IsPending() bool {
	return j.Status == JobStatusPending
}

// IsDue reports whether a pending job may be dispatched at now.
func (j DeliveryJob) IsDue(now time.Time) bool {
	return j.IsPending() && (j.NextAttemptAt == nil || !j.NextAttemptAt.After(now))
}

// IsStale returns true if the job has been pending longer than threshold
// and has no retries left.
func (j DeliveryJob) IsStale(now time.Time, threshold time.Duration, maxRetries int) bool {
	return j.IsPending() && j.CreatedAt.Before(now.Add(-threshold)) && j.RetryCount >= maxRetries
}

// LastError returns the last failure reason or an empty string.
func (j DeliveryJob) LastError() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// StatusCounts holds the number of jobs per persisted status.
type StatusCounts struct {
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
