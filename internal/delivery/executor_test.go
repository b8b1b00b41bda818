package delivery

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/courier/internal/domain"
	"github.com/stiffinWanjohi/courier/internal/notification"
	"github.com/stiffinWanjohi/courier/internal/webex"
)

type memoryJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.DeliveryJob
}

func newMemoryJobs(jobs ...domain.DeliveryJob) *memoryJobs {
	m := &memoryJobs{jobs: make(map[uuid.UUID]domain.DeliveryJob)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memoryJobs) get(id uuid.UUID) domain.DeliveryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func (m *memoryJobs) GetByID(_ context.Context, id uuid.UUID) (domain.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.DeliveryJob{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (m *memoryJobs) MarkCompleted(_ context.Context, id uuid.UUID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[id]
	if job.Status != domain.JobStatusPending {
		return domain.ErrJobNotPending
	}
	job.Status = domain.JobStatusCompleted
	job.MessageID = &messageID
	m.jobs[id] = job
	return nil
}

func (m *memoryJobs) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[id]
	if job.Status == domain.JobStatusPending {
		job.Status = domain.JobStatusFailed
		job.Error = &reason
		m.jobs[id] = job
	}
	return nil
}

func (m *memoryJobs) RecordFailure(_ context.Context, id uuid.UUID, message string, maxRetries int) (domain.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[id]
	if job.Status != domain.JobStatusPending {
		return domain.DeliveryJob{}, domain.ErrJobNotPending
	}
	job.RetryCount++
	job.Error = &message
	if job.RetryCount >= maxRetries {
		job.Status = domain.JobStatusFailed
	}
	m.jobs[id] = job
	return job, nil
}

func (m *memoryJobs) Defer(_ context.Context, id uuid.UUID, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[id]
	if job.Status != domain.JobStatusPending {
		return domain.ErrJobNotPending
	}
	job.NextAttemptAt = &until
	m.jobs[id] = job
	return nil
}

type fakeSender struct {
	mu     sync.Mutex
	calls  []webex.Message
	result webex.SendResult
	err    error
}

func (f *fakeSender) Send(_ context.Context, msg webex.Message) (webex.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	return f.result, f.err
}

func (f *fakeSender) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeGuard struct {
	delivered map[uuid.UUID]string
	err       error
}

func (g *fakeGuard) Delivered(_ context.Context, id uuid.UUID) (string, bool, error) {
	if g.err != nil {
		return "", false, g.err
	}
	msg, ok := g.delivered[id]
	return msg, ok, nil
}

func (g *fakeGuard) MarkDelivered(_ context.Context, id uuid.UUID, messageID string) error {
	if _, ok := g.delivered[id]; !ok {
		g.delivered[id] = messageID
	}
	return nil
}

type fakeLimiter struct{ allow bool }

func (l fakeLimiter) Allow(context.Context, string, int) bool { return l.allow }

func (l fakeLimiter) Window() time.Duration { return 2 * time.Second }

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	failures []notification.DeliveryFailure
}

func (r *recordingNotifier) NotifyDeliveryFailed(_ context.Context, f notification.DeliveryFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func pendingJob() domain.DeliveryJob {
	return domain.NewDeliveryJob(domain.DeliveryMethodWebex, "room-1", domain.ContentTypeMarkdown, "**weekly**")
}

func newTestExecutor(t *testing.T, jobs *memoryJobs, sender *fakeSender) *Executor {
	t.Helper()
	cards, err := webex.NewCardValidator()
	require.NoError(t, err)
	exec := NewExecutor(jobs, sender, cards, Config{MaxRetries: 3})
	exec.now = func() time.Time { return fixedNow }
	return exec
}

func TestExecutor_Deliver_Success(t *testing.T) {
	job := pendingJob()
	jobs := newMemoryJobs(job)
	sender := &fakeSender{result: webex.SendResult{MessageID: "msg-1", StatusCode: http.StatusOK}}
	guard := &fakeGuard{delivered: map[uuid.UUID]string{}}

	exec := newTestExecutor(t, jobs, sender).WithGuard(guard)
	result, err := exec.Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "msg-1", result.MessageID)
	assert.Equal(t, domain.JobStatusCompleted, jobs.get(job.ID).Status)
	assert.Equal(t, "msg-1", guard.delivered[job.ID])
	require.Len(t, sender.calls, 1)
	assert.Equal(t, "room-1", sender.calls[0].RoomID)
	assert.Equal(t, "**weekly**", sender.calls[0].Markdown)
}

func TestExecutor_Deliver_NotFound(t *testing.T) {
	exec := newTestExecutor(t, newMemoryJobs(), &fakeSender{})

	_, err := exec.Deliver(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestExecutor_Deliver_SkipsTerminalJob(t *testing.T) {
	job := pendingJob()
	job.Status = domain.JobStatusCompleted
	sender := &fakeSender{}

	result, err := newTestExecutor(t, newMemoryJobs(job), sender).Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, sender.sent())
}

func TestExecutor_Deliver_AlreadyDeliveredIsNotResent(t *testing.T) {
	job := pendingJob()
	jobs := newMemoryJobs(job)
	sender := &fakeSender{}
	guard := &fakeGuard{delivered: map[uuid.UUID]string{job.ID: "msg-earlier"}}

	result, err := newTestExecutor(t, jobs, sender).WithGuard(guard).Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "msg-earlier", result.MessageID)
	assert.Zero(t, sender.sent())
	assert.Equal(t, domain.JobStatusCompleted, jobs.get(job.ID).Status)
}

func TestExecutor_Deliver_GuardErrorFailsOpen(t *testing.T) {
	job := pendingJob()
	sender := &fakeSender{result: webex.SendResult{MessageID: "msg-1"}}
	guard := &fakeGuard{delivered: map[uuid.UUID]string{}, err: errors.New("redis down")}

	result, err := newTestExecutor(t, newMemoryJobs(job), sender).WithGuard(guard).Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, sender.sent())
}

func TestExecutor_Deliver_RoomRateLimitDefers(t *testing.T) {
	job := pendingJob()
	jobs := newMemoryJobs(job)
	sender := &fakeSender{}

	exec := newTestExecutor(t, jobs, sender).WithRoomLimiter(fakeLimiter{allow: false})
	result, err := exec.Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.True(t, result.Deferred)
	assert.Zero(t, sender.sent())

	stored := jobs.get(job.ID)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Zero(t, stored.RetryCount)
	require.NotNil(t, stored.NextAttemptAt)
	assert.Equal(t, fixedNow.Add(2*time.Second), *stored.NextAttemptAt)
}

func TestExecutor_Deliver_OpenCircuitDefers(t *testing.T) {
	job := pendingJob()
	jobs := newMemoryJobs(job)
	sender := &fakeSender{}
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 1, OpenDuration: time.Hour})
	tripped := fixedNow.Add(-10 * time.Minute)
	cb.now = func() time.Time { return tripped }
	cb.RecordFailure(job.Destination)
	cb.now = func() time.Time { return fixedNow }

	result, err := newTestExecutor(t, jobs, sender).WithCircuitBreaker(cb).Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.True(t, result.Deferred)
	assert.Zero(t, sender.sent())

	stored := jobs.get(job.ID)
	assert.Zero(t, stored.RetryCount)
	require.NotNil(t, stored.NextAttemptAt)
	assert.Equal(t, tripped.Add(time.Hour), *stored.NextAttemptAt)
}

func TestExecutor_Deliver_RetryAfterDefersWithoutSpendingRetry(t *testing.T) {
	job := pendingJob()
	jobs := newMemoryJobs(job)
	sender := &fakeSender{
		result: webex.SendResult{StatusCode: http.StatusTooManyRequests},
		err:    &webex.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: 45 * time.Second},
	}
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 1, OpenDuration: time.Hour})

	result, err := newTestExecutor(t, jobs, sender).WithCircuitBreaker(cb).Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.True(t, result.Deferred)
	assert.False(t, result.Permanent)
	assert.Equal(t, 1, sender.sent())
	assert.Equal(t, CircuitClosed, cb.State(job.Destination))

	stored := jobs.get(job.ID)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Zero(t, stored.RetryCount)
	require.NotNil(t, stored.NextAttemptAt)
	assert.Equal(t, fixedNow.Add(45*time.Second), *stored.NextAttemptAt)
}

func TestExecutor_Deliver_TooManyRequestsWithoutRetryAfterCountsAsRetry(t *testing.T) {
	job := pendingJob()
	jobs := newMemoryJobs(job)
	sender := &fakeSender{
		result: webex.SendResult{StatusCode: http.StatusTooManyRequests},
		err:    &webex.APIError{StatusCode: http.StatusTooManyRequests},
	}

	result, err := newTestExecutor(t, jobs, sender).Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.False(t, result.Deferred)
	assert.False(t, result.Success)

	stored := jobs.get(job.ID)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Nil(t, stored.NextAttemptAt)
}

func TestExecutor_Deliver_DeferOnFinishedJobIsSkipped(t *testing.T) {
	job := pendingJob()
	jobs := &finishedOnDeferJobs{memoryJobs: newMemoryJobs(job)}

	cards, err := webex.NewCardValidator()
	require.NoError(t, err)
	exec := NewExecutor(jobs, &fakeSender{}, cards, Config{}).WithRoomLimiter(fakeLimiter{allow: false})

	result, err := exec.Deliver(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

type finishedOnDeferJobs struct {
	*memoryJobs
}

func (f *finishedOnDeferJobs) Defer(context.Context, uuid.UUID, time.Time) error {
	return domain.ErrJobNotPending
}

func TestExecutor_Deliver_InvalidContentFailsPermanently(t *testing.T) {
	job := domain.NewDeliveryJob(domain.DeliveryMethodWebex, "room-1", domain.ContentTypeAdaptiveCard, `{"type":"nope"}`)
	jobs := newMemoryJobs(job)
	sender := &fakeSender{}
	notifier := &recordingNotifier{}

	result, err := newTestExecutor(t, jobs, sender).WithNotifier(notifier).Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Permanent)
	assert.Zero(t, sender.sent())
	assert.Equal(t, domain.JobStatusFailed, jobs.get(job.ID).Status)
	require.Len(t, notifier.failures, 1)
	assert.Equal(t, job.ID.String(), notifier.failures[0].JobID)
}

func TestExecutor_Deliver_UnsupportedMethod(t *testing.T) {
	job := domain.NewDeliveryJob(domain.DeliveryMethod("EMAIL"), "ops@example.com", domain.ContentTypeText, "hi")
	jobs := newMemoryJobs(job)

	result, err := newTestExecutor(t, jobs, &fakeSender{}).Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.True(t, result.Permanent)
	assert.Contains(t, jobs.get(job.ID).LastError(), domain.ErrUnsupportedMethod.Error())
}

func TestExecutor_Deliver_PermanentRejection(t *testing.T) {
	job := pendingJob()
	jobs := newMemoryJobs(job)
	sender := &fakeSender{
		result: webex.SendResult{StatusCode: http.StatusNotFound},
		err:    &webex.APIError{StatusCode: http.StatusNotFound, Message: "room not found"},
	}

	result, err := newTestExecutor(t, jobs, sender).Deliver(context.Background(), job.ID)

	require.NoError(t, err)
	assert.True(t, result.Permanent)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.Equal(t, domain.JobStatusFailed, jobs.get(job.ID).Status)
	assert.Zero(t, jobs.get(job.ID).RetryCount)
}

func TestExecutor_Deliver_RetryableFailureUntilExhausted(t *testing.T) {
	job := pendingJob()
	jobs := newMemoryJobs(job)
	sender := &fakeSender{
		result: webex.SendResult{StatusCode: http.StatusServiceUnavailable},
		err:    &webex.APIError{StatusCode: http.StatusServiceUnavailable},
	}
	notifier := &recordingNotifier{}
	exec := newTestExecutor(t, jobs, sender).WithNotifier(notifier)
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		result, err := exec.Deliver(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.False(t, result.Permanent)

		stored := jobs.get(job.ID)
		assert.Equal(t, attempt, stored.RetryCount)
		assert.Equal(t, domain.JobStatusPending, stored.Status)
	}
	assert.Empty(t, notifier.failures)

	_, err := exec.Deliver(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, jobs.get(job.ID).Status)
	require.Len(t, notifier.failures, 1)
	assert.Equal(t, 3, notifier.failures[0].RetryCount)
}

func TestExecutor_Deliver_FailuresTripCircuit(t *testing.T) {
	first, second := pendingJob(), pendingJob()
	jobs := newMemoryJobs(first, second)
	sender := &fakeSender{err: domain.ErrChannelUnavailable}
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 1, OpenDuration: time.Hour})
	exec := newTestExecutor(t, jobs, sender).WithCircuitBreaker(cb)

	_, err := exec.Deliver(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, CircuitOpen, cb.State("room-1"))

	result, err := exec.Deliver(context.Background(), second.ID)
	require.NoError(t, err)
	assert.True(t, result.Deferred)
	assert.Equal(t, 1, sender.sent())
}

func TestExecutor_Deliver_MarkCompletedErrorIsReturned(t *testing.T) {
	job := pendingJob()
	jobs := &failingCompleteJobs{memoryJobs: newMemoryJobs(job)}
	sender := &fakeSender{result: webex.SendResult{MessageID: "msg-1"}}

	cards, err := webex.NewCardValidator()
	require.NoError(t, err)
	exec := NewExecutor(jobs, sender, cards, Config{})

	_, err = exec.Deliver(context.Background(), job.ID)
	assert.Error(t, err)
}

type failingCompleteJobs struct {
	*memoryJobs
}

func (f *failingCompleteJobs) MarkCompleted(context.Context, uuid.UUID, string) error {
	return errors.New("connection reset")
}
