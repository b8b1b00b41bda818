package app

import (
	"fmt"

	"github.com/stiffinWanjohi/courier/internal/audit"
	"github.com/stiffinWanjohi/courier/internal/dedup"
	"github.com/stiffinWanjohi/courier/internal/delivery"
	"github.com/stiffinWanjohi/courier/internal/dispatcher"
	"github.com/stiffinWanjohi/courier/internal/jobstore"
	"github.com/stiffinWanjohi/courier/internal/ratelimit"
	"github.com/stiffinWanjohi/courier/internal/webex"
)

// Stack is the wired delivery pipeline behind `courier run`.
type Stack struct {
	Jobs       *jobstore.Store
	Janitor    *jobstore.Janitor
	Recorder   *audit.Recorder
	Attempts   *audit.Store
	Webex      *webex.Client
	Circuit    *delivery.CircuitBreaker
	Executor   *delivery.Executor
	Dispatcher *dispatcher.Dispatcher
}

// NewStack builds the dispatcher and everything it delivers through.
func NewStack(s *Services) (*Stack, error) {
	cfg := s.Config

	cards, err := webex.NewCardValidator()
	if err != nil {
		return nil, fmt.Errorf("card validator: %w", err)
	}

	jobs := jobstore.NewStore(s.Pool)
	client := webex.NewClient(webex.Config{
		APIURL:    cfg.Webex.APIURL,
		Token:     cfg.Webex.BotToken,
		Timeout:   cfg.Webex.Timeout,
		RateLimit: cfg.Webex.RateLimit,
		RateBurst: cfg.Webex.RateBurst,
	}).WithTracer(s.Tracer)

	circuit := delivery.NewCircuitBreaker(delivery.CircuitConfig{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		SuccessThreshold: cfg.Circuit.SuccessThreshold,
		OpenDuration:     cfg.Circuit.OpenDuration,
	}).WithMetrics(s.Metrics).WithNotifier(s.Notification)

	executor := delivery.NewExecutor(jobs, client, cards, delivery.Config{
		MaxRetries:    cfg.Dispatcher.MaxRetries,
		RoomRateLimit: cfg.Webex.RoomRateLimit,
	}).
		WithGuard(dedup.NewChecker(s.Redis).WithTTL(cfg.Webex.DedupTTL)).
		WithRoomLimiter(ratelimit.NewLimiter(s.Redis).WithWindow(cfg.Webex.RoomRateWindow)).
		WithCircuitBreaker(circuit).
		WithNotifier(s.Notification).
		WithMetrics(s.Metrics).
		WithTracer(s.Tracer)

	attempts := audit.NewStore(s.Pool)
	recorder := audit.NewRecorder(attempts, s.Metrics)

	d := dispatcher.New(jobs, executor, recorder, dispatcher.Config{
		PollInterval:   cfg.Dispatcher.PollInterval,
		MaxConcurrent:  cfg.Dispatcher.MaxConcurrent,
		StaleThreshold: cfg.Dispatcher.StaleThreshold,
		MaxRetries:     cfg.Dispatcher.MaxRetries,
		DrainTimeout:   cfg.Dispatcher.DrainTimeout,
	}).WithMetrics(s.Metrics).WithTracer(s.Tracer).WithNotifier(s.Notification)

	janitor := jobstore.NewJanitor(jobs, jobstore.JanitorConfig{
		Interval:  cfg.Retention.CleanupInterval,
		Retention: cfg.Retention.RetentionPeriod,
	}).WithMetrics(s.Metrics).WithPruner(circuit)

	return &Stack{
		Jobs:       jobs,
		Janitor:    janitor,
		Recorder:   recorder,
		Attempts:   attempts,
		Webex:      client,
		Circuit:    circuit,
		Executor:   executor,
		Dispatcher: d,
	}, nil
}
