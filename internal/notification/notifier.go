package notification

import (
	"context"
	"sync"
	"time"

	"github.com/stiffinWanjohi/courier/internal/logging"
)

var log = logging.Component("notification")

// DeliveryFailure describes a job that will not be retried again.
type DeliveryFailure struct {
	JobID       string
	ReportID    string
	Method      string
	Destination string
	Error       string
	RetryCount  int
	FailedAt    time.Time
}

// Notifier defines the interface for sending operator notifications.
type Notifier interface {
	// NotifyDeliveryFailed is called when a job reaches FAILED.
	NotifyDeliveryFailed(ctx context.Context, failure DeliveryFailure) error

	// NotifyCircuitTrip is called when a destination's circuit opens.
	NotifyCircuitTrip(ctx context.Context, destination string, failures int) error

	// NotifyCircuitRecover is called when a destination's circuit closes again.
	NotifyCircuitRecover(ctx context.Context, destination string) error

	// Close releases any resources held by the notifier.
	Close() error
}

// Config holds notification service configuration.
type Config struct {
	Enabled         bool
	Async           bool
	SlackWebhookURL string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	EmailFrom       string
	EmailTo         []string
}

// Service fans notifications out to every configured notifier.
type Service struct {
	notifiers []Notifier
	async     bool
	wg        sync.WaitGroup
}

// NewService creates a notification service from configuration.
func NewService(cfg Config) *Service {
	s := &Service{async: cfg.Async}

	if !cfg.Enabled {
		s.notifiers = append(s.notifiers, &NoopNotifier{})
		return s
	}

	if cfg.SlackWebhookURL != "" {
		s.notifiers = append(s.notifiers, NewSlackNotifier(cfg.SlackWebhookURL))
		log.Info("slack notifier enabled")
	}

	if cfg.SMTPHost != "" && len(cfg.EmailTo) > 0 {
		s.notifiers = append(s.notifiers, NewEmailNotifier(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUsername,
			cfg.SMTPPassword,
			cfg.EmailFrom,
			cfg.EmailTo,
		))
		log.Info("email notifier enabled", "recipients", cfg.EmailTo)
	}

	if len(s.notifiers) == 0 {
		s.notifiers = append(s.notifiers, &NoopNotifier{})
		log.Info("no notifiers configured, using noop")
	}

	return s
}

// NewServiceWith builds a service around explicit notifiers.
func NewServiceWith(async bool, notifiers ...Notifier) *Service {
	return &Service{notifiers: notifiers, async: async}
}

// NotifyDeliveryFailed dispatches a terminal failure to all notifiers.
func (s *Service) NotifyDeliveryFailed(ctx context.Context, failure DeliveryFailure) {
	if failure.FailedAt.IsZero() {
		failure.FailedAt = time.Now().UTC()
	}
	s.dispatch(ctx, "delivery_failed", func(ctx context.Context, n Notifier) error {
		return n.NotifyDeliveryFailed(ctx, failure)
	})
}

// NotifyCircuitTrip dispatches circuit trip notifications to all notifiers.
func (s *Service) NotifyCircuitTrip(ctx context.Context, destination string, failures int) {
	s.dispatch(ctx, "circuit_trip", func(ctx context.Context, n Notifier) error {
		return n.NotifyCircuitTrip(ctx, destination, failures)
	})
}

// NotifyCircuitRecover dispatches circuit recovery notifications to all notifiers.
func (s *Service) NotifyCircuitRecover(ctx context.Context, destination string) {
	s.dispatch(ctx, "circuit_recover", func(ctx context.Context, n Notifier) error {
		return n.NotifyCircuitRecover(ctx, destination)
	})
}

func (s *Service) dispatch(ctx context.Context, kind string, fn func(context.Context, Notifier) error) {
	if s == nil {
		return
	}
	for _, n := range s.notifiers {
		if !s.async {
			if err := fn(ctx, n); err != nil {
				log.Error("notification failed", "type", kind, "error", err)
			}
			continue
		}

		// Async sends outlive the caller's request scope.
		detached := context.WithoutCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := fn(detached, n); err != nil {
				log.Error("notification failed", "type", kind, "error", err)
			}
		}()
	}
}

// Close waits for pending async notifications and closes all notifiers.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.wg.Wait()
	var lastErr error
	for _, n := range s.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
