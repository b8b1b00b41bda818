package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stiffinWanjohi/courier/internal/logging"
)

var slackLog = logging.Component("notification.slack")

const slackFooter = "Courier Report Delivery"

// SlackNotifier sends notifications to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

type slackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyDeliveryFailed posts a terminal delivery failure.
func (s *SlackNotifier) NotifyDeliveryFailed(ctx context.Context, f DeliveryFailure) error {
	fields := []slackField{
		{Title: "Job", Value: f.JobID, Short: true},
		{Title: "Method", Value: f.Method, Short: true},
		{Title: "Destination", Value: f.Destination, Short: true},
		{Title: "Attempts", Value: strconv.Itoa(f.RetryCount), Short: true},
	}
	if f.ReportID != "" {
		fields = append(fields, slackField{Title: "Report", Value: f.ReportID, Short: true})
	}
	fields = append(fields, slackField{Title: "Error", Value: f.Error})

	return s.send(ctx, slackMessage{
		Attachments: []slackAttachment{{
			Color:  "danger",
			Title:  "Report Delivery Failed",
			Text:   "A report delivery job failed and will not be retried.",
			Fields: fields,
			Footer: slackFooter,
			Ts:     f.FailedAt.Unix(),
		}},
	}, "delivery_failed")
}

// NotifyCircuitTrip posts a circuit breaker trip.
func (s *SlackNotifier) NotifyCircuitTrip(ctx context.Context, destination string, failures int) error {
	return s.send(ctx, slackMessage{
		Attachments: []slackAttachment{{
			Color: "warning",
			Title: "Circuit Breaker Tripped",
			Text:  fmt.Sprintf("Deliveries to this destination are paused after %d consecutive failures.", failures),
			Fields: []slackField{
				{Title: "Destination", Value: destination, Short: true},
				{Title: "Failures", Value: strconv.Itoa(failures), Short: true},
			},
			Footer: slackFooter,
			Ts:     time.Now().Unix(),
		}},
	}, "circuit_trip")
}

// NotifyCircuitRecover posts a circuit breaker recovery.
func (s *SlackNotifier) NotifyCircuitRecover(ctx context.Context, destination string) error {
	return s.send(ctx, slackMessage{
		Attachments: []slackAttachment{{
			Color: "good",
			Title: "Circuit Breaker Recovered",
			Text:  "Deliveries to this destination have resumed.",
			Fields: []slackField{
				{Title: "Destination", Value: destination, Short: true},
			},
			Footer: slackFooter,
			Ts:     time.Now().Unix(),
		}},
	}, "circuit_recover")
}

func (s *SlackNotifier) send(ctx context.Context, msg slackMessage, notificationType string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slackLog.Error("failed to send slack notification", "type", notificationType, "error", err)
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slackLog.Warn("slack webhook returned error", "type", notificationType, "status_code", resp.StatusCode)
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	slackLog.Debug("slack notification sent", "type", notificationType)
	return nil
}

// Close releases idle connections.
func (s *SlackNotifier) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
