package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/stiffinWanjohi/courier/internal/logging"
)

var emailLog = logging.Component("notification.email")

const emailSignature = "\n--\nCourier Report Delivery"

// EmailNotifier sends notifications via SMTP.
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new email notifier.
func NewEmailNotifier(host string, port int, username, password, from string, to []string) *EmailNotifier {
	return &EmailNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

// NotifyDeliveryFailed mails a terminal delivery failure.
func (e *EmailNotifier) NotifyDeliveryFailed(_ context.Context, f DeliveryFailure) error {
	subject := "[ALERT] Report delivery failed - " + f.Destination

	var body strings.Builder
	body.WriteString("Report Delivery Failure\n\n")
	body.WriteString("A delivery job failed and will not be retried.\n\n")
	fmt.Fprintf(&body, "- Job: %s\n", f.JobID)
	if f.ReportID != "" {
		fmt.Fprintf(&body, "- Report: %s\n", f.ReportID)
	}
	fmt.Fprintf(&body, "- Method: %s\n", f.Method)
	fmt.Fprintf(&body, "- Destination: %s\n", f.Destination)
	fmt.Fprintf(&body, "- Attempts: %d\n", f.RetryCount)
	fmt.Fprintf(&body, "- Error: %s\n", f.Error)
	fmt.Fprintf(&body, "- Time: %s\n", f.FailedAt.UTC().Format(time.RFC3339))
	body.WriteString(emailSignature)

	return e.send(subject, body.String(), "delivery_failed")
}

// NotifyCircuitTrip mails a circuit breaker trip.
func (e *EmailNotifier) NotifyCircuitTrip(_ context.Context, destination string, failures int) error {
	subject := "[WARNING] Circuit breaker tripped - " + destination
	body := fmt.Sprintf(`Circuit Breaker Alert

Deliveries to a destination are paused after %d consecutive failures.

- Destination: %s
- Time: %s

Pending jobs for this destination stay queued and resume once the circuit recovers.
%s`, failures, destination, time.Now().UTC().Format(time.RFC3339), emailSignature)

	return e.send(subject, body, "circuit_trip")
}

// NotifyCircuitRecover mails a circuit breaker recovery.
func (e *EmailNotifier) NotifyCircuitRecover(_ context.Context, destination string) error {
	subject := "[RESOLVED] Circuit breaker recovered - " + destination
	body := fmt.Sprintf(`Circuit Breaker Recovery

Deliveries to this destination have resumed.

- Destination: %s
- Time: %s
%s`, destination, time.Now().UTC().Format(time.RFC3339), emailSignature)

	return e.send(subject, body, "circuit_recover")
}

func (e *EmailNotifier) buildMessage(subject, body string) []byte {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

func (e *EmailNotifier) send(subject, body, notificationType string) error {
	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	if err := e.sendMail(addr, auth, e.from, e.to, e.buildMessage(subject, body)); err != nil {
		emailLog.Error("failed to send email notification", "type", notificationType, "smtp_host", e.host, "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	emailLog.Debug("email notification sent", "type", notificationType, "recipients", e.to)
	return nil
}

// Close releases resources.
func (e *EmailNotifier) Close() error {
	return nil
}
