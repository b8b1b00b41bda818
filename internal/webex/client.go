// Package webex sends messages through the Webex REST API.
package webex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/stiffinWanjohi/courier/internal/domain"
	"github.com/stiffinWanjohi/courier/internal/logging"
	"github.com/stiffinWanjohi/courier/internal/observability"
)

var log = logging.Component("webex")

const (
	defaultTimeout      = 30 * time.Second
	maxResponseBodySize = 64 * 1024
	userAgent           = "courier/1.0"
)

// Config configures a Client.
type Config struct {
	APIURL    string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 = unlimited
	RateBurst int
}

// Client posts messages to Webex. It is safe for concurrent use; the
// token-wide rate limit is shared by every caller.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	tracer  *observability.Tracer
}

// SendResult describes an accepted message.
type SendResult struct {
	MessageID  string
	StatusCode int
	Duration   time.Duration
}

// APIError is a non-2xx response from the messages endpoint.
type APIError struct {
	StatusCode int
	Message    string
	TrackingID string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("webex returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("webex returned status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether a later attempt may succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return domain.ErrRateLimited
	}
	return domain.ErrDeliveryFailed
}

// IsPermanent reports whether err is a rejection that retrying cannot fix.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Retryable()
	}
	return errors.Is(err, domain.ErrInvalidContent) || errors.Is(err, domain.ErrInvalidDestination)
}

// RetryAfter returns how long Webex asked the caller to back off for a 429.
// It returns zero for any other error or when no Retry-After was sent.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return apiErr.RetryAfter
	}
	return 0
}

// NewClient creates a Webex client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.RateBurst, 1)

	return &Client{
		baseURL: cfg.APIURL,
		token:   cfg.Token,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// WithTracer sets the tracer used for outbound calls.
func (c *Client) WithTracer(tracer *observability.Tracer) *Client {
	c.tracer = tracer
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.http = client
	return c
}

type createMessageResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Message    string `json:"message"`
	TrackingID string `json:"trackingId"`
}

// Send posts msg to /messages, waiting for the token rate limiter first.
func (c *Client) Send(ctx context.Context, msg Message) (result SendResult, err error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanWebexSend,
		observability.WithSpanKind(observability.SpanKindClient))
	defer func() { observability.EndSpan(span, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidContent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	c.tracer.Inject(ctx, observability.HTTPHeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("webex request failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return SendResult{Duration: time.Since(start)}, fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	duration := time.Since(start)
	span.SetAttribute(observability.AttrHTTPStatusCode, resp.StatusCode)
	if err != nil {
		return SendResult{StatusCode: resp.StatusCode, Duration: duration}, fmt.Errorf("%w: reading response: %v", domain.ErrChannelUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			TrackingID: resp.Header.Get("TrackingID"),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil {
			apiErr.Message = er.Message
			if er.TrackingID != "" {
				apiErr.TrackingID = er.TrackingID
			}
		}
		log.Warn("webex rejected message",
			"status_code", resp.StatusCode,
			"tracking_id", apiErr.TrackingID,
			"retryable", apiErr.Retryable(),
			"duration_ms", duration.Milliseconds(),
		)
		return SendResult{StatusCode: resp.StatusCode, Duration: duration}, apiErr
	}

	var created createMessageResponse
	if err := json.Unmarshal(raw, &created); err != nil {
		return SendResult{StatusCode: resp.StatusCode, Duration: duration}, fmt.Errorf("%w: decoding response: %v", domain.ErrDeliveryFailed, err)
	}

	log.Debug("message sent", "message_id", created.ID, "duration_ms", duration.Milliseconds())
	return SendResult{MessageID: created.ID, StatusCode: resp.StatusCode, Duration: duration}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
