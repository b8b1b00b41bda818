package webex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/courier/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{APIURL: server.URL, Token: "bot-token", Timeout: 2 * time.Second})
}

func TestClient_Send_Success(t *testing.T) {
	var got Message
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer bot-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg-123","roomId":"room-1"}`))
	})

	result, err := client.Send(context.Background(), Message{RoomID: "room-1", Markdown: "**hi**"})
	require.NoError(t, err)
	assert.Equal(t, "msg-123", result.MessageID)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "room-1", got.RoomID)
	assert.Equal(t, "**hi**", got.Markdown)
}

func TestClient_Send_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
		sentinel  error
	}{
		{"rate limited", http.StatusTooManyRequests, true, domain.ErrRateLimited},
		{"server error", http.StatusBadGateway, true, domain.ErrDeliveryFailed},
		{"bad request", http.StatusBadRequest, false, domain.ErrDeliveryFailed},
		{"not found", http.StatusNotFound, false, domain.ErrDeliveryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.Header().Set("TrackingID", "track-1")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})

			result, err := client.Send(context.Background(), Message{RoomID: "room-1", Text: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.status, result.StatusCode)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.retryable, apiErr.Retryable())
			assert.Equal(t, !tt.retryable, IsPermanent(err))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, "nope", apiErr.Message)
			assert.Equal(t, "track-1", apiErr.TrackingID)
			assert.Equal(t, 7*time.Second, apiErr.RetryAfter)
		})
	}
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 7*time.Second, RetryAfter(&APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: 7 * time.Second}))
	assert.Equal(t, 7*time.Second, RetryAfter(fmt.Errorf("send: %w", &APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: 7 * time.Second})))
	assert.Zero(t, RetryAfter(&APIError{StatusCode: http.StatusTooManyRequests}))
	assert.Zero(t, RetryAfter(&APIError{StatusCode: http.StatusServiceUnavailable, RetryAfter: 7 * time.Second}))
	assert.Zero(t, RetryAfter(domain.ErrChannelUnavailable))
}

func TestClient_Send_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Config{APIURL: url, Token: "t", Timeout: time.Second})
	_, err := client.Send(context.Background(), Message{RoomID: "room-1", Text: "x"})

	assert.ErrorIs(t, err, domain.ErrChannelUnavailable)
	assert.False(t, IsPermanent(err))
}

func TestClient_Send_RateLimiterHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"m"}`))
	}))
	t.Cleanup(server.Close)
	client := NewClient(Config{APIURL: server.URL, Token: "t", RateLimit: 0.001, RateBurst: 1})

	_, err := client.Send(context.Background(), Message{RoomID: "r", Text: "x"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Send(ctx, Message{RoomID: "r", Text: "x"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestBuildMessage(t *testing.T) {
	cards, err := NewCardValidator()
	require.NoError(t, err)

	job := func(dest string, ct domain.ContentType, content string) domain.DeliveryJob {
		return domain.NewDeliveryJob(domain.DeliveryMethodWebex, dest, ct, content)
	}

	t.Run("markdown to room", func(t *testing.T) {
		msg, err := BuildMessage(job("room-1", domain.ContentTypeMarkdown, "# Report"), cards)
		require.NoError(t, err)
		assert.Equal(t, "room-1", msg.RoomID)
		assert.Equal(t, "# Report", msg.Markdown)
		assert.Empty(t, msg.ToPersonEmail)
	})

	t.Run("text to person", func(t *testing.T) {
		msg, err := BuildMessage(job("ops@example.com", domain.ContentTypeText, "plain"), cards)
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", msg.ToPersonEmail)
		assert.Equal(t, "plain", msg.Text)
	})

	t.Run("adaptive card", func(t *testing.T) {
		card := `{"type":"AdaptiveCard","version":"1.3","body":[{"type":"TextBlock","text":"Weekly"}]}`
		msg, err := BuildMessage(job("room-1", domain.ContentTypeAdaptiveCard, card), cards)
		require.NoError(t, err)
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, adaptiveCardContentType, msg.Attachments[0].ContentType)
		assert.JSONEq(t, card, string(msg.Attachments[0].Content))
		assert.NotEmpty(t, msg.Text)
	})

	invalid := []struct {
		name     string
		job      domain.DeliveryJob
		sentinel error
	}{
		{"empty destination", job(" ", domain.ContentTypeMarkdown, "x"), domain.ErrInvalidDestination},
		{"bad email", job("ops@", domain.ContentTypeMarkdown, "x"), domain.ErrInvalidDestination},
		{"empty content", job("room-1", domain.ContentTypeMarkdown, "  "), domain.ErrInvalidContent},
		{"too long", job("room-1", domain.ContentTypeMarkdown, strings.Repeat("a", MaxMessageBytes+1)), domain.ErrInvalidContent},
		{"unknown type", job("room-1", "html", "<b>x</b>"), domain.ErrInvalidContent},
		{"card not json", job("room-1", domain.ContentTypeAdaptiveCard, "{"), domain.ErrInvalidContent},
		{"card wrong type", job("room-1", domain.ContentTypeAdaptiveCard, `{"type":"Card","version":"1.3","body":[{"type":"TextBlock"}]}`), domain.ErrInvalidContent},
		{"card empty body", job("room-1", domain.ContentTypeAdaptiveCard, `{"type":"AdaptiveCard","version":"1.3","body":[]}`), domain.ErrInvalidContent},
		{"card element without type", job("room-1", domain.ContentTypeAdaptiveCard, `{"type":"AdaptiveCard","version":"1.3","body":[{"text":"x"}]}`), domain.ErrInvalidContent},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildMessage(tt.job, cards)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.True(t, IsPermanent(err))
		})
	}
}

func TestIsPermanent_OtherErrors(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("random")))
	assert.False(t, IsPermanent(domain.ErrChannelUnavailable))
}
