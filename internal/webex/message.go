package webex

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"github.com/stiffinWanjohi/courier/internal/domain"
)

// MaxMessageBytes is the largest text or markdown body the API accepts.
const MaxMessageBytes = 7439

const (
	adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"
	cardFallbackText        = "This report is best viewed in a Webex client that supports cards."
)

// Message is the body of POST /messages.
type Message struct {
	RoomID        string       `json:"roomId,omitempty"`
	ToPersonEmail string       `json:"toPersonEmail,omitempty"`
	Text          string       `json:"text,omitempty"`
	Markdown      string       `json:"markdown,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// Attachment carries an adaptive card.
type Attachment struct {
	ContentType string          `json:"contentType"`
	Content     json.RawMessage `json:"content"`
}

// BuildMessage renders a job into a Webex message. A destination containing
// "@" is treated as a person's email, anything else as a room id.
func BuildMessage(job domain.DeliveryJob, cards *CardValidator) (Message, error) {
	var msg Message

	dest := strings.TrimSpace(job.Destination)
	switch {
	case dest == "":
		return Message{}, fmt.Errorf("%w: empty destination", domain.ErrInvalidDestination)
	case strings.Contains(dest, "@"):
		if _, err := mail.ParseAddress(dest); err != nil {
			return Message{}, fmt.Errorf("%w: %v", domain.ErrInvalidDestination, err)
		}
		msg.ToPersonEmail = dest
	default:
		msg.RoomID = dest
	}

	if strings.TrimSpace(job.Content) == "" {
		return Message{}, fmt.Errorf("%w: empty content", domain.ErrInvalidContent)
	}

	switch job.ContentType {
	case domain.ContentTypeMarkdown, "":
		if len(job.Content) > MaxMessageBytes {
			return Message{}, fmt.Errorf("%w: markdown is %d bytes, limit %d", domain.ErrInvalidContent, len(job.Content), MaxMessageBytes)
		}
		msg.Markdown = job.Content
	case domain.ContentTypeText:
		if len(job.Content) > MaxMessageBytes {
			return Message{}, fmt.Errorf("%w: text is %d bytes, limit %d", domain.ErrInvalidContent, len(job.Content), MaxMessageBytes)
		}
		msg.Text = job.Content
	case domain.ContentTypeAdaptiveCard:
		if cards == nil {
			return Message{}, fmt.Errorf("%w: no card validator configured", domain.ErrInvalidContent)
		}
		if err := cards.Validate([]byte(job.Content)); err != nil {
			return Message{}, err
		}
		msg.Text = cardFallbackText
		msg.Attachments = []Attachment{{
			ContentType: adaptiveCardContentType,
			Content:     json.RawMessage(job.Content),
		}}
	default:
		return Message{}, fmt.Errorf("%w: unknown content type %q", domain.ErrInvalidContent, job.ContentType)
	}

	return msg, nil
}
