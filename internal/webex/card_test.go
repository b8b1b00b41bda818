package webex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/courier/internal/domain"
)

func TestCardValidator_Validate(t *testing.T) {
	cards, err := NewCardValidator()
	require.NoError(t, err)

	valid := []string{
		`{"type":"AdaptiveCard","version":"1.3","body":[{"type":"TextBlock","text":"Weekly","size":12}]}`,
		`{"type":"AdaptiveCard","version":"1.2","body":[{"type":"ColumnSet","columns":[{"type":"Column","width":1.5}]}],
		  "actions":[{"type":"Action.OpenUrl","url":"https://example.com"}]}`,
	}
	for _, card := range valid {
		assert.NoError(t, cards.Validate([]byte(card)), card)
	}

	invalid := map[string]string{
		"empty":            ``,
		"truncated":        `{"type":"AdaptiveCard"`,
		"trailing data":    `{"type":"AdaptiveCard","version":"1.3","body":[{"type":"TextBlock"}]} {}`,
		"extra brace":      `{"type":"AdaptiveCard","version":"1.3","body":[{"type":"TextBlock"}]}}`,
		"array root":       `[{"type":"AdaptiveCard"}]`,
		"numeric version":  `{"type":"AdaptiveCard","version":1.3,"body":[{"type":"TextBlock"}]}`,
		"bad version":      `{"type":"AdaptiveCard","version":"2.0","body":[{"type":"TextBlock"}]}`,
		"bad action":       `{"type":"AdaptiveCard","version":"1.3","body":[{"type":"TextBlock"}],"actions":[{"type":"Open"}]}`,
		"nested no type":   `{"type":"AdaptiveCard","version":"1.3","body":[{"type":"ColumnSet","columns":[{"width":1}]}]}`,
		"missing body key": `{"type":"AdaptiveCard","version":"1.3"}`,
	}
	for name, card := range invalid {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, cards.Validate([]byte(card)), domain.ErrInvalidContent)
		})
	}
}
