package webex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/stiffinWanjohi/courier/internal/domain"
)

const cardSchemaURL = "courier://schemas/adaptive-card.json"

// cardSchema covers the parts of an adaptive card Webex rejects when wrong:
// the root type, a version, and a body of typed elements.
const cardSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "version", "body"],
	"properties": {
		"type": {"const": "AdaptiveCard"},
		"version": {"type": "string", "pattern": "^1\\.[0-9]+$"},
		"body": {
			"type": "array",
			"minItems": 1,
			"items": {"$ref": "#/$defs/element"}
		},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type"],
				"properties": {"type": {"type": "string", "pattern": "^Action\\."}}
			}
		}
	},
	"$defs": {
		"element": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"type": "string", "minLength": 1},
				"items": {"type": "array", "items": {"$ref": "#/$defs/element"}},
				"columns": {"type": "array", "items": {"$ref": "#/$defs/element"}}
			}
		}
	}
}`

// CardValidator checks adaptive card payloads before they are sent.
type CardValidator struct {
	schema *jsonschema.Schema
}

// NewCardValidator compiles the embedded adaptive card schema.
func NewCardValidator() (*CardValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(cardSchemaURL, strings.NewReader(cardSchema)); err != nil {
		return nil, fmt.Errorf("failed to load card schema: %w", err)
	}
	schema, err := compiler.Compile(cardSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile card schema: %w", err)
	}
	return &CardValidator{schema: schema}, nil
}

// Validate returns ErrInvalidContent wrapped with the schema violation.
func (v *CardValidator) Validate(card []byte) error {
	dec := json.NewDecoder(bytes.NewReader(card))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: card is not valid JSON: %v", domain.ErrInvalidContent, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: card has trailing data", domain.ErrInvalidContent)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidContent, err)
	}
	return nil
}
