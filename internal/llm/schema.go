package llm

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is a resolved JSON schema used to constrain and validate structured output.
type Schema struct {
	raw      json.RawMessage
	resolved *jsonschema.Resolved
}

// NewSchema parses and resolves a JSON schema document.
func NewSchema(raw json.RawMessage) (*Schema, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}

	return &Schema{raw: raw, resolved: resolved}, nil
}

// MustSchema is NewSchema for static schemas; it panics on invalid input.
func MustSchema(raw string) *Schema {
	schema, err := NewSchema(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}

	return schema
}

// JSON returns the schema document.
func (s *Schema) JSON() json.RawMessage {
	if s == nil {
		return nil
	}

	return s.raw
}

// Validate checks doc against the schema. A nil schema accepts any valid JSON.
func (s *Schema) Validate(doc json.RawMessage) error {
	var instance any
	if err := json.Unmarshal(doc, &instance); err != nil {
		return err
	}

	if s == nil {
		return nil
	}

	return s.resolved.Validate(instance)
}
