package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

var errNoJSON = errors.New("no JSON document found")

// ExtractJSON pulls a JSON document out of free text. It accepts bare documents, fenced code
// blocks and documents embedded in prose, and repairs common defects such as trailing commas.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errNoJSON
	}

	for _, candidate := range jsonCandidates(text) {
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}

		repaired, err := jsonrepair.JSONRepair(candidate)
		if err == nil && json.Valid([]byte(repaired)) && looksLikeDocument(repaired) {
			return json.RawMessage(repaired), nil
		}
	}

	return nil, errNoJSON
}

func jsonCandidates(text string) []string {
	var candidates []string

	if looksLikeDocument(text) {
		candidates = append(candidates, text)
	}

	for _, match := range fencedJSON.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(match[1]); body != "" {
			candidates = append(candidates, body)
		}
	}

	if embedded := embeddedDocument(text, '{', '}'); embedded != "" {
		candidates = append(candidates, embedded)
	}

	if embedded := embeddedDocument(text, '[', ']'); embedded != "" {
		candidates = append(candidates, embedded)
	}

	return candidates
}

func embeddedDocument(text string, open, closing byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, closing)

	if start < 0 || end <= start {
		return ""
	}

	return text[start : end+1]
}

func looksLikeDocument(text string) bool {
	return strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[")
}

// DecodeJSON extracts a JSON document from text and validates it against schema.
func DecodeJSON(provider, text string, schema *Schema) (json.RawMessage, error) {
	doc, err := ExtractJSON(text)
	if err != nil {
		return nil, &ParseError{Provider: provider, Reason: "extract json", Err: err}
	}

	if err := schema.Validate(doc); err != nil {
		return nil, &ParseError{Provider: provider, Reason: "schema validation", Err: err}
	}

	return doc, nil
}
