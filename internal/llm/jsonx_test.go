package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "bare object", text: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", text: "Here you go:\n```json\n{\"a\":1}\n```\nThanks", want: `{"a":1}`},
		{name: "embedded", text: `The answer is {"a":1} as requested.`, want: `{"a":1}`},
		{name: "array", text: `[1,2]`, want: `[1,2]`},
		{name: "trailing comma repaired", text: `{"a":1,}`, want: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.text)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestExtractJSON_NoDocument(t *testing.T) {
	_, err := ExtractJSON("no json here")
	require.Error(t, err)

	_, err = ExtractJSON("   ")
	require.Error(t, err)
}

func TestDecodeJSON_SchemaValidation(t *testing.T) {
	schema := MustSchema(`{
		"type": "object",
		"properties": {"summary": {"type": "string"}},
		"required": ["summary"]
	}`)

	doc, err := DecodeJSON("gemini", `{"summary":"ok"}`, schema)
	require.NoError(t, err)
	require.JSONEq(t, `{"summary":"ok"}`, string(doc))

	_, err = DecodeJSON("gemini", `{"other":1}`, schema)
	require.Error(t, err)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	require.Equal(t, "schema validation", parseErr.Reason)
}

func TestAborted(t *testing.T) {
	err := Aborted(errors.New("context canceled"))
	require.True(t, IsAborted(err))
	require.ErrorIs(t, err, ErrAborted)

	// Wrapping twice keeps a single layer.
	require.Same(t, err, Aborted(err))
}

func TestStatusCode(t *testing.T) {
	err := &StatusError{Provider: "openai", StatusCode: 503}
	require.Equal(t, 503, StatusCode(err))
	require.Equal(t, 0, StatusCode(errors.New("x")))
	require.Contains(t, err.Error(), "Service Unavailable")
}
