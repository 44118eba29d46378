package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/pkg/httpclient"
	"github.com/looplj/reportflow/internal/pkg/streams"
)

func newTestTransport(t *testing.T, provider string, handler http.HandlerFunc) *Transport {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	transport, err := New(llm.ProviderConfig{
		Provider: provider,
		APIKey:   "sk-test",
		BaseURL:  server.URL + "/v1/",
	}, httpclient.NewHttpClientWithClient(server.Client(), httpclient.Config{}))
	require.NoError(t, err)

	return transport
}

func readBody(t *testing.T, r *http.Request) []byte {
	t.Helper()

	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)

	return body
}

func TestNew(t *testing.T) {
	_, err := New(llm.ProviderConfig{Provider: "unknown", APIKey: "k"}, nil)
	require.Error(t, err)

	_, err = New(llm.ProviderConfig{Provider: ProviderOpenRouter}, nil)
	require.ErrorContains(t, err, "api key")

	transport, err := New(llm.ProviderConfig{Provider: ProviderDeepSeek, APIKey: "k"}, nil)
	require.NoError(t, err)
	require.Equal(t, "https://api.deepseek.com/v1", transport.baseURL)
	require.Equal(t, llm.Capabilities{SupportsJSONMode: true}, transport.Capabilities())
}

func TestTransport_Generate(t *testing.T) {
	transport := newTestTransport(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body := readBody(t, r)
		assert.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
		assert.Equal(t, "Be concise.", gjson.GetBytes(body, "messages.0.content").String())
		assert.Equal(t, "Refine this", gjson.GetBytes(body, "messages.1.content").String())
		assert.InDelta(t, 0.2, gjson.GetBytes(body, "temperature").Float(), 1e-9)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Refined."},"finish_reason":"stop"}]}`))
	})

	text, err := transport.Generate(context.Background(), &llm.Request{
		Model:             "gpt-4o",
		Prompt:            "Refine this",
		SystemInstruction: "Be concise.",
		Temperature:       lo.ToPtr(0.2),
	})
	require.NoError(t, err)
	require.Equal(t, "Refined.", text)
}

func TestTransport_GenerateErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		transport := newTestTransport(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
		})

		_, err := transport.Generate(context.Background(), &llm.Request{Model: "gpt-4o", Prompt: "x"})

		var statusErr *llm.StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
		require.Equal(t, "overloaded", statusErr.Message)
	})

	t.Run("empty completion", func(t *testing.T) {
		transport := newTestTransport(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":""},"finish_reason":"length"}]}`))
		})

		_, err := transport.Generate(context.Background(), &llm.Request{Model: "gpt-4o", Prompt: "x"})

		var parseErr *llm.ParseError
		require.ErrorAs(t, err, &parseErr)
		require.Contains(t, parseErr.Reason, "length")
	})
}

const findingsSchema = `{
	"type": "object",
	"properties": {"modality": {"type": "string"}},
	"required": ["modality"]
}`

func TestTransport_GenerateJSON(t *testing.T) {
	schema := llm.MustSchema(findingsSchema)

	t.Run("json schema response format", func(t *testing.T) {
		transport := newTestTransport(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
			body := readBody(t, r)
			assert.Equal(t, "json_schema", gjson.GetBytes(body, "response_format.type").String())
			assert.Equal(t, "object", gjson.GetBytes(body, "response_format.json_schema.schema.type").String())

			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"modality\":\"CT\"}"}}]}`))
		})

		doc, err := transport.GenerateJSON(context.Background(), &llm.Request{Model: "gpt-4o", Prompt: "x"}, schema)
		require.NoError(t, err)
		require.JSONEq(t, `{"modality":"CT"}`, string(doc))
	})

	t.Run("deepseek inlines the schema", func(t *testing.T) {
		transport := newTestTransport(t, ProviderDeepSeek, func(w http.ResponseWriter, r *http.Request) {
			body := readBody(t, r)
			assert.Equal(t, "json_object", gjson.GetBytes(body, "response_format.type").String())
			assert.Contains(t, gjson.GetBytes(body, "messages.0.content").String(), `"modality"`)

			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```json\\n{\\\"modality\\\":\\\"MR\\\"}\\n```" + `"}}]}`))
		})

		doc, err := transport.GenerateJSON(context.Background(), &llm.Request{Model: "deepseek-chat", Prompt: "x"}, schema)
		require.NoError(t, err)
		require.JSONEq(t, `{"modality":"MR"}`, string(doc))
	})

	t.Run("schema violation", func(t *testing.T) {
		transport := newTestTransport(t, ProviderOpenRouter, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"other\":1}"}}]}`))
		})

		_, err := transport.GenerateJSON(context.Background(), &llm.Request{Model: "m", Prompt: "x"}, schema)

		var parseErr *llm.ParseError
		require.ErrorAs(t, err, &parseErr)
	})
}

func TestTransport_GenerateStream(t *testing.T) {
	transport := newTestTransport(t, ProviderOpenRouter, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		assert.True(t, gjson.GetBytes(body, "stream").Bool())

		w.Header().Set("Content-Type", "text/event-stream")

		for _, chunk := range []string{"The ", "", "report"} {
			payload, _ := json.Marshal(map[string]any{
				"choices": []any{map[string]any{"delta": map[string]any{"content": chunk}}},
			})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		}

		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := transport.GenerateStream(context.Background(), &llm.Request{Model: "m", Prompt: "draft"})
	require.NoError(t, err)

	chunks, err := streams.All(stream)
	require.NoError(t, err)
	require.Equal(t, []string{"The ", "report"}, chunks)
	require.NoError(t, stream.Close())
}

func TestTransport_Capabilities(t *testing.T) {
	transport := newTestTransport(t, ProviderOpenRouter, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := transport.GenerateWithGrounding(context.Background(), &llm.Request{})

	var capErr *llm.CapabilityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, "grounding", capErr.Capability)

	_, err = transport.GenerateImage(context.Background(), &llm.Request{})
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, "image", capErr.Capability)
}

func TestTransport_GenerateImage(t *testing.T) {
	transport := newTestTransport(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/images/generations", r.URL.Path)

		body := readBody(t, r)
		assert.Equal(t, "gpt-image-1", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "axial CT diagram", gjson.GetBytes(body, "prompt").String())

		_, _ = w.Write([]byte(`{"data":[{"b64_json":"aGVsbG8="}]}`))
	})

	image, err := transport.GenerateImage(context.Background(), &llm.Request{Model: "gpt-image-1", Prompt: "axial CT diagram"})
	require.NoError(t, err)
	require.Equal(t, "aGVsbG8=", image.Data)
	require.Equal(t, "image/png", image.MimeType)
}
