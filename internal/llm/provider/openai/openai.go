// Package openai implements the transport for OpenAI compatible chat completion APIs
// (OpenAI, OpenRouter, DeepSeek).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/llm/provider/shared"
	"github.com/looplj/reportflow/internal/pkg/httpclient"
	"github.com/looplj/reportflow/internal/pkg/streams"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderDeepSeek   = "deepseek"
)

// DefaultBaseURLs per provider identity.
var DefaultBaseURLs = map[string]string{
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderDeepSeek:   "https://api.deepseek.com/v1",
}

type Transport struct {
	name    string
	apiKey  string
	baseURL string
	client  *httpclient.HttpClient
	caps    llm.Capabilities
}

var _ llm.Transport = (*Transport)(nil)

// New creates a transport for one of the OpenAI compatible identities.
func New(cfg llm.ProviderConfig, client *httpclient.HttpClient) (*Transport, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		var ok bool

		baseURL, ok = DefaultBaseURLs[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("no default base url for provider %q", cfg.Provider)
		}
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for provider %s", cfg.Provider)
	}

	return &Transport{
		name:    cfg.Provider,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		caps: llm.Capabilities{
			SupportsGrounding: false,
			SupportsImageGen:  cfg.Provider == ProviderOpenAI,
			SupportsJSONMode:  true,
		},
	}, nil
}

func (t *Transport) Name() string {
	return t.name
}

func (t *Transport) Capabilities() llm.Capabilities {
	return t.caps
}

func (t *Transport) Generate(ctx context.Context, req *llm.Request) (string, error) {
	body, err := chatBody(req, false)
	if err != nil {
		return "", err
	}

	return t.complete(ctx, body)
}

func (t *Transport) GenerateJSON(ctx context.Context, req *llm.Request, schema *llm.Schema) (json.RawMessage, error) {
	body, err := chatBody(withSchemaInstruction(req, schema, t.name == ProviderDeepSeek), false)
	if err != nil {
		return nil, err
	}

	if schema != nil && t.name != ProviderDeepSeek {
		body, err = sjson.SetBytes(body, "response_format", map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"schema": schema.JSON(),
			},
		})
	} else {
		body, err = sjson.SetBytes(body, "response_format.type", "json_object")
	}

	if err != nil {
		return nil, err
	}

	text, err := t.complete(ctx, body)
	if err != nil {
		return nil, err
	}

	return llm.DecodeJSON(t.name, text, schema)
}

func (t *Transport) GenerateStream(ctx context.Context, req *llm.Request) (streams.Stream[string], error) {
	body, err := chatBody(req, true)
	if err != nil {
		return nil, err
	}

	events, err := t.client.DoStream(ctx, t.request("/chat/completions", body))
	if err != nil {
		return nil, shared.MapError(ctx, t.name, err)
	}

	return shared.TextStream(ctx, t.name, events, func(data []byte) (string, bool, error) {
		if msg := gjson.GetBytes(data, "error.message"); msg.Exists() {
			return "", false, &llm.StatusError{Provider: t.name, StatusCode: http.StatusBadGateway, Message: msg.String()}
		}

		delta := gjson.GetBytes(data, "choices.0.delta.content").String()

		return delta, delta != "", nil
	}), nil
}

func (t *Transport) GenerateWithGrounding(ctx context.Context, req *llm.Request) (*llm.GroundedResult, error) {
	return nil, &llm.CapabilityError{Provider: t.name, Capability: string(llm.ModeGrounding)}
}

func (t *Transport) GenerateImage(ctx context.Context, req *llm.Request) (*llm.Image, error) {
	if !t.caps.SupportsImageGen {
		return nil, &llm.CapabilityError{Provider: t.name, Capability: string(llm.ModeImage)}
	}

	body, err := sjson.SetBytes([]byte(`{"n":1,"size":"1024x1024"}`), "model", req.Model)
	if err != nil {
		return nil, err
	}

	body, err = sjson.SetBytes(body, "prompt", req.Prompt)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(ctx, t.request("/images/generations", body))
	if err != nil {
		return nil, shared.MapError(ctx, t.name, err)
	}

	first := gjson.GetBytes(resp.Body, "data.0")
	switch {
	case first.Get("url").String() != "":
		return &llm.Image{URL: first.Get("url").String()}, nil
	case first.Get("b64_json").String() != "":
		return &llm.Image{MimeType: "image/png", Data: first.Get("b64_json").String()}, nil
	default:
		return nil, &llm.ParseError{Provider: t.name, Reason: "image response without data"}
	}
}

func (t *Transport) complete(ctx context.Context, body []byte) (string, error) {
	resp, err := t.client.Do(ctx, t.request("/chat/completions", body))
	if err != nil {
		return "", shared.MapError(ctx, t.name, err)
	}

	choice := gjson.GetBytes(resp.Body, "choices.0")
	if !choice.Exists() {
		return "", &llm.ParseError{Provider: t.name, Reason: "response without choices"}
	}

	content := choice.Get("message.content").String()
	if content == "" {
		return "", &llm.ParseError{
			Provider: t.name,
			Reason:   "empty completion (finish_reason " + choice.Get("finish_reason").String() + ")",
		}
	}

	return content, nil
}

func (t *Transport) request(path string, body []byte) *httpclient.Request {
	return &httpclient.Request{
		Method: http.MethodPost,
		URL:    t.baseURL + path,
		Body:   body,
		Auth:   &httpclient.AuthConfig{Type: httpclient.AuthTypeBearer, APIKey: t.apiKey},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

func chatBody(req *llm.Request, stream bool) ([]byte, error) {
	messages := make([]message, 0, 2)
	if req.SystemInstruction != "" {
		messages = append(messages, message{Role: "system", Content: req.SystemInstruction})
	}

	messages = append(messages, message{Role: "user", Content: req.Prompt})

	return json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	})
}

// withSchemaInstruction appends the schema to the system instruction for providers whose JSON
// mode cannot carry a schema.
func withSchemaInstruction(req *llm.Request, schema *llm.Schema, inline bool) *llm.Request {
	if schema == nil || !inline {
		return req
	}

	clone := *req
	clone.SystemInstruction = strings.TrimSpace(req.SystemInstruction +
		"\n\nRespond with a single JSON document matching this JSON schema:\n" + string(schema.JSON()))

	return &clone
}
