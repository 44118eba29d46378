// Package gemini implements the transport for the Gemini generateContent API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/llm/provider/shared"
	"github.com/looplj/reportflow/internal/pkg/httpclient"
	"github.com/looplj/reportflow/internal/pkg/streams"
)

const (
	ProviderGemini = "gemini"

	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"
)

type Transport struct {
	apiKey  string
	baseURL string
	client  *httpclient.HttpClient
}

var _ llm.Transport = (*Transport)(nil)

func New(cfg llm.ProviderConfig, client *httpclient.HttpClient) (*Transport, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for provider %s", ProviderGemini)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(baseURL, "/"+DefaultAPIVersion) && !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/" + DefaultAPIVersion
	}

	return &Transport{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  client,
	}, nil
}

func (t *Transport) Name() string {
	return ProviderGemini
}

func (t *Transport) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		SupportsGrounding: true,
		SupportsImageGen:  true,
		SupportsJSONMode:  true,
	}
}

func (t *Transport) Generate(ctx context.Context, req *llm.Request) (string, error) {
	resp, err := t.generate(ctx, req, newContentRequest(req))
	if err != nil {
		return "", err
	}

	return resp.text, nil
}

func (t *Transport) GenerateJSON(ctx context.Context, req *llm.Request, schema *llm.Schema) (json.RawMessage, error) {
	body := newContentRequest(req)
	body.GenerationConfig.ResponseMimeType = "application/json"
	body.GenerationConfig.ResponseJSONSchema = schema.JSON()

	resp, err := t.generate(ctx, req, body)
	if err != nil {
		return nil, err
	}

	return llm.DecodeJSON(ProviderGemini, resp.text, schema)
}

func (t *Transport) GenerateStream(ctx context.Context, req *llm.Request) (streams.Stream[string], error) {
	payload, err := json.Marshal(newContentRequest(req))
	if err != nil {
		return nil, err
	}

	request := t.request(req.Model, "streamGenerateContent", payload)
	request.Query = url.Values{"alt": []string{"sse"}}

	events, err := t.client.DoStream(ctx, request)
	if err != nil {
		return nil, shared.MapError(ctx, ProviderGemini, err)
	}

	return shared.TextStream(ctx, ProviderGemini, events, func(data []byte) (string, bool, error) {
		if msg := gjson.GetBytes(data, "error.message"); msg.Exists() {
			return "", false, &llm.StatusError{
				Provider:   ProviderGemini,
				StatusCode: int(lo.CoalesceOrEmpty(gjson.GetBytes(data, "error.code").Int(), http.StatusBadGateway)),
				Message:    msg.String(),
			}
		}

		if reason := gjson.GetBytes(data, "promptFeedback.blockReason").String(); reason != "" {
			return "", false, &llm.ParseError{Provider: ProviderGemini, Reason: "prompt blocked: " + reason}
		}

		text := candidateText(gjson.GetBytes(data, "candidates.0"))

		return text, text != "", nil
	}), nil
}

func (t *Transport) GenerateWithGrounding(ctx context.Context, req *llm.Request) (*llm.GroundedResult, error) {
	body := newContentRequest(req)
	body.Tools = []tool{{GoogleSearch: &struct{}{}}}

	resp, err := t.generate(ctx, req, body)
	if err != nil {
		return nil, err
	}

	return &llm.GroundedResult{
		Text:    resp.text,
		Sources: groundingSources(resp.candidate),
	}, nil
}

func (t *Transport) GenerateImage(ctx context.Context, req *llm.Request) (*llm.Image, error) {
	body := newContentRequest(req)
	body.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpResp, err := t.client.Do(ctx, t.request(req.Model, "generateContent", payload))
	if err != nil {
		return nil, shared.MapError(ctx, ProviderGemini, err)
	}

	candidate, err := firstCandidate(httpResp.Body)
	if err != nil {
		return nil, err
	}

	for _, part := range candidate.Get("content.parts").Array() {
		inline := part.Get("inlineData")
		if data := inline.Get("data").String(); data != "" {
			return &llm.Image{
				MimeType: lo.CoalesceOrEmpty(inline.Get("mimeType").String(), "image/png"),
				Data:     data,
			}, nil
		}
	}

	return nil, &llm.ParseError{Provider: ProviderGemini, Reason: "response without inline image"}
}

type generateResponse struct {
	text      string
	candidate gjson.Result
}

func (t *Transport) generate(ctx context.Context, req *llm.Request, body *contentRequest) (*generateResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(ctx, t.request(req.Model, "generateContent", payload))
	if err != nil {
		return nil, shared.MapError(ctx, ProviderGemini, err)
	}

	candidate, err := firstCandidate(resp.Body)
	if err != nil {
		return nil, err
	}

	text := candidateText(candidate)
	if text == "" {
		return nil, &llm.ParseError{
			Provider: ProviderGemini,
			Reason:   "empty candidate (finishReason " + candidate.Get("finishReason").String() + ")",
		}
	}

	return &generateResponse{text: text, candidate: candidate}, nil
}

func (t *Transport) request(model, action string, body []byte) *httpclient.Request {
	return &httpclient.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/models/%s:%s", t.baseURL, model, action),
		Body:   body,
		Auth: &httpclient.AuthConfig{
			Type:      httpclient.AuthTypeAPIKey,
			APIKey:    t.apiKey,
			HeaderKey: "x-goog-api-key",
		},
	}
}

func firstCandidate(body []byte) (gjson.Result, error) {
	if reason := gjson.GetBytes(body, "promptFeedback.blockReason").String(); reason != "" {
		return gjson.Result{}, &llm.ParseError{Provider: ProviderGemini, Reason: "prompt blocked: " + reason}
	}

	candidate := gjson.GetBytes(body, "candidates.0")
	if !candidate.Exists() {
		return gjson.Result{}, &llm.ParseError{Provider: ProviderGemini, Reason: "response without candidates"}
	}

	return candidate, nil
}

// candidateText joins the text parts of a candidate, skipping thought summaries.
func candidateText(candidate gjson.Result) string {
	var sb strings.Builder

	for _, part := range candidate.Get("content.parts").Array() {
		if part.Get("thought").Bool() {
			continue
		}

		sb.WriteString(part.Get("text").String())
	}

	return sb.String()
}

func groundingSources(candidate gjson.Result) []llm.Source {
	sources := make([]llm.Source, 0)

	for _, web := range candidate.Get("groundingMetadata.groundingChunks.#.web").Array() {
		uri := web.Get("uri").String()
		if uri == "" {
			continue
		}

		sources = append(sources, llm.Source{Title: web.Get("title").String(), URI: uri})
	}

	return lo.UniqBy(sources, func(s llm.Source) string { return s.URI })
}
