package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/pkg/streams"
)

// Config tunes the outbound HTTP client shared by the provider transports.
type Config struct {
	// Overall timeout of non streaming requests. Zero means none.
	Timeout time.Duration `conf:"timeout" yaml:"timeout" json:"timeout"`

	// Proxy URL; empty uses the environment (HTTP_PROXY, HTTPS_PROXY, NO_PROXY).
	ProxyURL string `conf:"proxy_url" yaml:"proxy_url" json:"proxy_url"`

	UserAgent string `conf:"user_agent" yaml:"user_agent" json:"user_agent"`
}

// HttpClient executes provider requests.
type HttpClient struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewHttpClient creates a client with a pooled transport.
func NewHttpClient(cfg Config) (*HttpClient, error) {
	proxy := http.ProxyFromEnvironment

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}

		log.Debug(context.Background(), "use custom proxy", log.String("proxy_url", proxyURL.Redacted()))

		proxy = http.ProxyURL(proxyURL)
	}

	transport := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return NewHttpClientWithClient(&http.Client{Transport: transport}, cfg), nil
}

// NewHttpClientWithClient wraps an existing http.Client.
func NewHttpClientWithClient(client *http.Client, cfg Config) *HttpClient {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "reportflow/1.0"
	}

	return &HttpClient{
		client:    client,
		timeout:   cfg.Timeout,
		userAgent: userAgent,
	}
}

// Do executes the request and buffers the response. Responses with a status of 400 or above
// are returned as *Error.
func (hc *HttpClient) Do(ctx context.Context, request *Request) (*Response, error) {
	if hc.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, hc.timeout)
		defer cancel()
	}

	rawReq, err := hc.buildHttpRequest(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP request: %w", err)
	}

	rawReq.Header.Set("Accept", "application/json")

	rawResp, err := hc.client.Do(rawReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	defer closeBody(ctx, rawResp.Body)

	body, err := io.ReadAll(rawResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if rawResp.StatusCode >= 400 {
		return nil, hc.statusError(ctx, rawReq, rawResp, body)
	}

	if log.DebugEnabled(ctx) {
		log.Debug(ctx, "HTTP request success",
			log.String("method", rawReq.Method),
			log.String("url", rawReq.URL.Redacted()),
			log.Int("status_code", rawResp.StatusCode),
			log.Int("body_size", len(body)))
	}

	return &Response{
		StatusCode: rawResp.StatusCode,
		Headers:    rawResp.Header,
		Body:       body,
	}, nil
}

// DoStream executes a Server-Sent Events request. The returned stream owns the response body
// and stops with ctx.
func (hc *HttpClient) DoStream(ctx context.Context, request *Request) (streams.Stream[*StreamEvent], error) {
	rawReq, err := hc.buildHttpRequest(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP request: %w", err)
	}

	rawReq.Header.Set("Accept", "text/event-stream")
	rawReq.Header.Set("Cache-Control", "no-cache")

	rawResp, err := hc.client.Do(rawReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP stream request failed: %w", err)
	}

	if rawResp.StatusCode >= 400 {
		defer closeBody(ctx, rawResp.Body)

		body, err := io.ReadAll(rawResp.Body)
		if err != nil {
			return nil, err
		}

		return nil, hc.statusError(ctx, rawReq, rawResp, body)
	}

	return NewSSEDecoder(ctx, rawResp.Body), nil
}

func (hc *HttpClient) statusError(ctx context.Context, rawReq *http.Request, rawResp *http.Response, body []byte) error {
	if log.DebugEnabled(ctx) {
		log.Debug(ctx, "HTTP request failed",
			log.String("method", rawReq.Method),
			log.String("url", rawReq.URL.Redacted()),
			log.Int("status_code", rawResp.StatusCode),
			log.String("body", string(body)))
	}

	return &Error{
		Method:     rawReq.Method,
		URL:        rawReq.URL.Redacted(),
		StatusCode: rawResp.StatusCode,
		Status:     rawResp.Status,
		Headers:    rawResp.Header,
		Body:       body,
	}
}

func (hc *HttpClient) buildHttpRequest(ctx context.Context, request *Request) (*http.Request, error) {
	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, request.Method, request.URL, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header = request.Headers.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}

	for k := range blockedHeaders {
		httpReq.Header.Del(k)
	}

	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", hc.userAgent)
	}

	if len(request.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if request.Auth != nil {
		if err := applyAuth(httpReq.Header, request.Auth); err != nil {
			return nil, fmt.Errorf("failed to apply authentication: %w", err)
		}
	}

	if len(request.Query) > 0 {
		if httpReq.URL.RawQuery != "" {
			httpReq.URL.RawQuery += "&"
		}

		httpReq.URL.RawQuery += request.Query.Encode()
	}

	return httpReq, nil
}

func applyAuth(headers http.Header, auth *AuthConfig) error {
	switch auth.Type {
	case AuthTypeBearer:
		if auth.APIKey == "" {
			return errors.New("bearer token is required")
		}

		headers.Set("Authorization", "Bearer "+auth.APIKey)
	case AuthTypeAPIKey:
		if auth.HeaderKey == "" {
			return errors.New("header key is required")
		}

		headers.Set(auth.HeaderKey, auth.APIKey)
	default:
		return fmt.Errorf("unsupported auth type: %s", auth.Type)
	}

	return nil
}

func closeBody(ctx context.Context, body io.Closer) {
	if err := body.Close(); err != nil {
		log.Warn(ctx, "failed to close HTTP response body", log.Cause(err))
	}
}
