// Package httprequest provides the http_request and webhook actions.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/protocol"
)

const (
	ID = "http_request"

	defaultTimeoutMs = 30000
)

var (
	// ErrHTTPMethodInvalid is returned when the HTTP method is invalid.
	ErrHTTPMethodInvalid = errors.New("invalid HTTP method")
	// ErrHTTPRequestURLInvalid is returned when the request url is missing.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPServerError is returned when the server returns an error status code.
	ErrHTTPServerError = errors.New("server error during HTTP request")
)

var methods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// ActionFactory creates http_request actions sharing one client.
type ActionFactory struct {
	client *http.Client
}

func NewActionFactory(client *http.Client) *ActionFactory {
	if client == nil {
		client = &http.Client{}
	}

	return &ActionFactory{client: client}
}

func (f *ActionFactory) ID() string {
	return ID
}

func (f *ActionFactory) Definition() models.ActionDefinition {
	return models.ActionDefinition{
		ID:          ID,
		Name:        "HTTP Request",
		Description: "Make an HTTP request to an external API",
		Category:    models.CategoryIntegration,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":     map[string]any{"type": "string", "format": "uri", "title": "URL"},
				"method":  map[string]any{"type": "string", "enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE"}, "title": "Method", "default": "GET"},
				"headers": map[string]any{"type": "object", "title": "Headers"},
				"body":    map[string]any{"title": "Body"},
				"timeout": map[string]any{"type": "number", "title": "Timeout (ms)", "default": defaultTimeoutMs},
			},
			"required": []any{"url", "method"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status":  map[string]any{"type": "number"},
				"headers": map[string]any{"type": "object"},
				"body":    map[string]any{},
			},
		},
		Retryable: true,
		Timeout:   60000,
		RateLimit: &models.RateLimitConfig{MaxRequests: 100, WindowMs: 60000},
		Public:    true,
	}
}

func (f *ActionFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	action := &Action{client: f.client, Method: http.MethodGet, Timeout: defaultTimeoutMs}

	err := models.Decode(input, action)
	if err != nil {
		return nil, err
	}

	action.Method = strings.ToUpper(action.Method)

	err = action.Validate()
	if err != nil {
		return nil, err
	}

	return action, nil
}

// Action performs one HTTP request. Non-string bodies are sent as JSON.
type Action struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
	Timeout int64             `json:"timeout"`

	client *http.Client
}

// Validate checks if the Action has valid configuration.
func (a *Action) Validate() error {
	if a.URL == "" {
		return ErrHTTPRequestURLInvalid
	}

	if !methods[a.Method] {
		return fmt.Errorf("%w: %q", ErrHTTPMethodInvalid, a.Method)
	}

	return nil
}

func (a *Action) Execute(ctx context.Context, _ models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	logger.InfoContext(ctx, "Executing HTTP request", "method", a.Method, "url", a.URL)

	if a.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.Timeout)*time.Millisecond)
		defer cancel()
	}

	resp, err := send(ctx, a.client, a.Method, a.URL, a.Headers, a.Body)
	if err != nil {
		return nil, err
	}

	if resp.status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrHTTPServerError, resp.status)
	}

	logger.InfoContext(ctx, fmt.Sprintf("HTTP request completed with status %d", resp.status))

	return map[string]any{
		"status":  resp.status,
		"headers": resp.headers,
		"body":    resp.body,
	}, nil
}

type response struct {
	status  int
	headers map[string]any
	body    any
}

func send(
	ctx context.Context,
	client *http.Client,
	method, url string,
	headers map[string]string,
	body any,
) (*response, error) {
	reader, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var decoded any

	err = json.Unmarshal(bodyBytes, &decoded)
	if err != nil {
		decoded = string(bodyBytes)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		respHeaders[key] = resp.Header.Get(key)
	}

	return &response{status: resp.StatusCode, headers: respHeaders, body: decoded}, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return http.NoBody, "", nil
	case string:
		return strings.NewReader(b), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal body: %w", err)
		}

		return bytes.NewReader(data), "application/json", nil
	}
}
