package httprequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/protocol"
)

const WebhookID = "webhook"

// ErrWebhookRejected is returned when the receiver answers with a non-2xx status.
var ErrWebhookRejected = errors.New("webhook rejected")

// WebhookFactory creates webhook actions, a POST of a JSON payload.
type WebhookFactory struct {
	client *http.Client
}

func NewWebhookFactory(client *http.Client) *WebhookFactory {
	if client == nil {
		client = &http.Client{}
	}

	return &WebhookFactory{client: client}
}

func (f *WebhookFactory) ID() string {
	return WebhookID
}

func (f *WebhookFactory) Definition() models.ActionDefinition {
	return models.ActionDefinition{
		ID:          WebhookID,
		Name:        "Send Webhook",
		Description: "Send data to a webhook URL",
		Category:    models.CategoryIntegration,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":     map[string]any{"type": "string", "title": "Webhook URL"},
				"payload": map[string]any{"type": "object", "title": "Payload"},
				"headers": map[string]any{"type": "object", "title": "Headers"},
			},
			"required": []any{"url", "payload"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status":   map[string]any{"type": "number"},
				"response": map[string]any{},
			},
		},
		Retryable: true,
		Timeout:   30000,
		Public:    true,
	}
}

func (f *WebhookFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	action := &WebhookAction{client: f.client}

	err := models.Decode(input, action)
	if err != nil {
		return nil, err
	}

	if action.URL == "" {
		return nil, ErrHTTPRequestURLInvalid
	}

	return action, nil
}

type WebhookAction struct {
	URL     string            `json:"url"`
	Payload map[string]any    `json:"payload"`
	Headers map[string]string `json:"headers"`

	client *http.Client
}

func (a *WebhookAction) Execute(ctx context.Context, _ models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	logger.InfoContext(ctx, "Sending webhook", "url", a.URL)

	payload := a.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	resp, err := send(ctx, a.client, http.MethodPost, a.URL, a.Headers, payload)
	if err != nil {
		return nil, err
	}

	if resp.status < 200 || resp.status >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrWebhookRejected, resp.status)
	}

	return map[string]any{"status": resp.status, "response": resp.body}, nil
}
