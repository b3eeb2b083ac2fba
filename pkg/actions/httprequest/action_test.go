package httprequest_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/flowrule/pkg/actions/httprequest"
	"github.com/dukex/flowrule/pkg/log"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionFactory_Create(t *testing.T) {
	t.Parallel()

	factory := httprequest.NewActionFactory(nil)

	tests := []struct {
		name        string
		input       map[string]any
		expectedErr error
		expected    string
	}{
		{
			name:     "method defaults to GET",
			input:    map[string]any{"url": "https://api.example.com/data"},
			expected: http.MethodGet,
		},
		{
			name:     "lowercase method is normalized",
			input:    map[string]any{"url": "https://api.example.com/data", "method": "post"},
			expected: http.MethodPost,
		},
		{
			name:        "missing url",
			input:       map[string]any{"method": "GET"},
			expectedErr: httprequest.ErrHTTPRequestURLInvalid,
		},
		{
			name:        "unsupported method",
			input:       map[string]any{"url": "https://api.example.com", "method": "TRACE"},
			expectedErr: httprequest.ErrHTTPMethodInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			action, err := factory.Create(context.Background(), tt.input)
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, action.(*httprequest.Action).Method)
		})
	}
}

func TestActionFactory_Definition(t *testing.T) {
	t.Parallel()

	definition := httprequest.NewActionFactory(nil).Definition()
	assert.Equal(t, "http_request", definition.ID)
	assert.True(t, definition.Retryable)
	assert.Equal(t, int64(60000), definition.Timeout)
	require.NotNil(t, definition.RateLimit)
	assert.Equal(t, 100, definition.RateLimit.MaxRequests)
	assert.Equal(t, int64(60000), definition.RateLimit.WindowMs)
}

func TestAction_Execute(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "value", payload["key"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42}`))
	}))
	defer server.Close()

	action, err := httprequest.NewActionFactory(server.Client()).Create(context.Background(), map[string]any{
		"url":     server.URL + "/create",
		"method":  "POST",
		"headers": map[string]any{"Authorization": "Bearer token123"},
		"body":    map[string]any{"key": "value"},
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.ActionContext{}, log.Discard())
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, output["status"])
	assert.Equal(t, map[string]any{"id": 42.0}, output["body"])
	assert.Equal(t, "application/json", output["headers"].(map[string]any)["Content-Type"])
}

func TestAction_ExecuteStatusHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		expectError bool
	}{
		{name: "client error is returned as output", status: http.StatusNotFound},
		{name: "server error fails", status: http.StatusBadGateway, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("plain"))
			}))
			defer server.Close()

			action, err := httprequest.NewActionFactory(server.Client()).Create(context.Background(), map[string]any{
				"url": server.URL,
			})
			require.NoError(t, err)

			output, err := action.Execute(context.Background(), models.ActionContext{}, log.Discard())
			if tt.expectError {
				require.ErrorIs(t, err, httprequest.ErrHTTPServerError)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.status, output["status"])
			assert.Equal(t, "plain", output["body"])
		})
	}
}

func TestWebhookAction_Execute(t *testing.T) {
	t.Parallel()

	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/reject" {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		_ = json.NewDecoder(r.Body).Decode(&received)

		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	factory := httprequest.NewWebhookFactory(server.Client())
	assert.Equal(t, "webhook", factory.ID())

	action, err := factory.Create(context.Background(), map[string]any{
		"url":     server.URL + "/hook",
		"payload": map[string]any{"event": "order.created"},
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.ActionContext{}, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, output["status"])
	assert.Equal(t, map[string]any{"ok": true}, output["response"])
	assert.Equal(t, "order.created", received["event"])

	rejected, err := factory.Create(context.Background(), map[string]any{
		"url":     server.URL + "/reject",
		"payload": map[string]any{},
	})
	require.NoError(t, err)

	_, err = rejected.Execute(context.Background(), models.ActionContext{}, log.Discard())
	require.ErrorIs(t, err, httprequest.ErrWebhookRejected)
}
