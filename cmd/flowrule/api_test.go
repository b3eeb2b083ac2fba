package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowrule/pkg/channels/gochannel"
	"github.com/dukex/flowrule/pkg/engine"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/log"
	"github.com/dukex/flowrule/pkg/persistence/file"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := log.Discard()
	store := file.NewPersistence(t.TempDir())

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	e, err := engine.New(engine.Config{Logger: logger, Store: store, Bus: eventbus.NewWatermillEventBus(pub, sub, logger)})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = e.Close(context.Background())
	})

	return NewAPI(logger, e, store).App()
}

func TestAPI_Endpoints(t *testing.T) {
	app := setupTestApp(t)

	tests := []struct {
		name           string
		path           string
		headers        map[string]string
		expectedStatus int
		expectedBody   string
	}{
		{name: "root", path: "/", expectedStatus: http.StatusOK, expectedBody: "Flowrule API"},
		{name: "liveness", path: "/livez", expectedStatus: http.StatusOK},
		{name: "readiness", path: "/readyz", expectedStatus: http.StatusOK},
		{name: "health", path: "/health", expectedStatus: http.StatusOK, expectedBody: "healthy"},
		{name: "metrics", path: "/metrics", expectedStatus: http.StatusOK, expectedBody: "go_goroutines"},
		{
			name:           "api",
			path:           "/api/workflows",
			headers:        map[string]string{"X-Tenant-ID": "tenant-1"},
			expectedStatus: http.StatusOK,
			expectedBody:   "total_count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for key, value := range tt.headers {
				req.Header.Set(key, value)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.expectedBody)
		})
	}
}
