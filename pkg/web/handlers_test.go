package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowrule/pkg/channels/gochannel"
	"github.com/dukex/flowrule/pkg/engine"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/log"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence/file"
	"github.com/dukex/flowrule/pkg/triggers/webhook"
	"github.com/dukex/flowrule/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = "tenant-1"

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := log.Discard()
	store := file.NewPersistence(t.TempDir())

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	e, err := engine.New(engine.Config{
		Logger: logger,
		Store:  store,
		Bus:    eventbus.NewWatermillEventBus(pub, sub, logger),
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background(), nil))

	t.Cleanup(func() {
		_ = e.Close(context.Background())
	})

	handlers := web.NewAPIHandlers(logger, e, store, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	web.Register(app, handlers)

	return app
}

type request struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

// do sends req as tenant-1 unless a tenant header is given and returns the status and body.
func do(t *testing.T, app *fiber.App, r request) (int, []byte) {
	t.Helper()

	var body io.Reader

	switch b := r.body.(type) {
	case nil:
	case string:
		body = bytes.NewBufferString(b)
	case []byte:
		body = bytes.NewBuffer(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)

		body = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(r.method, r.path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.TenantHeader, tenant)

	for key, value := range r.headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, out
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(body, &out))

	return out
}

func greetWorkflow() map[string]any {
	return map[string]any{
		"name": "Greet",
		"nodes": []map[string]any{
			{"id": "start", "name": "start", "type": "trigger", "config": map[string]any{}},
			{"id": "say", "name": "say", "type": "action", "config": map[string]any{
				"action_type": "log",
				"config":      map[string]any{"message": "hello {{ .name }}"},
			}},
			{"id": "done", "name": "done", "type": "end", "config": map[string]any{"output": map[string]any{"name": "{{ .name }}"}}},
		},
		"edges": []map[string]any{
			{"source": "start", "target": "say"},
			{"source": "say", "target": "done"},
		},
	}
}

func TestAPI_RequiresTenant(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := do(t, app, request{method: http.MethodGet, path: "/api/workflows", headers: map[string]string{web.TenantHeader: ""}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), web.TenantHeader)

	status, _ = do(t, app, request{method: http.MethodGet, path: "/health", headers: map[string]string{web.TenantHeader: ""}})
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedType   string
	}{
		{name: "successful creation", body: greetWorkflow(), expectedStatus: http.StatusCreated},
		{name: "missing name", body: map[string]any{"nodes": []any{}}, expectedStatus: http.StatusBadRequest, expectedType: "validation_error"},
		{name: "invalid JSON", body: "invalid-json", expectedStatus: http.StatusBadRequest, expectedType: "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			status, body := do(t, app, request{method: http.MethodPost, path: "/api/workflows", body: tt.body})
			assert.Equal(t, tt.expectedStatus, status)

			if tt.expectedType != "" {
				problem := decode[map[string]any](t, body)
				assert.Equal(t, tt.expectedType, problem["type"])

				return
			}

			wf := decode[models.Workflow](t, body)
			assert.NotEmpty(t, wf.ID)
			assert.Equal(t, tenant, wf.TenantID)
			assert.Equal(t, models.WorkflowStatusDraft, wf.Status)
			assert.Len(t, wf.Nodes, 3)
		})
	}
}

func TestAPI_WorkflowLifecycle(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := do(t, app, request{method: http.MethodPost, path: "/api/workflows", body: greetWorkflow()})
	require.Equal(t, http.StatusCreated, status)

	wf := decode[models.Workflow](t, body)
	base := "/api/workflows/" + wf.ID

	status, _ = do(t, app, request{method: http.MethodPost, path: base + "/execute", body: map[string]any{"input": map[string]any{"name": "ada"}}})
	assert.Equal(t, http.StatusConflict, status, "draft workflows do not run")

	status, body = do(t, app, request{method: http.MethodGet, path: base + "/validate"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, web.ValidationResponse{Valid: true, Errors: []string{}}, decode[web.ValidationResponse](t, body))

	status, body = do(t, app, request{method: http.MethodPost, path: base + "/activate"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.WorkflowStatusActive, decode[models.Workflow](t, body).Status)

	status, body = do(t, app, request{method: http.MethodPost, path: base + "/execute", body: map[string]any{"input": map[string]any{"name": "ada"}}})
	require.Equal(t, http.StatusAccepted, status)

	execution := decode[models.WorkflowExecution](t, body)
	assert.Equal(t, wf.ID, execution.WorkflowID)

	status, body = do(t, app, request{method: http.MethodGet, path: "/api/workflow-executions?workflow_id=" + wf.ID})
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1.0, decode[map[string]any](t, body)["total_count"], 0)

	status, _ = do(t, app, request{method: http.MethodGet, path: "/api/workflow-executions?limit=-1"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, request{method: http.MethodGet, path: "/api/workflows/wf_missing"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, request{method: http.MethodGet, path: base, headers: map[string]string{web.TenantHeader: "tenant-2"}})
	assert.Equal(t, http.StatusNotFound, status, "workflows are tenant scoped")

	status, body = do(t, app, request{method: http.MethodPost, path: base + "/duplicate", body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "Name")

	status, _ = do(t, app, request{method: http.MethodDelete, path: base})
	assert.Equal(t, http.StatusNoContent, status)
}

func TestAPI_Webhook(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := do(t, app, request{method: http.MethodPost, path: "/api/triggers", body: map[string]any{
		"name":    "orders",
		"type":    "webhook",
		"config":  map[string]any{"path": "orders/created", "secret": "s3cr3t"},
		"targets": []any{},
	}})
	require.Equal(t, http.StatusCreated, status)

	trigger := decode[models.Trigger](t, body)

	status, _ = do(t, app, request{method: http.MethodPost, path: "/api/triggers/" + trigger.ID + "/activate"})
	require.Equal(t, http.StatusOK, status)

	payload := []byte(`{"order":"o-1"}`)

	tests := []struct {
		name           string
		path           string
		headers        map[string]string
		expectedStatus int
	}{
		{
			name:           "signed",
			path:           "/webhooks/tenant-1/orders/created",
			headers:        map[string]string{web.SignatureHeader: webhook.Sign("s3cr3t", payload)},
			expectedStatus: http.StatusAccepted,
		},
		{name: "unsigned", path: "/webhooks/tenant-1/orders/created", expectedStatus: http.StatusForbidden},
		{
			name:           "unknown path",
			path:           "/webhooks/tenant-1/orders/deleted",
			headers:        map[string]string{web.SignatureHeader: webhook.Sign("s3cr3t", payload)},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "other tenant",
			path:           "/webhooks/tenant-2/orders/created",
			headers:        map[string]string{web.SignatureHeader: webhook.Sign("s3cr3t", payload)},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := do(t, app, request{method: http.MethodPost, path: tt.path, body: payload, headers: tt.headers})
			assert.Equal(t, tt.expectedStatus, status)
		})
	}

	status, body = do(t, app, request{method: http.MethodGet, path: "/api/triggers/" + trigger.ID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), decode[models.Trigger](t, body).Metadata.FireCount)
}

func TestAPI_FireManualTrigger(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := do(t, app, request{method: http.MethodPost, path: "/api/triggers", body: map[string]any{
		"name":    "button",
		"type":    "manual",
		"config":  map[string]any{"allowed_users": []string{"u-1"}, "allowed_roles": []string{"admin"}},
		"targets": []any{},
	}})
	require.Equal(t, http.StatusCreated, status)

	base := "/api/triggers/" + decode[models.Trigger](t, body).ID
	fire := base + "/fire"

	status, _ = do(t, app, request{method: http.MethodPost, path: fire, headers: map[string]string{web.UserHeader: "u-1"}})
	assert.Equal(t, http.StatusConflict, status, "inactive")

	status, _ = do(t, app, request{method: http.MethodPost, path: base + "/activate"})
	require.Equal(t, http.StatusOK, status)

	tests := []struct {
		name           string
		headers        map[string]string
		expectedStatus int
	}{
		{name: "allowed user", headers: map[string]string{web.UserHeader: "u-1"}, expectedStatus: http.StatusOK},
		{name: "allowed role", headers: map[string]string{web.UserHeader: "u-2", web.RolesHeader: "viewer, admin"}, expectedStatus: http.StatusOK},
		{name: "rejected", headers: map[string]string{web.UserHeader: "u-2", web.RolesHeader: "viewer"}, expectedStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := do(t, app, request{method: http.MethodPost, path: fire, body: map[string]any{"input": map[string]any{}}, headers: tt.headers})
			assert.Equal(t, tt.expectedStatus, status)
		})
	}
}

func TestAPI_Actions(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := do(t, app, request{method: http.MethodGet, path: "/api/actions"})
	require.Equal(t, http.StatusOK, status)

	var ids []string
	for _, definition := range decode[struct {
		Actions []models.ActionDefinition `json:"actions"`
	}](t, body).Actions {
		ids = append(ids, definition.ID)
	}

	assert.Contains(t, ids, "log")
	assert.Contains(t, ids, "start_workflow")

	status, body = do(t, app, request{method: http.MethodPost, path: "/api/actions/log/execute", body: map[string]any{"input": map[string]any{"message": "hi"}}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.ActionStatusSuccess, decode[models.ActionExecution](t, body).Status)

	status, _ = do(t, app, request{method: http.MethodPost, path: "/api/actions/missing/execute"})
	assert.Equal(t, http.StatusNotFound, status)
}
