package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opzenix/backend/internal/auth"
	"opzenix/backend/internal/engine"
	"opzenix/backend/internal/logging"
	"opzenix/backend/internal/repository"
	"opzenix/backend/internal/services"
	"opzenix/backend/pkg/models"
)

type httpNotifier struct{}

func (httpNotifier) Send(ctx context.Context, channel, target, subject, body string) (*services.NotificationResult, error) {
	return &services.NotificationResult{Success: true, ID: "n-1"}, nil
}

// tenantMiddleware injects the tenant the way auth.RequireAuth does, so
// handlers can be exercised without a live OIDC provider.
func tenantMiddleware(tenantID, subject string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tenantID != "" {
				ctx := auth.WithTenant(c.Request().Context(), tenantID, subject)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

func newTestServer(t *testing.T, tenantID string) (*echo.Echo, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()

	executor := engine.NewExecutor(store, httpNotifier{}, nil, logging.NewNop())
	eng := engine.NewEngine(store, store, executor, logging.NewNop())
	dispatcher := engine.NewDispatcher(eng, 1, 4, logging.NewNop())
	dispatcher.Start()
	t.Cleanup(func() { _ = dispatcher.Shutdown(context.Background()) })
	svc := engine.NewService(store, store, eng, dispatcher, logging.NewNop())

	server := NewServer(store, store, store, svc, logging.NewNop())

	e := echo.New()
	g := e.Group("/api/v1", tenantMiddleware(tenantID, "user@acme.com"))
	server.RegisterRoutes(g)
	return e, store
}

func seedWorkflow(t *testing.T, store *repository.MemoryStore, tenantID string, active bool) *models.WorkflowDefinition {
	t.Helper()
	def := &models.WorkflowDefinition{
		ID: "wf-1", TenantID: tenantID, Name: "notify", IsActive: active,
		Steps: []models.WorkflowStep{
			{
				ID: "n1", Type: models.StepTypeNotification,
				Config: map[string]any{"channel": "email", "target": "hr@example.com"},
			},
		},
	}
	require.NoError(t, store.PutDefinition(context.Background(), def))
	return def
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTriggerWorkflowSync(t *testing.T) {
	e, store := newTestServer(t, "t1")
	seedWorkflow(t, store, "t1", true)

	rec := doJSON(e, http.MethodPost, "/api/v1/workflows/trigger",
		`{"workflowId":"wf-1","inputData":{"employee":"jo"}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.RunStatusCompleted, resp.Status)
	assert.Equal(t, 1, resp.StepsExecuted)
	assert.NotEmpty(t, resp.RunID)

	run, err := store.GetRun(context.Background(), "t1", resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, "user@acme.com", run.TriggeredBy)
}

func TestTriggerWorkflowAsync(t *testing.T) {
	e, store := newTestServer(t, "t1")
	seedWorkflow(t, store, "t1", true)

	rec := doJSON(e, http.MethodPost, "/api/v1/workflows/trigger",
		`{"workflowId":"wf-1","async":true}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.RunStatusRunning, resp.Status)
	assert.Zero(t, resp.StepsExecuted)

	// The run reaches a terminal state without further requests.
	require.Eventually(t, func() bool {
		run, err := store.GetRun(context.Background(), "t1", resp.RunID)
		return err == nil && run.Status == models.RunStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTriggerWorkflowValidation(t *testing.T) {
	e, store := newTestServer(t, "t1")
	seedWorkflow(t, store, "t1", true)

	t.Run("missing workflowId", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/api/v1/workflows/trigger", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid triggerType", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/api/v1/workflows/trigger",
			`{"workflowId":"wf-1","triggerType":"webhook"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/api/v1/workflows/trigger", `{"workflowId":"ghost"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTriggerWorkflowInactive(t *testing.T) {
	e, store := newTestServer(t, "t1")
	seedWorkflow(t, store, "t1", false)

	rec := doJSON(e, http.MethodPost, "/api/v1/workflows/trigger", `{"workflowId":"wf-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not active")
}

func TestTriggerWorkflowWithoutTenant(t *testing.T) {
	e, store := newTestServer(t, "")
	seedWorkflow(t, store, "t1", true)

	rec := doJSON(e, http.MethodPost, "/api/v1/workflows/trigger", `{"workflowId":"wf-1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetRun(t *testing.T) {
	e, store := newTestServer(t, "t1")
	seedWorkflow(t, store, "t1", true)

	rec := doJSON(e, http.MethodPost, "/api/v1/workflows/trigger", `{"workflowId":"wf-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var triggered TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &triggered))

	rec = doJSON(e, http.MethodGet, "/api/v1/runs/"+triggered.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "wf-1", run.WorkflowID)

	rec = doJSON(e, http.MethodGet, "/api/v1/runs/no-such-run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	e, store := newTestServer(t, "t1")
	seedWorkflow(t, store, "t1", true)

	rec := doJSON(e, http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	doJSON(e, http.MethodPost, "/api/v1/workflows/trigger", `{"workflowId":"wf-1"}`)
	doJSON(e, http.MethodPost, "/api/v1/workflows/trigger", `{"workflowId":"wf-1"}`)

	// A run from another tenant must not show up.
	require.NoError(t, store.CreateRun(context.Background(), &models.WorkflowRun{
		ID: "run-t2", TenantID: "t2", WorkflowID: "wf-1",
		Status: models.RunStatusRunning, StartedAt: time.Now().UTC(),
	}))

	rec = doJSON(e, http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, "t1", run.TenantID)
		assert.Equal(t, models.RunStatusCompleted, run.Status)
	}
}

func TestGetRunSteps(t *testing.T) {
	e, store := newTestServer(t, "t1")
	seedWorkflow(t, store, "t1", true)

	rec := doJSON(e, http.MethodPost, "/api/v1/workflows/trigger", `{"workflowId":"wf-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var triggered TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &triggered))

	rec = doJSON(e, http.MethodGet, "/api/v1/runs/"+triggered.RunID+"/steps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []models.StepLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "n1", logs[0].StepID)
	assert.Equal(t, models.StepLogCompleted, logs[0].Status)
}

func TestGetRunOtherTenantIsHidden(t *testing.T) {
	e, store := newTestServer(t, "t2")
	seedWorkflow(t, store, "t1", true)
	require.NoError(t, store.CreateRun(context.Background(), &models.WorkflowRun{
		ID: "run-t1", TenantID: "t1", WorkflowID: "wf-1",
		Status: models.RunStatusRunning, StartedAt: time.Now().UTC(),
	}))

	rec := doJSON(e, http.MethodGet, "/api/v1/runs/run-t1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v1/runs/run-t1/steps", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutWorkflow(t *testing.T) {
	e, store := newTestServer(t, "t1")

	body := `{"name":"onboarding","is_active":true,"steps":[
		{"id":"A","type":"action","on_success":"B","config":{"action_type":"create_record","table":"tasks","fields":{"title":"x"}}},
		{"id":"B","type":"notification","config":{"channel":"email","target":"it@example.com"}}
	]}`
	rec := doJSON(e, http.MethodPut, "/api/v1/workflows", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var def models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	assert.NotEmpty(t, def.ID)
	assert.Equal(t, "t1", def.TenantID)
	assert.Equal(t, "user@acme.com", def.CreatedBy)

	stored, err := store.GetDefinition(context.Background(), "t1", def.ID)
	require.NoError(t, err)
	assert.Equal(t, "onboarding", stored.Name)
}

func TestPutWorkflowRejectsInvalidDefinition(t *testing.T) {
	e, _ := newTestServer(t, "t1")

	// B is referenced but never defined.
	body := `{"name":"broken","steps":[
		{"id":"A","type":"notification","on_success":"B","config":{"channel":"email","target":"x@example.com"}}
	]}`
	rec := doJSON(e, http.MethodPut, "/api/v1/workflows", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid workflow definition")
}

func TestListWorkflows(t *testing.T) {
	e, store := newTestServer(t, "t1")
	seedWorkflow(t, store, "t1", true)
	require.NoError(t, store.PutDefinition(context.Background(), &models.WorkflowDefinition{
		ID: "wf-other", TenantID: "t2", Name: "other tenant",
	}))

	rec := doJSON(e, http.MethodGet, "/api/v1/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var defs []models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "wf-1", defs[0].ID)
}

func TestHandleHealth(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", HandleHealth)

	rec := doJSON(e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
}
