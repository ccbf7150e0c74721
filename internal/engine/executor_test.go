package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opzenix/backend/internal/repository"
	"opzenix/backend/internal/services"
	"opzenix/backend/pkg/models"
)

func TestExecuteStepUnknownType(t *testing.T) {
	exec := newTestExecutor(repository.NewMemoryStore(), &fakeNotifier{})

	result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
		ID:   "s1",
		Type: models.StepType("teleport"),
	}, map[string]any{})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown step type: teleport")
}

func TestExecuteStepNeverPanics(t *testing.T) {
	exec := newTestExecutor(panickingRecords{}, &fakeNotifier{})

	// A panicking collaborator must surface as a failed result.
	result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
		ID:   "boom",
		Type: models.StepTypeAction,
		Config: map[string]any{
			"action_type": models.ActionCreateRecord,
			"table":       "tasks",
		},
	}, map[string]any{})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panicked")
}

func TestExecuteStepMalformedConfig(t *testing.T) {
	exec := newTestExecutor(repository.NewMemoryStore(), &fakeNotifier{})

	// Config whose types contradict the schema must fail, not crash.
	result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
		ID:   "s1",
		Type: models.StepTypeDelay,
		Config: map[string]any{
			"seconds": map[string]any{"nested": true},
		},
	}, map[string]any{})

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestExecuteConditionStep(t *testing.T) {
	exec := newTestExecutor(repository.NewMemoryStore(), &fakeNotifier{})

	execCtx := map[string]any{
		"input": map[string]any{"hours": 45},
	}

	result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
		ID:   "check",
		Type: models.StepTypeCondition,
		Config: map[string]any{
			"field":    "input.hours",
			"operator": "greater_than",
			"value":    40,
		},
	}, execCtx)

	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"conditionMet": true}, result.Output)
}

func TestExecuteConditionMissingPathIsNotAnError(t *testing.T) {
	exec := newTestExecutor(repository.NewMemoryStore(), &fakeNotifier{})

	result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
		ID:   "check",
		Type: models.StepTypeCondition,
		Config: map[string]any{
			"field":    "no.such.path",
			"operator": "is_empty",
		},
	}, map[string]any{})

	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"conditionMet": true}, result.Output)
}

func TestLookupPath(t *testing.T) {
	ctx := map[string]any{
		"step_s1": map[string]any{
			"record": map[string]any{"x": 1},
		},
	}

	assert.Equal(t, 1, lookupPath(ctx, "step_s1.record.x"))
	assert.Nil(t, lookupPath(ctx, "step_s1.record.missing"))
	assert.Nil(t, lookupPath(ctx, "step_s1.record.x.deeper"))
	assert.Nil(t, lookupPath(ctx, ""))
}

func TestClampDelaySeconds(t *testing.T) {
	assert.Equal(t, 0, clampDelaySeconds(-5))
	assert.Equal(t, 0, clampDelaySeconds(0))
	assert.Equal(t, 10, clampDelaySeconds(10))
	assert.Equal(t, 30, clampDelaySeconds(30))
	assert.Equal(t, 30, clampDelaySeconds(86400))
}

func TestExecuteDelayStep(t *testing.T) {
	exec := newTestExecutor(repository.NewMemoryStore(), &fakeNotifier{})

	result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
		ID:     "wait",
		Type:   models.StepTypeDelay,
		Config: map[string]any{"seconds": 0},
	}, map[string]any{})

	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"delayedSeconds": 0}, result.Output)
}

func TestExecuteNotificationStep(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		notifier := &fakeNotifier{result: &services.NotificationResult{Success: true, ID: "n-1"}}
		exec := newTestExecutor(repository.NewMemoryStore(), notifier)

		result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
			ID:   "notify",
			Type: models.StepTypeNotification,
			Config: map[string]any{
				"channel": "email",
				"target":  "hr@example.com",
				"subject": "hello",
				"body":    "world",
			},
		}, map[string]any{})

		require.True(t, result.Success)
		assert.Equal(t, "n-1", result.Output["notificationId"])
		assert.Equal(t, []string{"hr@example.com"}, notifier.sent)
	})

	t.Run("adapter failure mirrors into result", func(t *testing.T) {
		notifier := &fakeNotifier{result: &services.NotificationResult{Success: false, Error: "mailbox full"}}
		exec := newTestExecutor(repository.NewMemoryStore(), notifier)

		result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
			ID:     "notify",
			Type:   models.StepTypeNotification,
			Config: map[string]any{"channel": "email", "target": "hr@example.com"},
		}, map[string]any{})

		assert.False(t, result.Success)
		assert.Equal(t, "mailbox full", result.Error)
	})

	t.Run("transport error mirrors into result", func(t *testing.T) {
		notifier := &fakeNotifier{err: errors.New("connection refused")}
		exec := newTestExecutor(repository.NewMemoryStore(), notifier)

		result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
			ID:     "notify",
			Type:   models.StepTypeNotification,
			Config: map[string]any{"channel": "email", "target": "hr@example.com"},
		}, map[string]any{})

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "connection refused")
	})
}

func TestExecuteActionCreateRecord(t *testing.T) {
	store := repository.NewMemoryStore()
	exec := newTestExecutor(store, &fakeNotifier{})

	result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
		ID:   "create",
		Type: models.StepTypeAction,
		Config: map[string]any{
			"action_type": models.ActionCreateRecord,
			"table":       "tasks",
			"fields":      map[string]any{"status": "pending"},
		},
	}, map[string]any{})

	require.True(t, result.Success)
	record, ok := result.Output["record"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pending", record["status"])
	assert.NotEmpty(t, record["id"])
}

func TestExecuteActionUpdateRecordFailure(t *testing.T) {
	exec := newTestExecutor(failingRecords{}, &fakeNotifier{})

	result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
		ID:   "update",
		Type: models.StepTypeAction,
		Config: map[string]any{
			"action_type": models.ActionUpdateRecord,
			"table":       "tasks",
			"fields":      map[string]any{"status": "done"},
			"match":       map[string]any{"status": "pending"},
		},
	}, map[string]any{})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "datastore unavailable")
}

func TestExecuteActionUnknownType(t *testing.T) {
	exec := newTestExecutor(repository.NewMemoryStore(), &fakeNotifier{})

	result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
		ID:     "weird",
		Type:   models.StepTypeAction,
		Config: map[string]any{"action_type": "launch_rocket"},
	}, map[string]any{})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown action type: launch_rocket")
}

func TestExecuteActionHTTPRequest(t *testing.T) {
	t.Run("2xx succeeds", func(t *testing.T) {
		var gotMethod, gotHeader string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotHeader = r.Header.Get("X-Api-Key")
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		exec := newTestExecutor(repository.NewMemoryStore(), &fakeNotifier{})
		result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
			ID:   "call",
			Type: models.StepTypeAction,
			Config: map[string]any{
				"action_type": models.ActionHTTPRequest,
				"url":         srv.URL,
				"method":      "post",
				"headers":     map[string]string{"X-Api-Key": "secret"},
				"body":        map[string]any{"hello": "world"},
			},
		}, map[string]any{})

		require.True(t, result.Success)
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "secret", gotHeader)
		assert.Equal(t, http.StatusCreated, result.Output["statusCode"])
	})

	t.Run("5xx fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		exec := newTestExecutor(repository.NewMemoryStore(), &fakeNotifier{})
		result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
			ID:     "call",
			Type:   models.StepTypeAction,
			Config: map[string]any{"action_type": models.ActionHTTPRequest, "url": srv.URL},
		}, map[string]any{})

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "returned status 500")
	})

	t.Run("network error fails fast", func(t *testing.T) {
		exec := newTestExecutor(repository.NewMemoryStore(), &fakeNotifier{})
		result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
			ID:     "call",
			Type:   models.StepTypeAction,
			Config: map[string]any{"action_type": models.ActionHTTPRequest, "url": "http://127.0.0.1:1"},
		}, map[string]any{})

		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
	})
}

func TestExecuteIntegrationStep(t *testing.T) {
	exec := newTestExecutor(repository.NewMemoryStore(), &fakeNotifier{})

	result := exec.ExecuteStep(context.Background(), "t1", &models.WorkflowStep{
		ID:     "sync",
		Type:   models.StepTypeIntegration,
		Config: map[string]any{"integration_id": "slack"},
	}, map[string]any{})

	require.True(t, result.Success)
	assert.Equal(t, "slack", result.Output["integrationId"])
}
