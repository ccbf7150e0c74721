package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"opzenix/backend/internal/auth"
	"opzenix/backend/internal/engine"
	"opzenix/backend/internal/repository"
	"opzenix/backend/pkg/models"
)

// TriggerRequest is the body of POST /api/v1/workflows/trigger.
type TriggerRequest struct {
	WorkflowID  string         `json:"workflowId"`
	TriggerType string         `json:"triggerType,omitempty"`
	InputData   map[string]any `json:"inputData,omitempty"`
	Async       bool           `json:"async,omitempty"`
}

// TriggerResponse is returned for both sync and async triggers. Output and
// StepsExecuted are only populated for sync triggers.
type TriggerResponse struct {
	RunID         string           `json:"runId"`
	Status        models.RunStatus `json:"status"`
	Output        map[string]any   `json:"output,omitempty"`
	StepsExecuted int              `json:"stepsExecuted,omitempty"`
}

// TriggerWorkflow starts a run of a workflow definition. Sync triggers
// block for the full execution; async triggers return 202 once the run is
// queued.
// (POST /api/v1/workflows/trigger)
func (s *Server) TriggerWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req TriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.WorkflowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflowId is required")
	}

	tenantID := auth.TenantID(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "tenant not found in context")
	}

	triggerType := models.TriggerType(req.TriggerType)
	switch triggerType {
	case "", models.TriggerManual, models.TriggerScheduled, models.TriggerEvent:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid triggerType: "+req.TriggerType)
	}

	result, err := s.Workflows.Trigger(ctx, engine.TriggerRequest{
		TenantID:    tenantID,
		WorkflowID:  req.WorkflowID,
		TriggeredBy: auth.Subject(ctx),
		TriggerType: triggerType,
		InputData:   req.InputData,
		Async:       req.Async,
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrDefinitionNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "workflow definition not found")
		case errors.Is(err, engine.ErrWorkflowInactive):
			return echo.NewHTTPError(http.StatusBadRequest, "workflow is not active")
		case errors.Is(err, engine.ErrQueueFull), errors.Is(err, engine.ErrQueueClosed):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	status := http.StatusOK
	if req.Async {
		status = http.StatusAccepted
	}
	return c.JSON(status, TriggerResponse{
		RunID:         result.RunID,
		Status:        result.Status,
		Output:        result.Output,
		StepsExecuted: result.StepsExecuted,
	})
}

// ListRuns returns the runs of the caller's tenant, most recent first.
// (GET /api/v1/runs)
func (s *Server) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := auth.TenantID(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "tenant not found in context")
	}

	runs, err := s.Runs.ListRuns(ctx, tenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, runs)
}

// GetRun returns one workflow run.
// (GET /api/v1/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := auth.TenantID(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "tenant not found in context")
	}

	run, err := s.Runs.GetRun(ctx, tenantID, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, run)
}

// GetRunSteps returns the step logs of one run in execution order.
// (GET /api/v1/runs/:id/steps)
func (s *Server) GetRunSteps(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := auth.TenantID(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "tenant not found in context")
	}

	// Tenant check goes through the run row; step logs carry no tenant.
	if _, err := s.Runs.GetRun(ctx, tenantID, c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	logs, err := s.StepLogs.ListStepLogs(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, logs)
}
