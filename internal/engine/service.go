package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"opzenix/backend/internal/logging"
	"opzenix/backend/internal/repository"
	"opzenix/backend/pkg/models"
)

// Trigger rejection reasons, surfaced to the API boundary before any run
// state exists.
var (
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrWorkflowInactive   = errors.New("workflow is not active")
)

// TriggerRequest carries everything needed to start a run.
type TriggerRequest struct {
	TenantID    string
	WorkflowID  string
	TriggeredBy string
	TriggerType models.TriggerType
	InputData   map[string]any
	Async       bool
}

// TriggerResult is returned to the caller. For async triggers only the run
// ID and running status are populated; the outcome is observable through
// the run store.
type TriggerResult struct {
	RunID         string
	Status        models.RunStatus
	Output        map[string]any
	StepsExecuted int
}

// Service validates trigger requests, creates run rows, and hands runs to
// the engine either synchronously or through the async dispatcher.
type Service struct {
	definitions repository.DefinitionStore
	runs        repository.RunStore
	engine      *Engine
	dispatcher  *Dispatcher
	logger      *logging.Logger
}

// NewService creates the trigger service. The dispatcher may be nil, in
// which case async triggers are rejected.
func NewService(definitions repository.DefinitionStore, runs repository.RunStore, engine *Engine, dispatcher *Dispatcher, logger *logging.Logger) *Service {
	return &Service{
		definitions: definitions,
		runs:        runs,
		engine:      engine,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

// Trigger validates the request, persists a running WorkflowRun, and
// executes it. Sync triggers block for the full run and return its outcome;
// async triggers return after the run is queued.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	def, err := s.definitions.GetDefinition(ctx, req.TenantID, req.WorkflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("load definition %s: %w", req.WorkflowID, err)
	}
	if !def.IsActive {
		return nil, ErrWorkflowInactive
	}

	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = models.TriggerManual
	}

	run := &models.WorkflowRun{
		ID:          uuid.New().String(),
		TenantID:    req.TenantID,
		WorkflowID:  req.WorkflowID,
		TriggeredBy: req.TriggeredBy,
		TriggerType: triggerType,
		Status:      models.RunStatusRunning,
		InputData:   req.InputData,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	s.logger.Info("workflow triggered",
		"tenant_id", req.TenantID,
		"workflow_id", req.WorkflowID,
		"run_id", run.ID,
		"trigger_type", triggerType,
		"async", req.Async,
	)

	if req.Async {
		if s.dispatcher == nil {
			return nil, s.rejectRun(ctx, run.ID, errors.New("async triggers are not enabled"))
		}
		if err := s.dispatcher.Enqueue(runJob{definition: def, runID: run.ID, input: req.InputData}); err != nil {
			return nil, s.rejectRun(ctx, run.ID, err)
		}
		return &TriggerResult{RunID: run.ID, Status: models.RunStatusRunning}, nil
	}

	result := s.engine.Execute(ctx, def, run.ID, req.InputData)
	return &TriggerResult{
		RunID:         run.ID,
		Status:        result.Status,
		Output:        result.Output,
		StepsExecuted: result.StepsExecuted,
	}, nil
}

// rejectRun marks a run that never reached a worker as failed. Without this
// a rejected async trigger would leave its run stuck in running state with
// no worker ever picking it up.
func (s *Service) rejectRun(ctx context.Context, runID string, cause error) error {
	output := map[string]any{"error": cause.Error(), "stepsCompleted": 0}
	if err := s.runs.FinishRun(ctx, runID, models.RunStatusFailed, output); err != nil {
		s.logger.Error("failed to mark rejected run as failed", "run_id", runID, "error", err)
	}
	return cause
}
