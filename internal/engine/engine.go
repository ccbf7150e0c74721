// Package engine implements the workflow execution core: the run state
// machine, the step executor, and the condition evaluator.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"opzenix/backend/internal/logging"
	"opzenix/backend/internal/repository"
	"opzenix/backend/pkg/models"
)

// maxSteps is the hard ceiling on step executions per run. It breaks cycles
// in malformed step graphs.
const maxSteps = 100

// Result is the terminal outcome of a run.
type Result struct {
	Status        models.RunStatus
	Output        map[string]any
	StepsExecuted int
}

// Engine owns the run state machine. It walks the step graph of one
// definition at a time, threading the execution context between steps and
// persisting progress through the run and step log stores.
type Engine struct {
	runs     repository.RunStore
	stepLogs repository.StepLogStore
	executor *Executor
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewEngine creates a workflow engine.
func NewEngine(runs repository.RunStore, stepLogs repository.StepLogStore, executor *Executor, logger *logging.Logger) *Engine {
	return &Engine{
		runs:     runs,
		stepLogs: stepLogs,
		executor: executor,
		logger:   logger,
		tracer:   otel.Tracer("opzenix/backend/engine"),
	}
}

// Execute runs a workflow definition to a terminal state. The run row must
// already exist in running state; Execute updates it exactly once, on the
// terminal transition. Step failures never crash the run: a failed step
// either follows its onFailure branch or fails the run with a recorded
// error.
func (e *Engine) Execute(ctx context.Context, def *models.WorkflowDefinition, runID string, input map[string]any) Result {
	ctx, span := e.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.id", def.ID),
			attribute.String("run.id", runID),
		))
	defer span.End()

	execCtx := map[string]any{"input": input}
	executed := make([]string, 0, len(def.Steps))

	if len(def.Steps) == 0 {
		return e.finish(ctx, runID, Result{
			Status:        models.RunStatusCompleted,
			Output:        map[string]any{"context": execCtx, "stepsCompleted": 0},
			StepsExecuted: 0,
		})
	}

	// The first listed step is the entry point; there is no explicit
	// start marker in the definition model.
	current := &def.Steps[0]

	for current != nil && len(executed) < maxSteps {
		result := e.runStep(ctx, def.TenantID, runID, current, execCtx)

		execCtx["step_"+current.ID] = result.Output
		executed = append(executed, current.ID)

		var nextID string
		if result.Success {
			nextID = current.OnSuccess
			if nextID == "" {
				nextID = current.NextStepID
			}
		} else {
			nextID = current.OnFailure
			if nextID == "" {
				// A failed step with no failure branch is fatal.
				return e.finish(ctx, runID, Result{
					Status:        models.RunStatusFailed,
					Output:        map[string]any{"error": fmt.Sprintf("Step %s failed: %s", current.ID, result.Error), "stepsCompleted": len(executed)},
					StepsExecuted: len(executed),
				})
			}
		}

		if nextID == "" {
			// No successor configured: normal termination.
			return e.finish(ctx, runID, Result{
				Status:        models.RunStatusCompleted,
				Output:        map[string]any{"context": execCtx, "stepsCompleted": len(executed)},
				StepsExecuted: len(executed),
			})
		}

		next := def.FindStep(nextID)
		if next == nil {
			// Dangling branch target. Failing the run is the safer policy:
			// silently completing would mask a corrupted definition.
			return e.finish(ctx, runID, Result{
				Status:        models.RunStatusFailed,
				Output:        map[string]any{"error": fmt.Sprintf("step %s references unknown step %s", current.ID, nextID), "stepsCompleted": len(executed)},
				StepsExecuted: len(executed),
			})
		}
		current = next
	}

	// Loop exit by the step ceiling: the graph contains a cycle.
	return e.finish(ctx, runID, Result{
		Status:        models.RunStatusFailed,
		Output:        map[string]any{"error": fmt.Sprintf("step limit exceeded: workflow executed %d steps", len(executed)), "stepsCompleted": len(executed)},
		StepsExecuted: len(executed),
	})
}

// runStep logs a running record, executes the step, and updates the record
// to its terminal status. Log-write failures are logged and swallowed: an
// otherwise-successful run must not abort on best-effort persistence.
func (e *Engine) runStep(ctx context.Context, tenantID, runID string, step *models.WorkflowStep, execCtx map[string]any) StepResult {
	ctx, span := e.tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.type", string(step.Type)),
		))
	defer span.End()

	log := &models.StepLog{
		ID:            uuid.New().String(),
		WorkflowRunID: runID,
		StepID:        step.ID,
		StepType:      step.Type,
		Status:        models.StepLogRunning,
		StartedAt:     time.Now().UTC(),
	}
	if err := e.stepLogs.AppendStepLog(ctx, log); err != nil {
		e.logger.Error("failed to append step log", "run_id", runID, "step_id", step.ID, "error", err)
	}

	result := e.executor.ExecuteStep(ctx, tenantID, step, execCtx)

	status := models.StepLogCompleted
	if !result.Success {
		status = models.StepLogFailed
	}
	if err := e.stepLogs.UpdateStepLog(ctx, log.ID, status, result.Output, result.Error); err != nil {
		e.logger.Error("failed to update step log", "run_id", runID, "step_id", step.ID, "error", err)
	}

	return result
}

// finish persists the terminal run status. Store failures are logged, not
// returned: the engine's result stands regardless.
func (e *Engine) finish(ctx context.Context, runID string, result Result) Result {
	if err := e.runs.FinishRun(ctx, runID, result.Status, result.Output); err != nil {
		e.logger.Error("failed to persist run result", "run_id", runID, "status", result.Status, "error", err)
	}
	e.logger.Info("workflow run finished",
		"run_id", runID,
		"status", result.Status,
		"steps_executed", result.StepsExecuted,
	)
	return result
}
