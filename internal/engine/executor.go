package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"opzenix/backend/internal/logging"
	"opzenix/backend/internal/repository"
	"opzenix/backend/internal/services"
	"opzenix/backend/pkg/models"
)

// maxDelaySeconds bounds delay steps regardless of the requested value.
const maxDelaySeconds = 30

// StepResult is the outcome of one step attempt. A failed result carries
// the error as data; the executor itself never propagates errors.
type StepResult struct {
	Success bool
	Output  map[string]any
	Error   string
}

// Executor runs a single workflow step against the current execution
// context, dispatching on the step type. All collaborators are injected.
type Executor struct {
	records    repository.RecordStore
	notifier   services.NotificationSender
	httpClient *http.Client
	logger     *logging.Logger
}

// NewExecutor creates a step executor. A nil httpClient falls back to a
// client with a 30 second timeout.
func NewExecutor(records repository.RecordStore, notifier services.NotificationSender, httpClient *http.Client, logger *logging.Logger) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Executor{
		records:    records,
		notifier:   notifier,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ExecuteStep runs one step and always returns a result: internal errors
// and panics are converted to failed results so no step implementation
// detail can crash the run.
func (e *Executor) ExecuteStep(ctx context.Context, tenantID string, step *models.WorkflowStep, execCtx map[string]any) (result StepResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("step handler panicked", "step_id", step.ID, "panic", r)
			result = StepResult{Success: false, Error: fmt.Sprintf("step %s panicked: %v", step.ID, r)}
		}
	}()

	switch step.Type {
	case models.StepTypeCondition:
		return e.executeCondition(step, execCtx)
	case models.StepTypeDelay:
		return e.executeDelay(ctx, step)
	case models.StepTypeNotification:
		return e.executeNotification(ctx, step)
	case models.StepTypeAction:
		return e.executeAction(ctx, tenantID, step)
	case models.StepTypeIntegration:
		return e.executeIntegration(step)
	default:
		return StepResult{Success: false, Error: fmt.Sprintf("unknown step type: %s", step.Type)}
	}
}

// executeCondition evaluates the configured operator against a value looked
// up from the execution context. A condition that does not hold is still a
// successful step; the boolean is data for downstream branching.
func (e *Executor) executeCondition(step *models.WorkflowStep, execCtx map[string]any) StepResult {
	var cfg models.ConditionConfig
	if err := step.DecodeConfig(&cfg); err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}

	left := lookupPath(execCtx, cfg.Field)
	met := Evaluate(left, cfg.Value, cfg.Operator)

	return StepResult{
		Success: true,
		Output:  map[string]any{"conditionMet": met},
	}
}

func (e *Executor) executeDelay(ctx context.Context, step *models.WorkflowStep) StepResult {
	var cfg models.DelayConfig
	if err := step.DecodeConfig(&cfg); err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}

	seconds := clampDelaySeconds(cfg.Seconds)

	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return StepResult{Success: false, Error: ctx.Err().Error()}
	}

	return StepResult{
		Success: true,
		Output:  map[string]any{"delayedSeconds": seconds},
	}
}

// clampDelaySeconds bounds a requested delay to [0, maxDelaySeconds].
func clampDelaySeconds(seconds int) int {
	if seconds < 0 {
		return 0
	}
	if seconds > maxDelaySeconds {
		return maxDelaySeconds
	}
	return seconds
}

func (e *Executor) executeNotification(ctx context.Context, step *models.WorkflowStep) StepResult {
	var cfg models.NotificationConfig
	if err := step.DecodeConfig(&cfg); err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}

	result, err := e.notifier.Send(ctx, cfg.Channel, cfg.Target, cfg.Subject, cfg.Body)
	if err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}
	if !result.Success {
		return StepResult{Success: false, Error: result.Error}
	}

	return StepResult{
		Success: true,
		Output:  map[string]any{"notificationId": result.ID, "channel": cfg.Channel},
	}
}

func (e *Executor) executeAction(ctx context.Context, tenantID string, step *models.WorkflowStep) StepResult {
	var cfg models.ActionConfig
	if err := step.DecodeConfig(&cfg); err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}

	switch cfg.ActionType {
	case models.ActionCreateRecord:
		record, err := e.records.CreateRecord(ctx, tenantID, cfg.Table, cfg.Fields)
		if err != nil {
			return StepResult{Success: false, Error: err.Error()}
		}
		return StepResult{Success: true, Output: map[string]any{"record": record}}

	case models.ActionUpdateRecord:
		if err := e.records.UpdateRecord(ctx, tenantID, cfg.Table, cfg.Fields, cfg.Match); err != nil {
			return StepResult{Success: false, Error: err.Error()}
		}
		return StepResult{Success: true, Output: map[string]any{"updated": true}}

	case models.ActionHTTPRequest:
		return e.executeHTTPRequest(ctx, &cfg)

	default:
		return StepResult{Success: false, Error: fmt.Sprintf("unknown action type: %s", cfg.ActionType)}
	}
}

func (e *Executor) executeHTTPRequest(ctx context.Context, cfg *models.ActionConfig) StepResult {
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body *bytes.Buffer
	if cfg.Body != nil {
		data, err := json.Marshal(cfg.Body)
		if err != nil {
			return StepResult{Success: false, Error: fmt.Sprintf("marshal request body: %v", err)}
		}
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}
	if cfg.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	result := StepResult{
		Success: ok,
		Output:  map[string]any{"statusCode": resp.StatusCode},
	}
	if !ok {
		result.Error = fmt.Sprintf("http request returned status %d", resp.StatusCode)
	}
	return result
}

// executeIntegration is a stub boundary: real dispatch to named external
// integrations happens outside this core.
func (e *Executor) executeIntegration(step *models.WorkflowStep) StepResult {
	var cfg models.IntegrationConfig
	if err := step.DecodeConfig(&cfg); err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}
	return StepResult{
		Success: true,
		Output:  map[string]any{"integrationId": cfg.IntegrationID, "status": "ok"},
	}
}

// lookupPath resolves a dotted path like "step_s1.x" against the execution
// context. Missing intermediate keys resolve to nil rather than an error.
func lookupPath(m map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var current any = m
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = node[part]
		if !ok {
			return nil
		}
	}
	return current
}
