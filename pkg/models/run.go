package models

import (
	"time"
)

// RunStatus is the lifecycle state of a workflow run. Runs move from
// running to exactly one of the two terminal states.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// TriggerType records how a run was started.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerEvent     TriggerType = "event"
)

// WorkflowRun is one execution attempt of a workflow definition.
type WorkflowRun struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	WorkflowID  string         `json:"workflow_id"`
	TriggeredBy string         `json:"triggered_by"`
	TriggerType TriggerType    `json:"trigger_type"`
	Status      RunStatus      `json:"status"`
	InputData   map[string]any `json:"input_data,omitempty"`
	OutputData  map[string]any `json:"output_data,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StepLogStatus is the state of one step attempt.
type StepLogStatus string

const (
	StepLogRunning   StepLogStatus = "running"
	StepLogCompleted StepLogStatus = "completed"
	StepLogFailed    StepLogStatus = "failed"
)

// StepLog records one step attempt within a run. A "running" record is
// appended before the step executes and updated to a terminal status after.
type StepLog struct {
	ID            string         `json:"id"`
	WorkflowRunID string         `json:"workflow_run_id"`
	StepID        string         `json:"step_id"`
	StepType      StepType       `json:"step_type"`
	Status        StepLogStatus  `json:"status"`
	Output        map[string]any `json:"output,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}
