package models

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// StepType identifies the behavior of a workflow step.
type StepType string

const (
	StepTypeAction       StepType = "action"
	StepTypeCondition    StepType = "condition"
	StepTypeDelay        StepType = "delay"
	StepTypeNotification StepType = "notification"
	StepTypeIntegration  StepType = "integration"
)

// Action types for action steps.
const (
	ActionCreateRecord = "create_record"
	ActionUpdateRecord = "update_record"
	ActionHTTPRequest  = "http_request"
)

// WorkflowDefinition is the tenant-authored description of a workflow's
// steps and branching. It is immutable during execution.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	IsActive    bool           `json:"is_active"`
	Steps       []WorkflowStep `json:"steps"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WorkflowStep is one node in a workflow's step graph. Branching jumps by
// step ID, never by slice position.
type WorkflowStep struct {
	ID         string         `json:"id"`
	Type       StepType       `json:"type"`
	Name       string         `json:"name,omitempty"`
	Config     map[string]any `json:"config"`
	NextStepID string         `json:"next_step_id,omitempty"`
	OnSuccess  string         `json:"on_success,omitempty"`
	OnFailure  string         `json:"on_failure,omitempty"`
}

// ConditionConfig is the typed config for condition steps.
type ConditionConfig struct {
	Field    string `mapstructure:"field"`
	Operator string `mapstructure:"operator"`
	Value    any    `mapstructure:"value"`
}

// DelayConfig is the typed config for delay steps.
type DelayConfig struct {
	Seconds int `mapstructure:"seconds"`
}

// NotificationConfig is the typed config for notification steps.
type NotificationConfig struct {
	Channel string `mapstructure:"channel"`
	Target  string `mapstructure:"target"`
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
}

// ActionConfig is the typed config for action steps. Fields beyond
// ActionType are interpreted per action type.
type ActionConfig struct {
	ActionType string            `mapstructure:"action_type"`
	Table      string            `mapstructure:"table"`
	Fields     map[string]any    `mapstructure:"fields"`
	Match      map[string]any    `mapstructure:"match"`
	URL        string            `mapstructure:"url"`
	Method     string            `mapstructure:"method"`
	Headers    map[string]string `mapstructure:"headers"`
	Body       map[string]any    `mapstructure:"body"`
}

// IntegrationConfig is the typed config for integration steps.
type IntegrationConfig struct {
	IntegrationID string `mapstructure:"integration_id"`
}

// DecodeConfig unmarshals the step's raw config map into the typed config
// struct for its step type.
func (s *WorkflowStep) DecodeConfig(out any) error {
	if err := mapstructure.Decode(s.Config, out); err != nil {
		return fmt.Errorf("step %s: decode %s config: %w", s.ID, s.Type, err)
	}
	return nil
}

// FindStep returns the step with the given ID, or nil if no such step
// exists in the definition.
func (d *WorkflowDefinition) FindStep(id string) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// Validate checks the definition at load time: unique step IDs, resolvable
// branch references, and per-type required config fields. Rejecting bad
// graphs here keeps malformed definitions from surfacing as step failures
// at run time.
func (d *WorkflowDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow name is required")
	}

	seen := make(map[string]bool, len(d.Steps))
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.ID == "" {
			return fmt.Errorf("step %d: missing id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true

		if err := s.validateConfig(); err != nil {
			return err
		}
	}

	for i := range d.Steps {
		s := &d.Steps[i]
		for _, ref := range []string{s.NextStepID, s.OnSuccess, s.OnFailure} {
			if ref != "" && !seen[ref] {
				return fmt.Errorf("step %q references unknown step %q", s.ID, ref)
			}
		}
	}

	return nil
}

func (s *WorkflowStep) validateConfig() error {
	switch s.Type {
	case StepTypeCondition:
		var cfg ConditionConfig
		if err := s.DecodeConfig(&cfg); err != nil {
			return err
		}
		if cfg.Field == "" || cfg.Operator == "" {
			return fmt.Errorf("step %s: condition requires field and operator", s.ID)
		}
	case StepTypeDelay:
		var cfg DelayConfig
		if err := s.DecodeConfig(&cfg); err != nil {
			return err
		}
		if cfg.Seconds < 0 {
			return fmt.Errorf("step %s: delay seconds must not be negative", s.ID)
		}
	case StepTypeNotification:
		var cfg NotificationConfig
		if err := s.DecodeConfig(&cfg); err != nil {
			return err
		}
		if cfg.Channel == "" || cfg.Target == "" {
			return fmt.Errorf("step %s: notification requires channel and target", s.ID)
		}
	case StepTypeAction:
		var cfg ActionConfig
		if err := s.DecodeConfig(&cfg); err != nil {
			return err
		}
		switch cfg.ActionType {
		case ActionCreateRecord, ActionUpdateRecord:
			if cfg.Table == "" {
				return fmt.Errorf("step %s: %s requires table", s.ID, cfg.ActionType)
			}
		case ActionHTTPRequest:
			if cfg.URL == "" {
				return fmt.Errorf("step %s: http_request requires url", s.ID)
			}
		case "":
			return fmt.Errorf("step %s: action requires action_type", s.ID)
		default:
			return fmt.Errorf("step %s: unknown action type %q", s.ID, cfg.ActionType)
		}
	case StepTypeIntegration:
		var cfg IntegrationConfig
		if err := s.DecodeConfig(&cfg); err != nil {
			return err
		}
		if cfg.IntegrationID == "" {
			return fmt.Errorf("step %s: integration requires integration_id", s.ID)
		}
	default:
		return fmt.Errorf("step %s: unknown step type %q", s.ID, s.Type)
	}
	return nil
}
