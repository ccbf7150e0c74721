package repository

import (
	"context"
	"errors"

	"opzenix/backend/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DefinitionStore reads and writes tenant-scoped workflow definitions.
// Definitions are read-only from the engine's point of view.
type DefinitionStore interface {
	// GetDefinition retrieves a definition by workflow ID within a tenant.
	GetDefinition(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error)
	// ListDefinitions returns all definitions for a tenant.
	ListDefinitions(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error)
	// PutDefinition creates or replaces a definition.
	PutDefinition(ctx context.Context, def *models.WorkflowDefinition) error
}

// RunStore persists workflow runs. The engine writes a run exactly twice:
// once at creation and once on the terminal transition.
type RunStore interface {
	// CreateRun persists a new run in running state.
	CreateRun(ctx context.Context, run *models.WorkflowRun) error
	// GetRun retrieves a run by ID within a tenant.
	GetRun(ctx context.Context, tenantID, runID string) (*models.WorkflowRun, error)
	// ListRuns returns all runs for a tenant, most recent first.
	ListRuns(ctx context.Context, tenantID string) ([]*models.WorkflowRun, error)
	// FinishRun records the terminal status and output of a run.
	FinishRun(ctx context.Context, runID string, status models.RunStatus, output map[string]any) error
}

// StepLogStore is the append-then-update log of step attempts.
type StepLogStore interface {
	// AppendStepLog writes a new step log record.
	AppendStepLog(ctx context.Context, log *models.StepLog) error
	// UpdateStepLog sets the terminal status, output, and error of a record.
	UpdateStepLog(ctx context.Context, logID string, status models.StepLogStatus, output map[string]any, errMsg string) error
	// ListStepLogs returns all log records for a run in append order.
	ListStepLogs(ctx context.Context, runID string) ([]*models.StepLog, error)
}

// RecordStore is the data adapter that action steps write tenant records
// through.
type RecordStore interface {
	// CreateRecord inserts a record into the named tenant table and returns
	// the stored fields, including the generated id.
	CreateRecord(ctx context.Context, tenantID, table string, fields map[string]any) (map[string]any, error)
	// UpdateRecord modifies records in the named tenant table matching the
	// given criteria.
	UpdateRecord(ctx context.Context, tenantID, table string, fields, match map[string]any) error
}

// TenantStore resolves and creates tenants.
type TenantStore interface {
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}
