package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"opzenix/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the store interfaces.
type PostgresStore struct {
	db *pgxpool.Pool
}

var (
	_ DefinitionStore = (*PostgresStore)(nil)
	_ RunStore        = (*PostgresStore)(nil)
	_ StepLogStore    = (*PostgresStore)(nil)
	_ RecordStore     = (*PostgresStore)(nil)
	_ TenantStore     = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			domain TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS workflow_definitions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT true,
			steps JSONB NOT NULL DEFAULT '[]',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_definitions_tenant ON workflow_definitions (tenant_id);
		CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			triggered_by TEXT NOT NULL DEFAULT '',
			trigger_type TEXT NOT NULL DEFAULT 'manual',
			status TEXT NOT NULL,
			input_data JSONB,
			output_data JSONB,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_runs_tenant ON workflow_runs (tenant_id);
		CREATE TABLE IF NOT EXISTS step_logs (
			id TEXT PRIMARY KEY,
			workflow_run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			step_type TEXT NOT NULL,
			status TEXT NOT NULL,
			output JSONB,
			error_message TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_step_logs_run ON step_logs (workflow_run_id, started_at);
		CREATE TABLE IF NOT EXISTS tenant_records (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			fields JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_tenant_records ON tenant_records (tenant_id, table_name);
	`)
	return err
}

// GetDefinition retrieves a definition by workflow ID within a tenant.
func (s *PostgresStore) GetDefinition(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	var steps []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, description, is_active, steps, created_by, created_at, updated_at
		 FROM workflow_definitions WHERE tenant_id = $1 AND id = $2`,
		tenantID, workflowID,
	).Scan(&def.ID, &def.TenantID, &def.Name, &def.Description, &def.IsActive, &steps, &def.CreatedBy, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(steps, &def.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps for workflow %s: %w", workflowID, err)
	}
	return &def, nil
}

// ListDefinitions returns all definitions for a tenant.
func (s *PostgresStore) ListDefinitions(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, name, description, is_active, steps, created_by, created_at, updated_at
		 FROM workflow_definitions WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*models.WorkflowDefinition
	for rows.Next() {
		var def models.WorkflowDefinition
		var steps []byte
		if err := rows.Scan(&def.ID, &def.TenantID, &def.Name, &def.Description, &def.IsActive, &steps, &def.CreatedBy, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(steps, &def.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps for workflow %s: %w", def.ID, err)
		}
		defs = append(defs, &def)
	}
	return defs, rows.Err()
}

// PutDefinition creates or replaces a definition.
func (s *PostgresStore) PutDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_definitions (id, tenant_id, name, description, is_active, steps, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			steps = EXCLUDED.steps,
			updated_at = now()`,
		def.ID, def.TenantID, def.Name, def.Description, def.IsActive, steps, def.CreatedBy,
	)
	return err
}

// CreateRun persists a new run in running state.
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	input, err := json.Marshal(run.InputData)
	if err != nil {
		return fmt.Errorf("marshal input data: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_runs (id, tenant_id, workflow_id, triggered_by, trigger_type, status, input_data, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.TenantID, run.WorkflowID, run.TriggeredBy, run.TriggerType, run.Status, input, run.StartedAt,
	)
	return err
}

// GetRun retrieves a run by ID within a tenant.
func (s *PostgresStore) GetRun(ctx context.Context, tenantID, runID string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	var input, output []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, workflow_id, triggered_by, trigger_type, status, input_data, output_data, started_at, completed_at
		 FROM workflow_runs WHERE tenant_id = $1 AND id = $2`,
		tenantID, runID,
	).Scan(&run.ID, &run.TenantID, &run.WorkflowID, &run.TriggeredBy, &run.TriggerType, &run.Status, &input, &output, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &run.InputData); err != nil {
			return nil, fmt.Errorf("unmarshal input data for run %s: %w", runID, err)
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &run.OutputData); err != nil {
			return nil, fmt.Errorf("unmarshal output data for run %s: %w", runID, err)
		}
	}
	return &run, nil
}

// ListRuns returns all runs for a tenant, most recent first.
func (s *PostgresStore) ListRuns(ctx context.Context, tenantID string) ([]*models.WorkflowRun, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, workflow_id, triggered_by, trigger_type, status, input_data, output_data, started_at, completed_at
		 FROM workflow_runs WHERE tenant_id = $1 ORDER BY started_at DESC, id`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.WorkflowRun
	for rows.Next() {
		var run models.WorkflowRun
		var input, output []byte
		if err := rows.Scan(&run.ID, &run.TenantID, &run.WorkflowID, &run.TriggeredBy, &run.TriggerType, &run.Status, &input, &output, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, err
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &run.InputData); err != nil {
				return nil, fmt.Errorf("unmarshal input data for run %s: %w", run.ID, err)
			}
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &run.OutputData); err != nil {
				return nil, fmt.Errorf("unmarshal output data for run %s: %w", run.ID, err)
			}
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// FinishRun records the terminal status and output of a run.
func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status models.RunStatus, output map[string]any) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal output data: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_runs SET status = $1, output_data = $2, completed_at = now() WHERE id = $3`,
		status, data, runID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendStepLog writes a new step log record.
func (s *PostgresStore) AppendStepLog(ctx context.Context, log *models.StepLog) error {
	output, err := json.Marshal(log.Output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO step_logs (id, workflow_run_id, step_id, step_type, status, output, error_message, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.WorkflowRunID, log.StepID, log.StepType, log.Status, output, log.ErrorMessage, log.StartedAt,
	)
	return err
}

// UpdateStepLog sets the terminal status, output, and error of a record.
func (s *PostgresStore) UpdateStepLog(ctx context.Context, logID string, status models.StepLogStatus, output map[string]any, errMsg string) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE step_logs SET status = $1, output = $2, error_message = $3, completed_at = now() WHERE id = $4`,
		status, data, errMsg, logID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStepLogs returns all log records for a run in append order.
func (s *PostgresStore) ListStepLogs(ctx context.Context, runID string) ([]*models.StepLog, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, workflow_run_id, step_id, step_type, status, output, error_message, started_at, completed_at
		 FROM step_logs WHERE workflow_run_id = $1 ORDER BY started_at, id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.StepLog
	for rows.Next() {
		var log models.StepLog
		var output []byte
		if err := rows.Scan(&log.ID, &log.WorkflowRunID, &log.StepID, &log.StepType, &log.Status, &output, &log.ErrorMessage, &log.StartedAt, &log.CompletedAt); err != nil {
			return nil, err
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &log.Output); err != nil {
				return nil, fmt.Errorf("unmarshal output for step log %s: %w", log.ID, err)
			}
		}
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}

// CreateRecord inserts a record into the named tenant table. Records live
// in a single tenant_records table keyed by logical table name, so action
// steps cannot touch system tables.
func (s *PostgresStore) CreateRecord(ctx context.Context, tenantID, table string, fields map[string]any) (map[string]any, error) {
	id := uuid.New().String()
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal record fields: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO tenant_records (id, tenant_id, table_name, fields) VALUES ($1, $2, $3, $4)`,
		id, tenantID, table, data,
	)
	if err != nil {
		return nil, err
	}

	record := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record["id"] = id
	return record, nil
}

// UpdateRecord modifies records matching the given criteria. Matching uses
// JSONB containment on the stored fields.
func (s *PostgresStore) UpdateRecord(ctx context.Context, tenantID, table string, fields, match map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal record fields: %w", err)
	}
	criteria, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("marshal match criteria: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE tenant_records SET fields = fields || $1::jsonb, updated_at = now()
		 WHERE tenant_id = $2 AND table_name = $3 AND fields @> $4::jsonb`,
		patch, tenantID, table, criteria,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTenantByDomain retrieves a tenant by domain.
func (s *PostgresStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.QueryRow(ctx,
		`SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1`,
		domain,
	).Scan(&tenant.ID, &tenant.Name, &tenant.Domain, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// CreateTenant persists a new tenant, generating an ID when absent.
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	_, err := s.db.Exec(ctx,
		`INSERT INTO tenants (id, name, domain, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		tenant.ID, tenant.Name, tenant.Domain, tenant.CreatedAt, tenant.UpdatedAt,
	)
	return err
}
