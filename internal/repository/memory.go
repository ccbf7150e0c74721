package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"opzenix/backend/pkg/models"
)

// MemoryStore is a fully in-memory implementation of every store interface.
// Safe for concurrent access. Intended for unit tests and local development.
type MemoryStore struct {
	mu sync.RWMutex

	definitions map[string]*models.WorkflowDefinition // key: tenantID/workflowID
	runs        map[string]*models.WorkflowRun
	stepLogs    []*models.StepLog
	records     map[string][]map[string]any // key: tenantID/table
	tenants     map[string]*models.Tenant   // key: domain
}

var (
	_ DefinitionStore = (*MemoryStore)(nil)
	_ RunStore        = (*MemoryStore)(nil)
	_ StepLogStore    = (*MemoryStore)(nil)
	_ RecordStore     = (*MemoryStore)(nil)
	_ TenantStore     = (*MemoryStore)(nil)
)

// NewMemoryStore returns a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]*models.WorkflowDefinition),
		runs:        make(map[string]*models.WorkflowRun),
		records:     make(map[string][]map[string]any),
		tenants:     make(map[string]*models.Tenant),
	}
}

func defKey(tenantID, workflowID string) string {
	return tenantID + "/" + workflowID
}

// GetDefinition retrieves a definition by workflow ID within a tenant.
func (m *MemoryStore) GetDefinition(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.definitions[defKey(tenantID, workflowID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *def
	return &cp, nil
}

// ListDefinitions returns all definitions for a tenant.
func (m *MemoryStore) ListDefinitions(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var defs []*models.WorkflowDefinition
	for _, def := range m.definitions {
		if def.TenantID == tenantID {
			cp := *def
			defs = append(defs, &cp)
		}
	}
	return defs, nil
}

// PutDefinition creates or replaces a definition.
func (m *MemoryStore) PutDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *def
	m.definitions[defKey(def.TenantID, def.ID)] = &cp
	return nil
}

// CreateRun persists a new run in running state.
func (m *MemoryStore) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

// GetRun retrieves a run by ID within a tenant.
func (m *MemoryStore) GetRun(ctx context.Context, tenantID, runID string) (*models.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok || run.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns all runs for a tenant, most recent first.
func (m *MemoryStore) ListRuns(ctx context.Context, tenantID string) ([]*models.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var runs []*models.WorkflowRun
	for _, run := range m.runs {
		if run.TenantID == tenantID {
			cp := *run
			runs = append(runs, &cp)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// FinishRun records the terminal status and output of a run.
func (m *MemoryStore) FinishRun(ctx context.Context, runID string, status models.RunStatus, output map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	run.Status = status
	run.OutputData = output
	run.CompletedAt = &now
	return nil
}

// AppendStepLog writes a new step log record.
func (m *MemoryStore) AppendStepLog(ctx context.Context, log *models.StepLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *log
	m.stepLogs = append(m.stepLogs, &cp)
	return nil
}

// UpdateStepLog sets the terminal status, output, and error of a record.
func (m *MemoryStore) UpdateStepLog(ctx context.Context, logID string, status models.StepLogStatus, output map[string]any, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, log := range m.stepLogs {
		if log.ID == logID {
			now := time.Now().UTC()
			log.Status = status
			log.Output = output
			log.ErrorMessage = errMsg
			log.CompletedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

// ListStepLogs returns all log records for a run in append order.
func (m *MemoryStore) ListStepLogs(ctx context.Context, runID string) ([]*models.StepLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var logs []*models.StepLog
	for _, log := range m.stepLogs {
		if log.WorkflowRunID == runID {
			cp := *log
			logs = append(logs, &cp)
		}
	}
	return logs, nil
}

// CreateRecord inserts a record into the named tenant table.
func (m *MemoryStore) CreateRecord(ctx context.Context, tenantID, table string, fields map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record["id"] = uuid.New().String()

	key := tenantID + "/" + table
	m.records[key] = append(m.records[key], record)
	return record, nil
}

// UpdateRecord modifies records matching the given criteria.
func (m *MemoryStore) UpdateRecord(ctx context.Context, tenantID, table string, fields, match map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := false
	for _, record := range m.records[tenantID+"/"+table] {
		if recordMatches(record, match) {
			for k, v := range fields {
				record[k] = v
			}
			matched = true
		}
	}
	if !matched {
		return ErrNotFound
	}
	return nil
}

func recordMatches(record, match map[string]any) bool {
	for k, v := range match {
		if record[k] != v {
			return false
		}
	}
	return true
}

// GetTenantByDomain retrieves a tenant by domain.
func (m *MemoryStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenant, ok := m.tenants[domain]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tenant
	return &cp, nil
}

// CreateTenant persists a new tenant, generating an ID when absent.
func (m *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	cp := *tenant
	m.tenants[tenant.Domain] = &cp
	return nil
}
