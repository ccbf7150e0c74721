package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"opzenix/backend/internal/logging"
	"opzenix/backend/internal/repository"
	"opzenix/backend/internal/services"
	"opzenix/backend/pkg/models"
)

// fakeNotifier records sends and returns a configurable outcome. When
// blockUntil is set, Send signals started and waits before returning.
type fakeNotifier struct {
	result     *services.NotificationResult
	err        error
	sent       []string
	started    chan struct{}
	blockUntil chan struct{}
}

func (f *fakeNotifier) Send(ctx context.Context, channel, target, subject, body string) (*services.NotificationResult, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.blockUntil != nil {
		<-f.blockUntil
	}
	f.sent = append(f.sent, target)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &services.NotificationResult{Success: true, ID: uuid.New().String()}, nil
}

// panickingRecords panics on every call, for exercising executor recovery.
type panickingRecords struct{}

func (panickingRecords) CreateRecord(ctx context.Context, tenantID, table string, fields map[string]any) (map[string]any, error) {
	panic("record store exploded")
}

func (panickingRecords) UpdateRecord(ctx context.Context, tenantID, table string, fields, match map[string]any) error {
	panic("record store exploded")
}

// failingRecords fails every call with a plain error.
type failingRecords struct{}

func (failingRecords) CreateRecord(ctx context.Context, tenantID, table string, fields map[string]any) (map[string]any, error) {
	return nil, errors.New("datastore unavailable")
}

func (failingRecords) UpdateRecord(ctx context.Context, tenantID, table string, fields, match map[string]any) error {
	return errors.New("datastore unavailable")
}

func newTestExecutor(records repository.RecordStore, notifier services.NotificationSender) *Executor {
	return NewExecutor(records, notifier, nil, logging.NewNop())
}

func newTestEngine(store *repository.MemoryStore, notifier services.NotificationSender) *Engine {
	executor := NewExecutor(store, notifier, nil, logging.NewNop())
	return NewEngine(store, store, executor, logging.NewNop())
}

// newTestEngineWithRecords is newTestEngine with the record store swapped
// out, so action steps can be made to fail or panic independently of the
// run and step log persistence.
func newTestEngineWithRecords(records repository.RecordStore, store *repository.MemoryStore, notifier services.NotificationSender) *Engine {
	executor := NewExecutor(records, notifier, nil, logging.NewNop())
	return NewEngine(store, store, executor, logging.NewNop())
}

// createRun persists a running run row and returns its ID.
func createRun(t *testing.T, store *repository.MemoryStore, tenantID, workflowID string) string {
	t.Helper()
	runID := uuid.New().String()
	err := store.CreateRun(context.Background(), &models.WorkflowRun{
		ID:          runID,
		TenantID:    tenantID,
		WorkflowID:  workflowID,
		TriggerType: models.TriggerManual,
		Status:      models.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return runID
}
