package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opzenix/backend/pkg/models"
)

func newRedisStore(t *testing.T, opts ...RedisOption) (*RedisStepLogStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStepLogStore(client, opts...), mr
}

func TestRedisStepLogStore(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	logs := []*models.StepLog{
		{ID: "log-1", WorkflowRunID: "run-1", StepID: "A", StepType: models.StepTypeAction, Status: models.StepLogRunning, StartedAt: time.Now().UTC()},
		{ID: "log-2", WorkflowRunID: "run-1", StepID: "B", StepType: models.StepTypeNotification, Status: models.StepLogRunning, StartedAt: time.Now().UTC()},
	}
	for _, log := range logs {
		require.NoError(t, store.AppendStepLog(ctx, log))
	}

	require.NoError(t, store.UpdateStepLog(ctx, "log-1", models.StepLogCompleted, map[string]any{"statusCode": 200}, ""))
	require.NoError(t, store.UpdateStepLog(ctx, "log-2", models.StepLogFailed, nil, "mailbox full"))

	got, err := store.ListStepLogs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "A", got[0].StepID)
	assert.Equal(t, models.StepLogCompleted, got[0].Status)
	assert.Equal(t, map[string]any{"statusCode": float64(200)}, got[0].Output)
	require.NotNil(t, got[0].CompletedAt)

	assert.Equal(t, "B", got[1].StepID)
	assert.Equal(t, models.StepLogFailed, got[1].Status)
	assert.Equal(t, "mailbox full", got[1].ErrorMessage)
}

func TestRedisStepLogStoreEmptyRun(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	got, err := store.ListStepLogs(ctx, "run-none")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStepLogStoreUpdateMissing(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	err := store.UpdateStepLog(ctx, "ghost", models.StepLogCompleted, nil, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStepLogStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, WithTTL(time.Minute), WithPrefix("test"))

	require.NoError(t, store.AppendStepLog(ctx, &models.StepLog{
		ID: "log-1", WorkflowRunID: "run-1", StepID: "A",
		Status: models.StepLogRunning, StartedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.AppendStepLog(ctx, &models.StepLog{
		ID: "log-2", WorkflowRunID: "run-1", StepID: "B",
		Status: models.StepLogRunning, StartedAt: time.Now().UTC(),
	}))

	// Expire one record but not the run's ID list.
	mr.Del("test:steplog:log-1")

	got, err := store.ListStepLogs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].StepID)
}
