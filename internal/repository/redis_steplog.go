package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"opzenix/backend/pkg/models"
)

// RedisStepLogStore keeps step logs in Redis: one key per log record plus a
// per-run list of log IDs preserving append order. Suited for the hot
// step-log path where logs are read back while a run is still executing and
// aged out afterwards.
type RedisStepLogStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ StepLogStore = (*RedisStepLogStore)(nil)

// RedisOption configures a RedisStepLogStore.
type RedisOption func(*RedisStepLogStore)

// WithTTL sets the time-to-live for step log records. Zero means no
// expiration. Default is 24 hours.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStepLogStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix. Default is "opzenix".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStepLogStore) {
		s.prefix = prefix
	}
}

// NewRedisStepLogStore creates a Redis-backed step log store.
func NewRedisStepLogStore(client *redis.Client, opts ...RedisOption) *RedisStepLogStore {
	store := &RedisStepLogStore{
		client: client,
		ttl:    24 * time.Hour,
		prefix: "opzenix",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStepLogStore) logKey(logID string) string {
	return fmt.Sprintf("%s:steplog:%s", s.prefix, logID)
}

func (s *RedisStepLogStore) runKey(runID string) string {
	return fmt.Sprintf("%s:run:%s:steplogs", s.prefix, runID)
}

// AppendStepLog writes a new step log record.
func (s *RedisStepLogStore) AppendStepLog(ctx context.Context, log *models.StepLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal step log: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.logKey(log.ID), data, s.ttl)
	pipe.RPush(ctx, s.runKey(log.WorkflowRunID), log.ID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.runKey(log.WorkflowRunID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append step log: %w", err)
	}
	return nil
}

// UpdateStepLog sets the terminal status, output, and error of a record.
func (s *RedisStepLogStore) UpdateStepLog(ctx context.Context, logID string, status models.StepLogStatus, output map[string]any, errMsg string) error {
	key := s.logKey(logID)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("redis get step log: %w", err)
	}

	var log models.StepLog
	if err := json.Unmarshal(data, &log); err != nil {
		return fmt.Errorf("unmarshal step log %s: %w", logID, err)
	}

	now := time.Now().UTC()
	log.Status = status
	log.Output = output
	log.ErrorMessage = errMsg
	log.CompletedAt = &now

	updated, err := json.Marshal(&log)
	if err != nil {
		return fmt.Errorf("marshal step log: %w", err)
	}
	if err := s.client.Set(ctx, key, updated, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set step log: %w", err)
	}
	return nil
}

// ListStepLogs returns all log records for a run in append order.
func (s *RedisStepLogStore) ListStepLogs(ctx context.Context, runID string) ([]*models.StepLog, error) {
	ids, err := s.client.LRange(ctx, s.runKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list step log ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.logKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget step logs: %w", err)
	}

	logs := make([]*models.StepLog, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Record expired between LRANGE and MGET; skip it.
			continue
		}
		var log models.StepLog
		if err := json.Unmarshal([]byte(raw), &log); err != nil {
			return nil, fmt.Errorf("unmarshal step log %s: %w", ids[i], err)
		}
		logs = append(logs, &log)
	}
	return logs, nil
}
