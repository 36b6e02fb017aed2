// Package queue enqueues and serves background deposition work on asynq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/astronomiahub/hub/internal/config"
)

// TypeDepositionSync retries archive synchronization of one dataset.
const TypeDepositionSync = "deposition:sync"

// DepositionSyncPayload is the body of a TypeDepositionSync task.
type DepositionSyncPayload struct {
	DatasetID int64 `json:"dataset_id"`
}

// RedisOpt builds the asynq connection options from configuration.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// NewDepositionSyncTask builds a sync task for datasetID.
func NewDepositionSyncTask(datasetID int64) (*asynq.Task, error) {
	data, err := json.Marshal(DepositionSyncPayload{DatasetID: datasetID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeDepositionSync, data), nil
}

// Client enqueues tasks.
type Client struct {
	client *asynq.Client
}

// NewClient creates a Client connected to Redis.
func NewClient(opt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueDepositionSync schedules a sync retry. A retry already pending for
// the same dataset is not duplicated.
func (c *Client) EnqueueDepositionSync(ctx context.Context, datasetID int64) error {
	task, err := NewDepositionSyncTask(datasetID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
		asynq.ProcessIn(30*time.Second),
		asynq.Unique(10*time.Minute),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", TypeDepositionSync, err)
	}
	return nil
}

// SyncFunc synchronizes one dataset. A non-nil error makes asynq retry.
type SyncFunc func(ctx context.Context, datasetID int64) error

// NewDepositionSyncHandler adapts fn to an asynq handler.
func NewDepositionSyncHandler(fn SyncFunc) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var payload DepositionSyncPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
		}
		if payload.DatasetID <= 0 {
			return fmt.Errorf("invalid dataset id %d: %w", payload.DatasetID, asynq.SkipRetry)
		}

		slog.Info("syncing dataset deposition", "dataset_id", payload.DatasetID)
		if err := fn(ctx, payload.DatasetID); err != nil {
			return fmt.Errorf("sync dataset %d: %w", payload.DatasetID, err)
		}
		return nil
	})
}

// HandlersRegistry collects task handlers for the worker.
type HandlersRegistry struct {
	mux *asynq.ServeMux
}

// NewHandlersRegistry creates an empty registry.
func NewHandlersRegistry() *HandlersRegistry {
	return &HandlersRegistry{mux: asynq.NewServeMux()}
}

// Register binds handler to taskType.
func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

// Mux returns the underlying asynq mux.
func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}
