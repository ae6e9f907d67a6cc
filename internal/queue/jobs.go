// Package queue defines the background jobs of the file lifecycle and submits
// them to Redis through asynq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/filealloc/internal/config"
)

const (
	// ProcessFileTask is submitted each time an upload completes.
	ProcessFileTask = "file:process"
	// CleanStoreTask deletes store objects that have no entry.
	CleanStoreTask = "files:clean-store"
	// CleanDatabaseTask deletes entries whose object is missing.
	CleanDatabaseTask = "files:clean-database"
	// CleanOldTask deletes entries never uploaded.
	CleanOldTask = "files:clean-old"
	// ProcessMissedTask re-runs processing for entries stuck before ready.
	ProcessMissedTask = "files:process-missed"
)

// maxRetry matches the retry budget used for every task.
const maxRetry = 5

// ProcessFilePayload identifies the file a ProcessFileTask works on.
type ProcessFilePayload struct {
	Bucket     string `json:"bucket"`
	Bucketname string `json:"bucketname"`
}

// BucketPayload scopes a reconciliation task to one bucket. NumDays is read
// by the aged passes only; zero selects the default.
type BucketPayload struct {
	Bucket  string `json:"bucket"`
	NumDays int    `json:"num_days,omitempty"`
}

// Encode serializes payload as JSON. Raw bytes are passed through.
func Encode(payload any) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

// RedisOpt returns the asynq connection options for cfg.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// Client submits jobs to asynq.
type Client struct {
	client *asynq.Client
}

// NewClient connects a Client to Redis.
func NewClient(opt asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

// Submit enqueues jobName. A non-empty jobID becomes the asynq task ID, so a
// second submission while the first is still retained is dropped.
func (c *Client) Submit(ctx context.Context, jobName string, payload any, jobID string) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.MaxRetry(maxRetry)}
	if jobID != "" {
		opts = append(opts, asynq.TaskID(jobID))
	}
	if _, err := c.client.EnqueueContext(ctx, asynq.NewTask(jobName, data), opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", jobName, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
