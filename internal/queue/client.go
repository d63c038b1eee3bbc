package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/documind/internal/config"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type Client struct {
	client *asynq.Client
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{client: asynq.NewClient(RedisOpt(cfg))}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnqueueIngestResume(ctx context.Context, p IngestResumePayload) error {
	return c.enqueue(ctx, TypeIngestResume, p,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Timeout(10*time.Minute),
		asynq.TaskID(fmt.Sprintf("resume:%s:%d", p.DocumentID, p.StartChunk)),
	)
}

func (c *Client) EnqueueVectorPrune(ctx context.Context, p VectorPrunePayload) error {
	return c.enqueue(ctx, TypeVectorPrune, p,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.Timeout(time.Minute),
		asynq.TaskID("prune:"+p.UserID+":"+p.DocumentID),
	)
}

func (c *Client) EnqueueReconcile(ctx context.Context, p ReconcilePayload) error {
	return c.enqueue(ctx, TypeCatalogReconcile, p,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(1),
		asynq.Timeout(30*time.Minute),
	)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	task, err := NewTask(taskType, payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Same work is already pending.
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

func NewTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(taskType, data), nil
}
