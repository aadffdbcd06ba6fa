package asyncx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Client wraps asynq.Client for tasks whose record already exists in a Store.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	timeout   time.Duration
}

type ClientOptions struct {
	Queue string
	// Timeout bounds one handler run. Zero leaves asynq's default (30m).
	Timeout time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, opts ClientOptions) *Client {
	q := opts.Queue
	if q == "" {
		q = "default"
	}
	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     q,
		timeout:   opts.Timeout,
	}
}

// Enqueue schedules taskType under the given id with a JSON payload.
// Tasks run at most once: retries are disabled.
func (c *Client) Enqueue(ctx context.Context, taskID, taskType string, payload any, options ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.client == nil {
		return nil, fmt.Errorf("nil asynq client")
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.TaskID(taskID), asynq.MaxRetry(0), asynq.Queue(c.queue)}
	if c.timeout > 0 {
		opts = append(opts, asynq.Timeout(c.timeout))
	}
	t := asynq.NewTask(taskType, payloadBytes)
	info, err := c.client.EnqueueContext(ctx, t, append(opts, options...)...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", taskID, err)
	}
	return info, nil
}

// QueueStats is a snapshot of the client's queue.
type QueueStats struct {
	Pending   int
	Active    int
	Completed int
	Failed    int
}

// Stats reads queue counters. A queue nothing was enqueued to yet reports zeros.
func (c *Client) Stats() (QueueStats, error) {
	info, err := c.inspector.GetQueueInfo(c.queue)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return QueueStats{}, nil
		}
		return QueueStats{}, fmt.Errorf("queue info: %w", err)
	}
	return QueueStats{
		Pending:   info.Pending,
		Active:    info.Active,
		Completed: info.ProcessedTotal - info.FailedTotal,
		Failed:    info.FailedTotal,
	}, nil
}

func (c *Client) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}
