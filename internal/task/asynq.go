package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/mohans/mineru-api/asyncx"
)

// TypeAnalyze is the asynq task type for one PDF analysis.
const TypeAnalyze = "pdf:analyze"

// AsynqScheduler hands jobs to redis through asyncx.Client; an asyncx.Processor
// running AnalyzeHandler picks them up and records the outcome.
type AsynqScheduler struct {
	client *asyncx.Client
}

func NewAsynqScheduler(client *asyncx.Client) *AsynqScheduler {
	return &AsynqScheduler{client: client}
}

func (s *AsynqScheduler) Schedule(ctx context.Context, job Job) error {
	_, err := s.client.Enqueue(ctx, job.TaskID, TypeAnalyze, job)
	return err
}

func (s *AsynqScheduler) Stats(_ context.Context) (Stats, error) {
	qs, err := s.client.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Queued: qs.Pending, Running: qs.Active, Completed: qs.Completed, Failed: qs.Failed}, nil
}

// NewAnalyzeMux routes TypeAnalyze tasks to exec.
func NewAnalyzeMux(exec *Executor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAnalyze, AnalyzeHandler(exec))
	return mux
}

// AnalyzeHandler decodes a Job and runs it, passing artifacts to the
// lifecycle middleware through asyncx.SetResult.
func AnalyzeHandler(exec *Executor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var job Job
		if err := json.Unmarshal(t.Payload(), &job); err != nil {
			return fmt.Errorf("decode job: %w: %w", err, asynq.SkipRetry)
		}
		res, err := exec.Run(ctx, job)
		if err != nil {
			return err
		}
		asyncx.SetResult(ctx, res)
		return nil
	}
}
