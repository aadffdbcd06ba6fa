package task

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mohans/mineru-api/asyncx"
	"github.com/mohans/mineru-api/internal/workerpool"
)

// Scheduler starts background execution of a job without waiting for it.
type Scheduler interface {
	Schedule(ctx context.Context, job Job) error
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type eventKind int

const (
	eventStarted eventKind = iota
	eventFinished
)

type event struct {
	kind   eventKind
	taskID string
	at     time.Time
	result asyncx.Result
	err    error
}

// LocalScheduler runs jobs on an in-process worker pool. Workers only report
// events; a single recorder goroutine applies them to the store.
type LocalScheduler struct {
	pool   *workerpool.Pool
	exec   *Executor
	store  asyncx.Store
	logger *slog.Logger

	events       chan event
	quit         chan struct{}
	recorderDone chan struct{}

	completed atomic.Int64
	failed    atomic.Int64
}

func NewLocalScheduler(pool *workerpool.Pool, exec *Executor, store asyncx.Store, logger *slog.Logger) *LocalScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LocalScheduler{
		pool:         pool,
		exec:         exec,
		store:        store,
		logger:       logger,
		events:       make(chan event, 64),
		quit:         make(chan struct{}),
		recorderDone: make(chan struct{}),
	}
	go s.record()
	return s
}

func (s *LocalScheduler) Schedule(_ context.Context, job Job) error {
	return s.pool.Submit(func() {
		s.emit(event{kind: eventStarted, taskID: job.TaskID, at: time.Now().UTC()})
		s.exec.Execute(context.Background(), job, func(res asyncx.Result, err error) {
			s.emit(event{kind: eventFinished, taskID: job.TaskID, at: time.Now().UTC(), result: res, err: err})
		})
	})
}

func (s *LocalScheduler) emit(ev event) {
	select {
	case s.events <- ev:
	case <-s.quit:
		s.logger.Warn("scheduler stopped, dropping task event", "task_id", ev.taskID)
	}
}

func (s *LocalScheduler) record() {
	defer close(s.recorderDone)
	for {
		select {
		case ev := <-s.events:
			s.apply(ev)
		case <-s.quit:
			for {
				select {
				case ev := <-s.events:
					s.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *LocalScheduler) apply(ev event) {
	ctx := context.Background()
	switch {
	case ev.kind == eventStarted:
		if err := s.store.MarkStarted(ctx, ev.taskID, ev.at); err != nil {
			s.logger.Warn("mark started", "task_id", ev.taskID, "error", err)
		}
	case ev.err != nil:
		if err := s.store.MarkFailed(ctx, ev.taskID, ev.err.Error(), ev.at); err != nil {
			s.logTerminal(ev.taskID, err)
			return
		}
		s.failed.Add(1)
	default:
		if err := s.store.MarkCompleted(ctx, ev.taskID, ev.result, ev.at); err != nil {
			s.logTerminal(ev.taskID, err)
			return
		}
		s.completed.Add(1)
	}
}

func (s *LocalScheduler) logTerminal(taskID string, err error) {
	if errors.Is(err, asyncx.ErrAlreadyFinished) || errors.Is(err, asyncx.ErrNotFound) {
		s.logger.Warn("task outcome not recorded", "task_id", taskID, "error", err)
		return
	}
	s.logger.Error("record task outcome", "task_id", taskID, "error", err)
}

func (s *LocalScheduler) Stats(_ context.Context) (Stats, error) {
	ps := s.pool.Stats()
	return Stats{
		Queued:    ps.Queued,
		Running:   ps.Running,
		Completed: int(s.completed.Load()),
		Failed:    int(s.failed.Load()),
	}, nil
}

// Stop drains the pool, then the recorder. Events still pending when ctx
// ends are dropped and their tasks stay processing.
func (s *LocalScheduler) Stop(ctx context.Context) error {
	err := s.pool.Shutdown(ctx)
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.recorderDone
	return err
}
