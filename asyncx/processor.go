package asyncx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

// Processor manages background workers and updates Store on lifecycle events.
type Processor struct {
	server *asynq.Server
	store  Store
	log    *slog.Logger
}

type ProcessorConfig struct {
	Concurrency     int
	Queues          map[string]int
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

func NewProcessor(redisOpt asynq.RedisClientOpt, store Store, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	qs := cfg.Queues
	if qs == nil {
		qs = map[string]int{"default": 1}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     con,
		Queues:          qs,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          slogAdapter{l: log.With("component", "asynq")},
	})
	return &Processor{server: server, store: store, log: log}
}

type resultKey struct{}

type resultHolder struct{ res Result }

// SetResult hands a handler's artifact mapping to the lifecycle middleware,
// which stores it when the handler returns nil.
func SetResult(ctx context.Context, res Result) {
	if h, ok := ctx.Value(resultKey{}).(*resultHolder); ok {
		h.res = res
	}
}

// Middleware to mark started/completed/failed
func (p *Processor) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) (err error) {
		id, ok := asynq.GetTaskID(ctx)
		if !ok || p.store == nil {
			return next.ProcessTask(ctx, t)
		}
		if err := p.store.MarkStarted(ctx, id, time.Now().UTC()); err != nil {
			p.log.Warn("mark started", "task_id", id, "error", err)
		}

		holder := &resultHolder{}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
			// The handler ctx may already be past its deadline.
			wctx := context.WithoutCancel(ctx)
			now := time.Now().UTC()
			var werr error
			if err != nil {
				werr = p.store.MarkFailed(wctx, id, err.Error(), now)
			} else {
				werr = p.store.MarkCompleted(wctx, id, holder.res, now)
			}
			if werr != nil {
				p.log.Error("record outcome", "task_id", id, "error", werr)
			}
		}()
		return next.ProcessTask(context.WithValue(ctx, resultKey{}, holder), t)
	})
}

// Start runs the server in the background with the given mux wrapped in the
// lifecycle middleware.
func (p *Processor) Start(mux *asynq.ServeMux) error {
	if mux == nil {
		mux = asynq.NewServeMux()
	}
	return p.server.Start(p.lifecycleMiddleware(mux))
}

func (p *Processor) Shutdown() { p.server.Shutdown() }

// slogAdapter satisfies asynq.Logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }

func (a slogAdapter) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
