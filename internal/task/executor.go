package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohans/mineru-api/asyncx"
	"github.com/mohans/mineru-api/internal/analyzer"
)

// Executor runs the analyzer for one job and turns every way it can go wrong
// (error, panic, timeout) into a returned error.
type Executor struct {
	analyzer analyzer.Analyzer
	timeout  time.Duration
	logger   *slog.Logger
}

// NewExecutor builds an Executor. A zero timeout lets analysis run unbounded.
func NewExecutor(a analyzer.Analyzer, timeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{analyzer: a, timeout: timeout, logger: logger}
}

type outcome struct {
	arts analyzer.Artifacts
	err  error
}

// Run executes job and returns once the analyzer has returned.
func (e *Executor) Run(ctx context.Context, job Job) (asyncx.Result, error) {
	var res asyncx.Result
	var err error
	e.Execute(ctx, job, func(r asyncx.Result, rerr error) { res, err = r, rerr })
	return res, err
}

// Execute hands the outcome of job to report exactly once. When the timeout
// passes first, report gets the timeout error at the deadline, but Execute
// still waits for the analyzer to return so the caller's worker stays busy
// for as long as the analysis really runs.
func (e *Executor) Execute(ctx context.Context, job Job, report func(asyncx.Result, error)) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("analysis panicked: %v", r)}
			}
		}()
		arts, err := e.analyzer.Analyze(ctx, analyzer.Input{PDFPath: job.PDFPath, OutputDir: job.OutputDir})
		done <- outcome{arts: arts, err: err}
	}()

	select {
	case out := <-done:
		report(e.finish(job, start, out))
	case <-ctx.Done():
		report(e.finish(job, start, outcome{err: ctx.Err()}))
		<-done
		e.logger.Warn("analysis returned after its deadline", "task_id", job.TaskID, "duration_ms", time.Since(start).Milliseconds())
	}
}

func (e *Executor) finish(job Job, start time.Time, out outcome) (asyncx.Result, error) {
	if out.err != nil {
		err := out.err
		if e.timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("analysis timed out after %s", e.timeout)
		}
		e.logger.Warn("analysis failed", "task_id", job.TaskID, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, err
	}
	if len(out.arts) == 0 {
		return nil, errors.New("analysis produced no artifacts")
	}
	e.logger.Info("analysis completed", "task_id", job.TaskID, "duration_ms", time.Since(start).Milliseconds())
	return asyncx.Result(out.arts), nil
}
