package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohans/mineru-api/asyncx"
)

// Janitor deletes finished tasks older than the retention window together
// with their scratch directories.
type Janitor struct {
	store     asyncx.Store
	staging   *Staging
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewJanitor(store asyncx.Store, staging *Staging, retention, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:     store,
		staging:   staging,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is done. A zero interval or retention
// disables it.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 || j.retention <= 0 {
		j.logger.Info("janitor disabled")
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.Error("janitor sweep", "error", err)
			}
		}
	}
}

// Sweep removes expired tasks once and reports how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	ids, err := j.store.ListExpired(ctx, j.now().Add(-j.retention))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := j.store.Delete(ctx, id); err != nil {
			j.logger.Warn("delete expired task", "task_id", id, "error", err)
			continue
		}
		if err := j.staging.Release(id); err != nil {
			j.logger.Warn("release scratch dir", "task_id", id, "error", err)
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("janitor removed expired tasks", "count", removed)
	}
	return removed, nil
}
