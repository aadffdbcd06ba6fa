package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohans/mineru-api/asyncx"
	"github.com/mohans/mineru-api/internal/analyzer"
	"github.com/mohans/mineru-api/internal/apperrors"
)

// Receipt is what an accepted upload returns to the client.
type Receipt struct {
	TaskID string
	Status asyncx.Status
}

// Dispatcher turns an upload into a registered, scheduled task.
type Dispatcher struct {
	store     asyncx.Store
	staging   *Staging
	scheduler Scheduler
	logger    *slog.Logger
	now       func() time.Time
}

func NewDispatcher(store asyncx.Store, staging *Staging, scheduler Scheduler, logger *slog.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if staging == nil {
		return nil, ErrStagingNil
	}
	if scheduler == nil {
		return nil, ErrSchedulerNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		staging:   staging,
		scheduler: scheduler,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// ValidateFilename accepts names ending in ".pdf" (case-sensitive) that keep
// a non-empty document name before the first dot.
func ValidateFilename(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return ErrNoFile
	}
	if !strings.HasSuffix(filename, ".pdf") {
		return ErrNotPDF
	}
	if analyzer.BaseName(filepath.Base(filename)) == "" {
		return fmt.Errorf("%w: empty document name", ErrNotPDF)
	}
	return nil
}

// Dispatch stages content, registers the task as processing and schedules
// it. It never waits for analysis.
func (d *Dispatcher) Dispatch(ctx context.Context, filename string, content io.Reader) (Receipt, error) {
	if err := ValidateFilename(filename); err != nil {
		return Receipt{}, apperrors.New(apperrors.ErrCodeBadRequest, err.Error(), err)
	}

	id := uuid.NewString()
	pdfPath, err := d.staging.Stage(id, filename, content)
	if err != nil {
		d.logger.Error("stage upload", "task_id", id, "filename", filename, "error", err)
		return Receipt{}, apperrors.New(apperrors.ErrCodeInternal, "failed to save uploaded file", err)
	}

	rec := asyncx.TaskRecord{ID: id, Filename: filename, CreatedAt: d.now()}
	if err := d.store.InsertCreated(ctx, rec); err != nil {
		_ = d.staging.Release(id)
		d.logger.Error("register task", "task_id", id, "error", err)
		return Receipt{}, apperrors.New(apperrors.ErrCodeInternal, "failed to register task", err)
	}

	job := Job{TaskID: id, PDFPath: pdfPath, OutputDir: d.staging.Dir(id)}
	if err := d.scheduler.Schedule(ctx, job); err != nil {
		reason := fmt.Sprintf("not scheduled: %v", err)
		if ferr := d.store.MarkFailed(context.WithoutCancel(ctx), id, reason, d.now()); ferr != nil {
			d.logger.Error("mark unscheduled task failed", "task_id", id, "error", ferr)
		}
		_ = d.staging.Release(id)
		d.logger.Warn("scheduler refused task", "task_id", id, "error", err)
		return Receipt{}, apperrors.New(apperrors.ErrCodeUnavailable, "server is busy, try again later", err)
	}

	d.logger.Info("task accepted", "task_id", id, "filename", filename)
	return Receipt{TaskID: id, Status: asyncx.StatusProcessing}, nil
}
