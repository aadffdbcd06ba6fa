package task

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mohans/mineru-api/asyncx"
	"github.com/mohans/mineru-api/internal/analyzer"
	"github.com/mohans/mineru-api/internal/apperrors"
)

// Lookup reads one task. It never changes state.
func Lookup(ctx context.Context, store asyncx.Store, taskID string) (*asyncx.TaskRecord, error) {
	rec, err := store.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, asyncx.ErrNotFound) {
			return nil, apperrors.New(apperrors.ErrCodeNotFound, "Task not found", err)
		}
		return nil, apperrors.New(apperrors.ErrCodeInternal, "failed to load task", err)
	}
	return rec, nil
}

// ArtifactPath resolves one artifact of a completed task to a file on disk.
func ArtifactPath(ctx context.Context, store asyncx.Store, taskID, kind string) (string, error) {
	if !analyzer.KnownKind(kind) {
		return "", apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("unknown artifact %q", kind), nil)
	}
	rec, err := Lookup(ctx, store, taskID)
	if err != nil {
		return "", err
	}
	if rec.Status != asyncx.StatusCompleted {
		return "", apperrors.New(apperrors.ErrCodeConflict, fmt.Sprintf("task is %s", rec.Status), nil)
	}
	p, ok := rec.Result[kind]
	if !ok {
		return "", apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("artifact %q not produced", kind), nil)
	}
	if _, err := os.Stat(p); err != nil {
		return "", apperrors.New(apperrors.ErrCodeNotFound, "artifact no longer available", err)
	}
	return p, nil
}
