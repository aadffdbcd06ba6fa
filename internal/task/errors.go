package task

import "errors"

var (
	ErrNotPDF       = errors.New("only PDF files are supported")
	ErrNoFile       = errors.New("file is required")
	ErrStoreNil     = errors.New("task store is nil")
	ErrStagingNil   = errors.New("staging is nil")
	ErrSchedulerNil = errors.New("scheduler is nil")
)
