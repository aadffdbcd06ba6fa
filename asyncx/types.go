package asyncx

import "time"

// Status represents task processing status recorded in the store.
// Valid values: processing, completed, failed.
// Kept as string for readability in SQL and redis hashes.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition may happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result maps an artifact kind (e.g. "markdown") to a filesystem path.
type Result map[string]string

// TaskRecord is the stored representation of one upload-to-result lifecycle.
type TaskRecord struct {
	ID         string // uuid
	Filename   string // original upload name
	Status     Status
	ErrorMsg   *string // set only when failed
	Result     Result  // set only when completed
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}
