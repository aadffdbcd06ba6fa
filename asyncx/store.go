package asyncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrAlreadyFinished = errors.New("task already finished")
)

// Store abstracts persistence for task lifecycle records.
// Implementations must be safe for concurrent use, and MarkStarted,
// MarkCompleted and MarkFailed must only apply to a task that is still
// processing (ErrAlreadyFinished otherwise).
type Store interface {
	InsertCreated(ctx context.Context, rec TaskRecord) error
	MarkStarted(ctx context.Context, taskID string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, taskID string, result Result, finishedAt time.Time) error
	MarkFailed(ctx context.Context, taskID string, errorMsg string, finishedAt time.Time) error
	GetByID(ctx context.Context, taskID string) (*TaskRecord, error)
	Delete(ctx context.Context, taskID string) error
	// ListExpired returns ids of terminal tasks finished before the cutoff.
	ListExpired(ctx context.Context, before time.Time) ([]string, error)
}

// Dialect selects the placeholder style of the SQL backend.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Schema is portable between sqlite and postgres. Timestamps are unix
// milliseconds so that range scans compare numerically on both.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS mineru_tasks (
    id          VARCHAR(64) PRIMARY KEY,
    filename    TEXT        NOT NULL,
    status      VARCHAR(32) NOT NULL,
    error_msg   TEXT        NULL,
    result_json TEXT        NULL,
    created_at  BIGINT      NOT NULL,
    started_at  BIGINT      NULL,
    finished_at BIGINT      NULL
)`,
	`CREATE INDEX IF NOT EXISTS mineru_tasks_finished_at ON mineru_tasks (finished_at)`,
}

// SQLStore is a Store backed by a relational DB (sqlite or postgres).
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the task table if it does not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	for _, stmt := range Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) InsertCreated(ctx context.Context, rec TaskRecord) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `INSERT INTO mineru_tasks (id, filename, status, created_at) VALUES (?, ?, ?, ?)`
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(q), rec.ID, rec.Filename, string(StatusProcessing), createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert task %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLStore) MarkStarted(ctx context.Context, taskID string, startedAt time.Time) error {
	q := `UPDATE mineru_tasks SET started_at = ? WHERE id = ? AND status = ?`
	return s.transition(ctx, taskID, q, startedAt.UnixMilli(), taskID, string(StatusProcessing))
}

func (s *SQLStore) MarkCompleted(ctx context.Context, taskID string, result Result, finishedAt time.Time) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	q := `UPDATE mineru_tasks SET status = ?, result_json = ?, finished_at = ? WHERE id = ? AND status = ?`
	return s.transition(ctx, taskID, q, string(StatusCompleted), string(b), finishedAt.UnixMilli(), taskID, string(StatusProcessing))
}

func (s *SQLStore) MarkFailed(ctx context.Context, taskID string, errorMsg string, finishedAt time.Time) error {
	q := `UPDATE mineru_tasks SET status = ?, error_msg = ?, finished_at = ? WHERE id = ? AND status = ?`
	return s.transition(ctx, taskID, q, string(StatusFailed), errorMsg, finishedAt.UnixMilli(), taskID, string(StatusProcessing))
}

// transition runs a guarded update and explains a zero-row result.
func (s *SQLStore) transition(ctx context.Context, taskID, q string, args ...any) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	if n > 0 {
		return nil
	}
	rec, err := s.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return ErrAlreadyFinished
	}
	return fmt.Errorf("update task %s: no rows affected", taskID)
}

func (s *SQLStore) GetByID(ctx context.Context, taskID string) (*TaskRecord, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	q := `SELECT id, filename, status, error_msg, result_json, created_at, started_at, finished_at FROM mineru_tasks WHERE id = ?`
	row := s.db.QueryRowContext(ctx, s.rebind(q), taskID)

	rec := TaskRecord{}
	var status string
	var createdAt int64
	var startedAt, finishedAt sql.NullInt64
	var errorMsg, resultJSON sql.NullString
	if err := row.Scan(&rec.ID, &rec.Filename, &status, &errorMsg, &resultJSON, &createdAt, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	rec.Status = Status(status)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	if errorMsg.Valid {
		v := errorMsg.String
		rec.ErrorMsg = &v
	}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), &rec.Result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", taskID, err)
		}
	}
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		rec.FinishedAt = &t
	}
	return &rec, nil
}

func (s *SQLStore) Delete(ctx context.Context, taskID string) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM mineru_tasks WHERE id = ?`), taskID); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

func (s *SQLStore) ListExpired(ctx context.Context, before time.Time) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	q := `SELECT id FROM mineru_tasks WHERE status <> ? AND finished_at IS NOT NULL AND finished_at < ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), string(StatusProcessing), before.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list expired: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
