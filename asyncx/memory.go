package asyncx

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryOptions bounds the in-process store. Capacity and TTL only apply to
// finished tasks; a processing task stays until it reaches a terminal state.
type MemoryOptions struct {
	// Capacity caps the number of finished records; the least recently used
	// one is evicted first. Zero means unbounded.
	Capacity int
	// TTL drops a finished record this long after its terminal write. Zero
	// disables it.
	TTL time.Duration
	// OnEvict, when set, is called for every record leaving the store
	// (capacity, TTL or Delete). It may run under the store lock and must
	// not call back into the store.
	OnEvict func(taskID string)
}

// MemoryStore keeps processing tasks in a map and finished ones in an
// expirable LRU. Lost on restart.
type MemoryStore struct {
	// mu serializes read-check-write sequences; the LRU only locks single calls.
	mu       sync.Mutex
	active   map[string]TaskRecord
	finished *expirable.LRU[string, TaskRecord]
	onEvict  func(string)
}

func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	var onEvict func(string, TaskRecord)
	if opts.OnEvict != nil {
		cb := opts.OnEvict
		onEvict = func(id string, _ TaskRecord) { cb(id) }
	}
	return &MemoryStore{
		active:   make(map[string]TaskRecord),
		finished: expirable.NewLRU[string, TaskRecord](opts.Capacity, onEvict, opts.TTL),
		onEvict:  opts.OnEvict,
	}
}

func (s *MemoryStore) InsertCreated(_ context.Context, rec TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[rec.ID]; ok {
		return fmt.Errorf("insert task %s: duplicate id", rec.ID)
	}
	if _, ok := s.finished.Peek(rec.ID); ok {
		return fmt.Errorf("insert task %s: duplicate id", rec.ID)
	}
	stored := TaskRecord{
		ID:        rec.ID,
		Filename:  rec.Filename,
		Status:    StatusProcessing,
		CreatedAt: rec.CreatedAt,
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.active[rec.ID] = stored
	return nil
}

func (s *MemoryStore) MarkStarted(_ context.Context, taskID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.processing(taskID)
	if err != nil {
		return err
	}
	t := startedAt
	rec.StartedAt = &t
	s.active[taskID] = rec
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, taskID string, result Result, finishedAt time.Time) error {
	return s.finish(taskID, func(rec *TaskRecord) {
		rec.Status = StatusCompleted
		rec.Result = maps.Clone(result)
	}, finishedAt)
}

func (s *MemoryStore) MarkFailed(_ context.Context, taskID string, errorMsg string, finishedAt time.Time) error {
	return s.finish(taskID, func(rec *TaskRecord) {
		msg := errorMsg
		rec.Status = StatusFailed
		rec.ErrorMsg = &msg
	}, finishedAt)
}

// finish moves a processing record into the LRU, which may evict an older
// finished record.
func (s *MemoryStore) finish(taskID string, apply func(*TaskRecord), finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.processing(taskID)
	if err != nil {
		return err
	}
	apply(&rec)
	t := finishedAt
	rec.FinishedAt = &t
	delete(s.active, taskID)
	s.finished.Add(taskID, rec)
	return nil
}

// processing must be called with mu held.
func (s *MemoryStore) processing(taskID string) (TaskRecord, error) {
	if rec, ok := s.active[taskID]; ok {
		return rec, nil
	}
	if _, ok := s.finished.Peek(taskID); ok {
		return TaskRecord{}, ErrAlreadyFinished
	}
	return TaskRecord{}, ErrNotFound
}

func (s *MemoryStore) GetByID(_ context.Context, taskID string) (*TaskRecord, error) {
	s.mu.Lock()
	rec, ok := s.active[taskID]
	s.mu.Unlock()
	if ok {
		return cloneRecord(rec), nil
	}
	rec, ok = s.finished.Get(taskID)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[taskID]; ok {
		delete(s.active, taskID)
		if s.onEvict != nil {
			s.onEvict(taskID)
		}
		return nil
	}
	s.finished.Remove(taskID)
	return nil
}

func (s *MemoryStore) ListExpired(_ context.Context, before time.Time) ([]string, error) {
	var ids []string
	for _, rec := range s.finished.Values() {
		if rec.FinishedAt != nil && rec.FinishedAt.Before(before) {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

// Len reports the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) + s.finished.Len()
}

func cloneRecord(rec TaskRecord) *TaskRecord {
	out := rec
	out.Result = maps.Clone(rec.Result)
	if rec.ErrorMsg != nil {
		v := *rec.ErrorMsg
		out.ErrorMsg = &v
	}
	if rec.StartedAt != nil {
		v := *rec.StartedAt
		out.StartedAt = &v
	}
	if rec.FinishedAt != nil {
		v := *rec.FinishedAt
		out.FinishedAt = &v
	}
	return &out
}
