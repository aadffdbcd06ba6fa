package asyncx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTxRetries = 10

var errDuplicateID = errors.New("duplicate id")

// RedisStore keeps one hash per task plus a sorted set of finish times.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisOptions struct {
	// Prefix namespaces keys, default "mineru".
	Prefix string
	// TTL expires a task hash this long after its last write. Zero keeps it.
	TTL time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, opts RedisOptions) *RedisStore {
	p := opts.Prefix
	if p == "" {
		p = "mineru"
	}
	return &RedisStore{rdb: rdb, prefix: p, ttl: opts.TTL}
}

func (s *RedisStore) key(taskID string) string { return s.prefix + ":task:" + taskID }

func (s *RedisStore) finishedKey() string { return s.prefix + ":tasks:finished" }

// InsertCreated writes the whole hash and its TTL in one transaction, so a
// failed insert leaves nothing behind.
func (s *RedisStore) InsertCreated(ctx context.Context, rec TaskRecord) error {
	key := s.key(rec.ID)
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	insert := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errDuplicateID
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"id", rec.ID,
				"filename", rec.Filename,
				"status", string(StatusProcessing),
				"created_at", createdAt.UnixMilli(),
			)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.rdb.Watch(ctx, insert, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, errDuplicateID) {
			return fmt.Errorf("insert task %s: duplicate id", rec.ID)
		}
		if err != nil {
			return fmt.Errorf("insert task %s: %w", rec.ID, err)
		}
		return nil
	}
	return fmt.Errorf("insert task %s: too many concurrent writers", rec.ID)
}

func (s *RedisStore) MarkStarted(ctx context.Context, taskID string, startedAt time.Time) error {
	return s.transition(ctx, taskID, map[string]any{"started_at": startedAt.UnixMilli()}, nil)
}

func (s *RedisStore) MarkCompleted(ctx context.Context, taskID string, result Result, finishedAt time.Time) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.transition(ctx, taskID, map[string]any{
		"status":      string(StatusCompleted),
		"result_json": string(b),
		"finished_at": finishedAt.UnixMilli(),
	}, &finishedAt)
}

func (s *RedisStore) MarkFailed(ctx context.Context, taskID string, errorMsg string, finishedAt time.Time) error {
	return s.transition(ctx, taskID, map[string]any{
		"status":      string(StatusFailed),
		"error_msg":   errorMsg,
		"finished_at": finishedAt.UnixMilli(),
	}, &finishedAt)
}

// transition applies fields under WATCH so a concurrent terminal write
// aborts the transaction instead of overwriting it.
func (s *RedisStore) transition(ctx context.Context, taskID string, fields map[string]any, finishedAt *time.Time) error {
	key := s.key(taskID)
	apply := func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if Status(status).Terminal() {
			return ErrAlreadyFinished
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			if finishedAt != nil {
				pipe.ZAdd(ctx, s.finishedKey(), redis.Z{Score: float64(finishedAt.UnixMilli()), Member: taskID})
			}
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.rdb.Watch(ctx, apply, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyFinished) {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}
		return err
	}
	return fmt.Errorf("update task %s: too many concurrent writers", taskID)
}

func (s *RedisStore) GetByID(ctx context.Context, taskID string) (*TaskRecord, error) {
	m, err := s.rdb.HGetAll(ctx, s.key(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	if len(m) == 0 || m["status"] == "" {
		return nil, ErrNotFound
	}
	rec := TaskRecord{
		ID:       taskID,
		Filename: m["filename"],
		Status:   Status(m["status"]),
	}
	if v, ok := m["created_at"]; ok {
		if t, err := parseMillis(v); err == nil {
			rec.CreatedAt = t
		}
	}
	if v, ok := m["started_at"]; ok {
		if t, err := parseMillis(v); err == nil {
			rec.StartedAt = &t
		}
	}
	if v, ok := m["finished_at"]; ok {
		if t, err := parseMillis(v); err == nil {
			rec.FinishedAt = &t
		}
	}
	if v, ok := m["error_msg"]; ok {
		rec.ErrorMsg = &v
	}
	if v, ok := m["result_json"]; ok {
		if err := json.Unmarshal([]byte(v), &rec.Result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", taskID, err)
		}
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(taskID))
		pipe.ZRem(ctx, s.finishedKey(), taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

func (s *RedisStore) ListExpired(ctx context.Context, before time.Time) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.finishedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	return ids, nil
}

func parseMillis(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(n).UTC(), nil
}
