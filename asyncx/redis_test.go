package asyncx

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func startMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newRedisStore(t *testing.T, opts RedisOptions) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := startMiniRedis(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, opts), mr
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		store, _ := newRedisStore(t, RedisOptions{})
		return store
	})
}

func TestRedisStore_TTLRefreshedOnWrite(t *testing.T) {
	store, mr := newRedisStore(t, RedisOptions{Prefix: "test", TTL: time.Hour})
	ctx := context.Background()

	if err := store.InsertCreated(ctx, TaskRecord{ID: "t1", Filename: "a.pdf"}); err != nil {
		t.Fatalf("InsertCreated: %v", err)
	}
	if ttl := mr.TTL("test:task:t1"); ttl != time.Hour {
		t.Fatalf("ttl=%v, want 1h", ttl)
	}
	mr.FastForward(30 * time.Minute)
	if err := store.MarkCompleted(ctx, "t1", Result{"markdown": "a.md"}, time.Now().UTC()); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if ttl := mr.TTL("test:task:t1"); ttl != time.Hour {
		t.Fatalf("ttl after write=%v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if mr.Exists("test:task:t1") {
		t.Fatalf("task hash should have expired")
	}
}

func TestRedisStore_InsertIsAllOrNothing(t *testing.T) {
	store, mr := newRedisStore(t, RedisOptions{Prefix: "test", TTL: time.Hour})
	ctx := context.Background()

	mr.SetError("LOADING redis is loading the dataset")
	if err := store.InsertCreated(ctx, TaskRecord{ID: "t1", Filename: "a.pdf"}); err == nil {
		t.Fatalf("InsertCreated err=nil while redis fails, want error")
	}
	mr.SetError("")
	if mr.Exists("test:task:t1") {
		t.Fatalf("failed insert left a partial hash behind")
	}

	if err := store.InsertCreated(ctx, TaskRecord{ID: "t1", Filename: "a.pdf"}); err != nil {
		t.Fatalf("InsertCreated err=%v, want nil", err)
	}
	if ttl := mr.TTL("test:task:t1"); ttl != time.Hour {
		t.Fatalf("ttl=%v, want 1h", ttl)
	}
	if err := store.InsertCreated(ctx, TaskRecord{ID: "t1", Filename: "b.pdf"}); err == nil {
		t.Fatalf("duplicate InsertCreated err=nil, want error")
	}
	rec, err := store.GetByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Filename != "a.pdf" || rec.Status != StatusProcessing {
		t.Fatalf("duplicate insert changed the record: %+v", rec)
	}
}
