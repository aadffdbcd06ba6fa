package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newPool(t *testing.T, size int, opts ...Option) *Pool {
	t.Helper()
	p, err := New(size, opts...)
	if err != nil {
		t.Fatalf("New() err=%v, want nil", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func waitSignal(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatalf("timeout waiting for signal %v", d)
	}
}

func TestPool_RunsAllTasks(t *testing.T) {
	p := newPool(t, 3)

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		if err := p.Submit(func() { defer wg.Done(); n.Add(1) }); err != nil {
			t.Fatalf("Submit() err=%v, want nil", err)
		}
	}
	wg.Wait()
	if got := n.Load(); got != 50 {
		t.Fatalf("ran=%d, want 50", got)
	}
}

func TestPool_SingleWorkerIsFIFO(t *testing.T) {
	p := newPool(t, 1)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Submit(%d) err=%v", i, err)
		}
	}
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("order=%v, want ascending", order)
		}
	}
}

func TestPool_SaturatedWorkWaits(t *testing.T) {
	p := newPool(t, 1)

	release := make(chan struct{})
	firstStarted := make(chan struct{})
	secondStarted := make(chan struct{})

	if err := p.Submit(func() { close(firstStarted); <-release }); err != nil {
		t.Fatalf("Submit(first) err=%v", err)
	}
	waitSignal(t, firstStarted, time.Second)

	if err := p.Submit(func() { close(secondStarted) }); err != nil {
		t.Fatalf("Submit(second) err=%v", err)
	}

	select {
	case <-secondStarted:
		t.Fatalf("second task started while the only worker was busy")
	case <-time.After(100 * time.Millisecond):
	}
	st := p.Stats()
	if st.Running != 1 || st.Queued != 1 || st.Workers != 1 {
		t.Fatalf("Stats()=%+v, want 1 running 1 queued", st)
	}

	close(release)
	waitSignal(t, secondStarted, time.Second)
}

func TestPool_QueueLimit(t *testing.T) {
	p := newPool(t, 1, WithQueueLimit(1))

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(func() { close(started); <-release }); err != nil {
		t.Fatalf("Submit(first) err=%v", err)
	}
	waitSignal(t, started, time.Second)

	if err := p.Submit(func() {}); err != nil {
		t.Fatalf("Submit(second) err=%v, want nil", err)
	}
	if err := p.Submit(func() {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit(third) err=%v, want ErrQueueFull", err)
	}
	close(release)
}

func TestPool_PanicDoesNotKillPool(t *testing.T) {
	p := newPool(t, 1)

	if err := p.Submit(func() { panic("boom") }); err != nil {
		t.Fatalf("Submit(panic) err=%v", err)
	}
	done := make(chan struct{})
	if err := p.Submit(func() { close(done) }); err != nil {
		t.Fatalf("Submit(after panic) err=%v", err)
	}
	waitSignal(t, done, time.Second)
}

func TestPool_ShutdownDrainsQueue(t *testing.T) {
	p, err := New(1)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	var n atomic.Int64
	for i := 0; i < 5; i++ {
		if err := p.Submit(func() { time.Sleep(5 * time.Millisecond); n.Add(1) }); err != nil {
			t.Fatalf("Submit() err=%v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() err=%v, want nil", err)
	}
	if got := n.Load(); got != 5 {
		t.Fatalf("ran=%d before shutdown returned, want 5", got)
	}
	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Submit after Shutdown err=%v, want ErrPoolClosed", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() err=%v, want nil", err)
	}
}

func TestPool_ShutdownHonorsContext(t *testing.T) {
	p, err := New(1)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	if err := p.Submit(func() { close(started); <-release }); err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	waitSignal(t, started, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() err=%v, want DeadlineExceeded", err)
	}
}
