package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

var (
	ErrQueueFull  = errors.New("worker pool queue is full")
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Pool runs submitted functions on a fixed number of goroutines. Work that
// finds every worker busy waits in a FIFO queue; by default the queue is
// unbounded and Submit never blocks.
type Pool struct {
	workers *ants.Pool
	logger  *slog.Logger
	limit   int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	waiting  atomic.Int64
	running  atomic.Int64
	inFlight sync.WaitGroup
	fed      chan struct{}
}

type Option func(*Pool)

// WithQueueLimit caps the number of waiting submissions. Zero means unbounded.
func WithQueueLimit(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.limit = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(size int, opts ...Option) (*Pool, error) {
	p := &Pool{
		logger: slog.Default(),
		fed:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.cond = sync.NewCond(&p.mu)

	workers, err := ants.NewPool(size, ants.WithOptions(ants.Options{
		// Submit blocks until a worker is free; only the feeder calls it.
		Nonblocking: false,
		PanicHandler: func(r any) {
			p.logger.Error("worker pool task panicked", "panic", r)
		},
	}))
	if err != nil {
		return nil, err
	}
	p.workers = workers

	go p.feed()
	p.logger.Info("worker pool started", "workers", size, "queue_limit", p.limit)
	return p, nil
}

// Submit queues fn for execution and returns immediately.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.limit > 0 && p.waiting.Load() >= int64(p.limit) {
		return ErrQueueFull
	}
	p.queue = append(p.queue, fn)
	p.waiting.Add(1)
	p.cond.Signal()
	return nil
}

// feed hands queued work to ants one item at a time, which keeps start order
// equal to submission order.
func (p *Pool) feed() {
	defer close(p.fed)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.inFlight.Add(1)
		err := p.workers.Submit(func() {
			defer p.inFlight.Done()
			p.waiting.Add(-1)
			p.running.Add(1)
			defer p.running.Add(-1)
			fn()
		})
		if err != nil {
			p.inFlight.Done()
			p.waiting.Add(-1)
			p.logger.Error("worker pool dropped task", "error", err)
		}
	}
}

type Stats struct {
	Workers int `json:"workers"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers: p.workers.Cap(),
		Queued:  int(p.waiting.Load()),
		Running: int(p.running.Load()),
	}
}

// Shutdown stops intake, lets queued and running work finish, and releases
// the workers. It returns ctx.Err() if ctx ends first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-p.fed
		p.inFlight.Wait()
		close(done)
	}()

	defer p.workers.Release()
	select {
	case <-done:
		p.logger.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown interrupted", "queued", p.waiting.Load(), "running", p.running.Load())
		return ctx.Err()
	}
}
