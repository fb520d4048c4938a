package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks worker pool operational metrics.
type PoolMetrics struct {
	Active     int64 `json:"active"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Panics     int64 `json:"panics"`
	Duplicates int64 `json:"duplicates"`
}

var (
	// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
	ErrPoolShutdown = errors.New("worker pool is shut down")
	// ErrInFlight is returned when work with the same key is already running.
	ErrInFlight = errors.New("work with this key is already in flight")
)

// WorkerPool runs executions on a bounded number of goroutines. Work is
// keyed, usually by execution id, and at most one job per key runs at once.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	logger  *slog.Logger

	mu sync.Mutex
	// inflight maps a running key to a channel closed when it is released.
	inflight map[string]chan struct{}
	done     chan struct{}
	closed   bool
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		sem:      make(chan struct{}, size),
		logger:   logger,
		inflight: make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}
}

// Submit runs fn on the pool. It blocks while the pool is at capacity and
// respects ctx while waiting. A non-empty key already in flight yields
// ErrInFlight without running fn.
func (p *WorkerPool) Submit(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if _, err := p.claim(key); err != nil {
		if errors.Is(err, ErrInFlight) {
			atomic.AddInt64(&p.metrics.Duplicates, 1)
		}
		return err
	}
	return p.start(ctx, key, fn)
}

// SubmitAfter is Submit for follow-up work: when key is in flight it waits
// for that job to finish and then runs fn, instead of failing.
func (p *WorkerPool) SubmitAfter(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	for {
		busy, err := p.claim(key)
		if err == nil {
			return p.start(ctx, key, fn)
		}
		if !errors.Is(err, ErrInFlight) {
			return err
		}
		select {
		case <-busy:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return ErrPoolShutdown
		}
	}
}

func (p *WorkerPool) start(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.release(key)
		return ctx.Err()
	case <-p.done:
		p.release(key)
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		p.release(key)
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				p.logger.ErrorContext(ctx, "worker panic",
					slog.String("key", key),
					slog.String("panic", fmt.Sprint(r)),
					slog.String("stack", string(debug.Stack())),
				)
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.release(key)
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
			return
		}
		atomic.AddInt64(&p.metrics.Completed, 1)
	}()

	return nil
}

// claim marks key in flight. When it already is, the returned channel is
// closed once the running job releases it.
func (p *WorkerPool) claim(key string) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolShutdown
	}
	if key == "" {
		return nil, nil
	}
	if busy, ok := p.inflight[key]; ok {
		return busy, ErrInFlight
	}
	p.inflight[key] = make(chan struct{})
	return nil, nil
}

func (p *WorkerPool) release(key string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	if busy, ok := p.inflight[key]; ok {
		close(busy)
		delete(p.inflight, key)
	}
	p.mu.Unlock()
}

// InFlight reports whether key is currently claimed.
func (p *WorkerPool) InFlight(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[key]
	return ok
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting work and waits for running work to finish.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.Wait()
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:     atomic.LoadInt64(&p.metrics.Active),
		Completed:  atomic.LoadInt64(&p.metrics.Completed),
		Failed:     atomic.LoadInt64(&p.metrics.Failed),
		Panics:     atomic.LoadInt64(&p.metrics.Panics),
		Duplicates: atomic.LoadInt64(&p.metrics.Duplicates),
	}
}
