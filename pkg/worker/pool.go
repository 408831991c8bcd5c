// Package worker provides a generic bounded worker pool.
//
// A Pool runs at most Workers processor calls at once. Submitted items beyond
// that wait in a buffered queue; Drain closes the queue and blocks until every
// queued item has been processed, which gives callers scatter-gather barrier
// semantics without sharing any state between pools.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Observer receives per-item notifications from a Pool.
// Implementations must be safe for concurrent use.
type Observer interface {
	// ItemStarted is called right before the processor runs.
	ItemStarted()
	// ItemFinished is called after the processor returns.
	ItemFinished(d time.Duration, err error)
}

// Pool represents a generic worker pool that can process any work type T
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	observer  Observer

	workChan chan T
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	processed int64
	failed    int64
	dropped   int64
	active    int64
	peak      int64
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithObserver attaches an Observer to the pool
func WithObserver[T any](o Observer) Option[T] {
	return func(p *Pool[T]) {
		p.observer = o
	}
}

// NewPool creates a new generic worker pool with optional configuration
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	return pool
}

// Start launches the workers. ctx bounds the lifetime of every worker;
// once it is done, queued items that have not started are abandoned.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Submit queues work without blocking. Returns ErrQueueFull if the queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		return ErrQueueFull
	}
}

// Drain stops accepting work and blocks until every worker has exited.
// Workers exit once the queue is empty or the Start context is done.
func (p *Pool[T]) Drain() {
	if !p.close() {
		return
	}
	p.wg.Wait()
}

// Stop is Drain bounded by timeout.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	if !p.close() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// close marks the pool stopped and closes the queue; it reports whether
// this call performed the transition.
func (p *Pool[T]) close() bool {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return false
	}
	p.stopped = true
	close(p.workChan)
	return true
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
		PeakActive: atomic.LoadInt64(&p.peak),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	PeakActive int64 `json:"peak_active"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			// select picks randomly among ready cases; queued work never starts after ctx is done
			if ctx.Err() != nil {
				return
			}
			p.run(ctx, work)
		}
	}
}

func (p *Pool[T]) run(ctx context.Context, work T) {
	active := atomic.AddInt64(&p.active, 1)
	for {
		peak := atomic.LoadInt64(&p.peak)
		if active <= peak || atomic.CompareAndSwapInt64(&p.peak, peak, active) {
			break
		}
	}
	if p.observer != nil {
		p.observer.ItemStarted()
	}

	start := time.Now()
	err := p.processor(ctx, work)
	duration := time.Since(start)

	atomic.AddInt64(&p.active, -1)
	atomic.AddInt64(&p.processed, 1)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
	}
	if p.observer != nil {
		p.observer.ItemFinished(duration, err)
	}
}
