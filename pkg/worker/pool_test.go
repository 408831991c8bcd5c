package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Test data structure for worker pool tests
type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func TestNewPool(t *testing.T) {
	processor := func(_ context.Context, _ testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	if pool.workers != 5 {
		t.Errorf("Expected 5 workers, got %d", pool.workers)
	}
	if pool.queueSize != 100 {
		t.Errorf("Expected queue size 100, got %d", pool.queueSize)
	}

	pool = NewPool(0, 100, processor)
	if pool.workers != 10 {
		t.Errorf("Expected default 10 workers, got %d", pool.workers)
	}

	pool = NewPool(5, 0, processor)
	if pool.queueSize != 1000 {
		t.Errorf("Expected default queue size 1000, got %d", pool.queueSize)
	}
}

func TestNewPool_NilProcessor(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for nil processor")
		}
	}()
	NewPool[testWork](5, 100, nil)
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error { return nil })
	if err := pool.Submit(testWork{}); !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("Expected ErrPoolNotStarted, got %v", err)
	}
}

func TestPool_StartDrain(t *testing.T) {
	var processedCount int64
	processor := func(_ context.Context, _ testWork) error {
		atomic.AddInt64(&processedCount, 1)
		return nil
	}

	pool := NewPool(2, 10, processor)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	if err := pool.Start(ctx); !errors.Is(err, ErrPoolAlreadyStarted) {
		t.Error("Expected error when starting pool twice")
	}

	for i := 0; i < 5; i++ {
		if err := pool.Submit(testWork{id: i}); err != nil {
			t.Errorf("Failed to submit work %d: %v", i, err)
		}
	}

	pool.Drain()

	if processed := atomic.LoadInt64(&processedCount); processed != 5 {
		t.Errorf("Expected 5 processed items, got %d", processed)
	}

	if err := pool.Submit(testWork{id: 999}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Expected ErrPoolStopped after drain, got %v", err)
	}

	// Second drain is a no-op
	pool.Drain()
}

func TestPool_DrainIsBarrier(t *testing.T) {
	var finished int64
	processor := func(_ context.Context, work testWork) error {
		time.Sleep(work.delay)
		atomic.AddInt64(&finished, 1)
		return nil
	}

	pool := NewPool(3, 20, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	for i := 0; i < 20; i++ {
		delay := time.Duration(i%4) * 10 * time.Millisecond
		if err := pool.Submit(testWork{id: i, delay: delay}); err != nil {
			t.Fatalf("Failed to submit work %d: %v", i, err)
		}
	}

	pool.Drain()

	if got := atomic.LoadInt64(&finished); got != 20 {
		t.Errorf("Drain returned before all work finished: %d/20", got)
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	const workers = 4
	var active, peak int64
	var mu sync.Mutex

	processor := func(_ context.Context, _ testWork) error {
		n := atomic.AddInt64(&active, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return nil
	}

	pool := NewPool(workers, 50, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := pool.Submit(testWork{id: i}); err != nil {
			t.Fatalf("Failed to submit work %d: %v", i, err)
		}
	}
	pool.Drain()

	if peak > workers {
		t.Errorf("Observed %d concurrent items, bound is %d", peak, workers)
	}
	if stats := pool.Stats(); stats.PeakActive > workers {
		t.Errorf("Stats peak %d exceeds bound %d", stats.PeakActive, workers)
	}
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	processor := func(_ context.Context, _ testWork) error {
		<-block
		return nil
	}

	pool := NewPool(1, 2, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	dropped := 0
	for i := 0; i < 6; i++ {
		if err := pool.Submit(testWork{id: i}); errors.Is(err, ErrQueueFull) {
			dropped++
		}
		// let the single worker pick up the first item
		time.Sleep(5 * time.Millisecond)
	}
	close(block)
	pool.Drain()

	if dropped == 0 {
		t.Error("Expected some submissions to be dropped")
	}
	if stats := pool.Stats(); stats.Dropped != int64(dropped) {
		t.Errorf("Expected %d dropped in stats, got %d", dropped, stats.Dropped)
	}
}

func TestPool_FailureCounting(t *testing.T) {
	processor := func(_ context.Context, work testWork) error {
		if work.fail {
			return errors.New("remote property read failed")
		}
		return nil
	}

	pool := NewPool(2, 10, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	for i := 0; i < 10; i++ {
		_ = pool.Submit(testWork{id: i, fail: i%3 == 0})
	}
	pool.Drain()

	stats := pool.Stats()
	if stats.Processed != 10 {
		t.Errorf("Expected 10 processed, got %d", stats.Processed)
	}
	if stats.Failed != 4 {
		t.Errorf("Expected 4 failed, got %d", stats.Failed)
	}
}

type countingObserver struct {
	started  int64
	finished int64
	failed   int64
}

func (o *countingObserver) ItemStarted() { atomic.AddInt64(&o.started, 1) }

func (o *countingObserver) ItemFinished(_ time.Duration, err error) {
	atomic.AddInt64(&o.finished, 1)
	if err != nil {
		atomic.AddInt64(&o.failed, 1)
	}
}

func TestPool_Observer(t *testing.T) {
	obs := &countingObserver{}
	processor := func(_ context.Context, work testWork) error {
		if work.fail {
			return errors.New("boom")
		}
		return nil
	}

	pool := NewPool(2, 5, processor, WithObserver[testWork](obs))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	for i := 0; i < 5; i++ {
		_ = pool.Submit(testWork{id: i, fail: i == 0})
	}
	pool.Drain()

	if obs.started != 5 || obs.finished != 5 || obs.failed != 1 {
		t.Errorf("Unexpected observer counts: %+v", obs)
	}
}

func TestPool_ContextCancelReleasesWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	processor := func(ctx context.Context, _ testWork) error {
		<-ctx.Done()
		return ctx.Err()
	}

	pool := NewPool(2, 10, processor)
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	for i := 0; i < 10; i++ {
		_ = pool.Submit(testWork{id: i})
	}

	time.AfterFunc(20*time.Millisecond, cancel)

	if err := pool.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop should return once context is cancelled: %v", err)
	}
}

func TestPool_QueuedWorkNeverStartsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Int64
	started := make(chan struct{}, 1)
	processor := func(ctx context.Context, _ testWork) error {
		ran.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}

	pool := NewPool(1, 20, processor)
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := pool.Submit(testWork{id: i}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	<-started
	cancel()
	pool.Drain()

	if got := ran.Load(); got != 1 {
		t.Errorf("Expected only the running item to have started, got %d", got)
	}
	if stats := pool.Stats(); stats.Processed != 1 {
		t.Errorf("Expected 1 processed, got %d", stats.Processed)
	}
}
