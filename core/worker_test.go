package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"argus/util/goroutine"
	"go.uber.org/zap/zaptest"
)

func TestWorkerPool_StartStop(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 2, 10, "test", logger)

	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}

	stats := wp.Stats()
	if !stats.Running {
		t.Error("Worker pool should be running")
	}
	if stats.Workers != 2 {
		t.Errorf("Expected 2 workers, got %d", stats.Workers)
	}

	wp.Stop()
	wp.Stop()

	if wp.Stats().Running {
		t.Error("Worker pool should not be running after stop")
	}
	if err := wp.Start(); !errors.Is(err, ErrWorkerPoolNotRunning) {
		t.Errorf("Expected restart of a stopped pool to fail, got %v", err)
	}
}

func TestWorkerPool_SubmitTasks(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 3, 10, "test", logger)
	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}
	defer wp.Stop()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		if err := wp.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		}); err != nil {
			t.Fatalf("Failed to submit task: %v", err)
		}
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != 5 {
		t.Errorf("Expected counter to be 5, got %d", got)
	}
}

func TestWorkerPool_SubmitBeforeStart(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 1, 1, "test", zaptest.NewLogger(t).Sugar())
	if err := wp.Submit(func() {}); !errors.Is(err, ErrWorkerPoolNotRunning) {
		t.Errorf("Expected ErrWorkerPoolNotRunning, got %v", err)
	}
}

func TestWorkerPool_QueueFull(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 1, "test", logger)
	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}
	defer wp.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := wp.Submit(func() { close(started); <-release }); err != nil {
		t.Fatalf("Failed to submit blocking task: %v", err)
	}
	<-started
	if err := wp.Submit(func() {}); err != nil {
		t.Fatalf("Failed to fill queue: %v", err)
	}
	if err := wp.Submit(func() {}); !errors.Is(err, ErrWorkerPoolQueueFull) {
		t.Errorf("Expected ErrWorkerPoolQueueFull, got %v", err)
	}
	close(release)
}

func TestWorkerPool_SubmitContextHonoursCancellation(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 0, "test", logger)
	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}
	defer wp.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := wp.SubmitContext(context.Background(), func() { close(started); <-release }); err != nil {
		t.Fatalf("Failed to submit blocking task: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := wp.SubmitContext(ctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrWorkerPoolTimeout) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	close(release)
}

func TestWorkerPool_StopReleasesBlockedSubmitter(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 0, "test", logger)
	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	if err := wp.SubmitContext(context.Background(), func() { close(started); <-release }); err != nil {
		t.Fatalf("Failed to submit blocking task: %v", err)
	}
	<-started

	errCh := make(chan error, 1)
	go func() { errCh <- wp.SubmitContext(context.Background(), func() {}) }()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		wp.Stop()
		close(stopped)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrWorkerPoolNotRunning) {
			t.Errorf("Expected ErrWorkerPoolNotRunning, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submitter was not released by Stop")
	}
	close(release)
	<-stopped

	select {
	case <-wp.Done():
	default:
		t.Error("Done should be closed after Stop")
	}
}

func TestWorkerPool_PanicDoesNotKillWorker(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 4, "test", logger)
	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}
	defer wp.Stop()

	done := make(chan struct{})
	_ = wp.Submit(func() { panic("task failure") })
	_ = wp.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestWorkerPool_ParentContextCancellation(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	logger := zaptest.NewLogger(t).Sugar()
	ctx, cancel := context.WithCancel(context.Background())
	wp := NewWorkerPool(ctx, 2, 2, "test", logger)
	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}

	cancel()
	select {
	case <-wp.Done():
	case <-time.After(time.Second):
		t.Fatal("pool did not observe parent cancellation")
	}
	wp.Stop()
}

func TestWorkerPool_InvalidPoolType(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 0, 1, "bad type!", zaptest.NewLogger(t).Sugar())
	if wp.poolType != "default" {
		t.Errorf("Expected default pool type, got %q", wp.poolType)
	}
	if wp.Stats().Workers != 1 {
		t.Errorf("Expected worker count to be clamped to 1")
	}
}
