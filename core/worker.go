package core

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"argus/metrics"
	"argus/util/goroutine"
	"go.uber.org/zap"
)

var poolTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	workers     int
	queueSize   int
	taskCh      chan func()
	wg          sync.WaitGroup
	logger      *zap.SugaredLogger
	ctx         context.Context
	cancel      context.CancelFunc
	running     bool
	mu          sync.RWMutex
	poolType    string
	stopTimeout time.Duration
}

// NewWorkerPool creates a pool bound to parentCtx. Workers start on Start.
// Cancelling parentCtx stops the workers as Stop does, without waiting.
// poolType labels the pool's metrics and must match ^[a-zA-Z0-9_-]+$.
func NewWorkerPool(parentCtx context.Context, workers int, queueSize int, poolType string, logger *zap.SugaredLogger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if !poolTypePattern.MatchString(poolType) {
		logger.Warnw("Pool name rejected, using default", "pool", poolType)
		poolType = "default"
	}

	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:     workers,
		queueSize:   queueSize,
		taskCh:      make(chan func(), queueSize),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		poolType:    poolType,
		stopTimeout: 30 * time.Second,
	}
}

// Start launches the workers. Calling it on a running pool is a no-op; a
// stopped pool cannot be restarted.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return nil
	}
	if wp.ctx.Err() != nil {
		return ErrWorkerPoolNotRunning
	}

	wp.running = true
	wp.logger.Infow("Rule workers starting",
		"pool", wp.poolType,
		"workers", wp.workers,
		"queue_size", wp.queueSize)
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(float64(wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return nil
}

// Stop cancels the workers and waits up to the stop timeout for them to exit.
// Tasks still queued are discarded. Safe to call more than once.
func (wp *WorkerPool) Stop() {
	// Cancel before locking so submitters blocked in SubmitContext release
	// their read locks.
	wp.cancel()

	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	close(wp.taskCh)
	wp.mu.Unlock()

	wp.logger.Infow("Draining rule workers", "pool", wp.poolType, "workers", wp.workers)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(0)
		wp.logger.Infow("Rule workers stopped", "pool", wp.poolType)
	case <-time.After(wp.stopTimeout):
		wp.logger.Errorw("Workers still busy after stop timeout",
			"pool", wp.poolType,
			"workers", wp.workers,
			"timeout", wp.stopTimeout)
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(-1)
	}
}

// Submit queues task without blocking.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// SubmitContext queues task, blocking while the queue is full until ctx is
// done or the pool stops. The returned error wraps ctx.Err() when ctx ends first.
func (wp *WorkerPool) SubmitContext(ctx context.Context, task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	case <-ctx.Done():
		return errors.Join(ErrWorkerPoolTimeout, ctx.Err())
	case <-wp.ctx.Done():
		return ErrWorkerPoolNotRunning
	}
}

// Done is closed once the pool has been stopped or its parent context ended.
// Tasks still queued at that point will never run.
func (wp *WorkerPool) Done() <-chan struct{} {
	return wp.ctx.Done()
}

// Stats reports the pool's size and how many tasks wait in its queue.
func (wp *WorkerPool) Stats() PoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return PoolStats{
		Name:    wp.poolType,
		Workers: wp.workers,
		Running: wp.running,
		Queued:  len(wp.taskCh),
		Slots:   cap(wp.taskCh),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool", wp.logger)

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debugw("Worker exiting", "pool", wp.poolType, "worker", id)
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			wp.run(id, task)
		}
	}
}

// run executes one task; a panicking task does not take the worker down.
func (wp *WorkerPool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorw("Recovered task panic",
				"pool", wp.poolType,
				"worker", id,
				"panic", r)
		}
	}()
	task()
	metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolType).Inc()
}

// PoolStats is a point-in-time view of a WorkerPool.
type PoolStats struct {
	Name    string `json:"name"`
	Workers int    `json:"workers"`
	Running bool   `json:"running"`
	Queued  int    `json:"queued"`
	Slots   int    `json:"slots"`
}

var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool queue is full")
	ErrWorkerPoolTimeout    = errors.New("gave up waiting for a worker pool slot")
)
