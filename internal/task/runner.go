package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// Backpressure selects the queue's behavior when full
	Backpressure Backpressure

	// ExecutionTimeout bounds each task. Zero means no deadline.
	ExecutionTimeout time.Duration
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:  2,
		QueueSize:    100,
		Backpressure: BackpressureReject,
	}
}

// RecoveryFunc runs once on Start, before any worker picks up a task.
type RecoveryFunc func(ctx context.Context) error

// TaskRunner manages background task processing
type TaskRunner struct {
	queue    *TaskQueue
	pool     *WorkerPool
	recovery RecoveryFunc
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewTaskRunner creates a new TaskRunner. recovery may be nil.
func NewTaskRunner(
	config TaskRunnerConfig,
	handler ResultHandler,
	recovery RecoveryFunc,
	logger *slog.Logger,
) *TaskRunner {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task_runner")

	queue := NewTaskQueue(config.QueueSize, config.Backpressure, logger)
	pool := NewWorkerPool(queue, WorkerPoolConfig{
		WorkerCount:      config.WorkerCount,
		ExecutionTimeout: config.ExecutionTimeout,
	}, handler, logger)

	return &TaskRunner{
		queue:    queue,
		pool:     pool,
		recovery: recovery,
		logger:   logger,
	}
}

// Submit adds a task to the queue. Tasks submitted before Start wait in
// the queue until workers are running.
func (r *TaskRunner) Submit(ctx context.Context, task Task) error {
	return r.queue.Enqueue(ctx, task)
}

// Start runs the recovery hook and then starts the workers.
func (r *TaskRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrQueueClosed
	}
	if r.started {
		return nil
	}

	if r.recovery != nil {
		if err := r.recovery(ctx); err != nil {
			return fmt.Errorf("failed to recover tasks: %w", err)
		}
	}

	r.pool.Start()
	r.started = true
	return nil
}

// Stop closes the queue, cancels running tasks and waits until every
// dequeued task has been handed to the result handler.
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	r.queue.Close()
	if !started {
		// Nothing will drain the queue; hand the leftovers to the handler.
		r.pool.cancel()
		for task := range r.queue.GetChannel() {
			r.pool.processTask(task, -1)
		}
		return
	}
	r.pool.Stop()
}

// QueueLen reports how many tasks are waiting for a worker.
func (r *TaskRunner) QueueLen() int {
	return r.queue.Len()
}
