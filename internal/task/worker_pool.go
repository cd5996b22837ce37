package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/phrazzld/imagelab-api/internal/analysis"
)

// WorkerPool manages a pool of worker goroutines that process tasks
// from a task queue. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	taskQueue   TaskQueueReader
	workerCount int
	timeout     time.Duration
	handler     ResultHandler

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	logger    *slog.Logger
	startOnce sync.Once
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start.
	// If zero or negative, defaults to 1.
	WorkerCount int

	// ExecutionTimeout bounds each task. Zero means no deadline.
	ExecutionTimeout time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration.
// handler receives the outcome of every task the pool dequeues.
func NewWorkerPool(
	taskQueue TaskQueueReader,
	config WorkerPoolConfig,
	handler ResultHandler,
	logger *slog.Logger,
) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	timeout := config.ExecutionTimeout
	if timeout < 0 {
		timeout = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		taskQueue:   taskQueue,
		workerCount: workerCount,
		timeout:     timeout,
		handler:     handler,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool", "worker_count", p.workerCount)
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop cancels running tasks and waits for the workers to exit. Workers exit
// once the queue is closed and drained, so close the queue before or while
// calling Stop.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("starting worker", "worker_id", id)

	for task := range p.taskQueue.GetChannel() {
		p.processTask(task, id)
	}

	p.logger.Debug("task channel closed, stopping worker", "worker_id", id)
}

// processTask executes one task and reports its outcome. The handler runs
// on a context that survives shutdown so the outcome is always recorded.
func (p *WorkerPool) processTask(task Task, workerID int) {
	logger := p.logger.With(
		"task_id", task.ID(),
		"task_type", task.Type(),
		"worker_id", workerID,
	)
	handlerCtx := context.WithoutCancel(p.ctx)

	if p.ctx.Err() != nil {
		logger.Warn("dropping queued task during shutdown")
		p.handle(handlerCtx, task, nil, ErrShuttingDown)
		return
	}

	logger.Info("processing task")
	start := time.Now()

	result, err := p.execute(task, logger)
	if err != nil {
		logger.Error("task execution failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
	} else {
		logger.Info("task completed successfully",
			"duration_ms", time.Since(start).Milliseconds())
	}

	p.handle(handlerCtx, task, result, err)
}

type outcome struct {
	result analysis.Result
	err    error
}

// execute runs the task with panic recovery and the optional deadline.
// On timeout the task goroutine is abandoned; its late result is discarded.
func (p *WorkerPool) execute(task Task, logger *slog.Logger) (analysis.Result, error) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task panicked",
					"panic", r,
					"stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("%w: %v", ErrTaskPanicked, r)}
			}
		}()
		result, err := task.Execute(ctx)
		if err == nil && result == nil {
			result = analysis.Result{}
		}
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		if p.timeout > 0 && ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w (%s)", ErrTaskTimeout, p.timeout)
		}
		// Shutdown: give the task a chance to observe cancellation.
		o := <-done
		return o.result, o.err
	}
}

func (p *WorkerPool) handle(ctx context.Context, task Task, result analysis.Result, err error) {
	if p.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("result handler panicked",
				"task_id", task.ID(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	p.handler(ctx, task, result, err)
}
