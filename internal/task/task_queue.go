package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Common errors returned by the TaskQueue
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// Backpressure selects what Enqueue does when the queue is full.
type Backpressure string

const (
	// BackpressureReject fails Enqueue immediately with ErrQueueFull.
	BackpressureReject Backpressure = "reject"
	// BackpressureBlock waits for space until the caller's context is done.
	BackpressureBlock Backpressure = "block"
)

// TaskQueue implements a bounded task queue that satisfies both
// TaskQueueReader and TaskQueueWriter interfaces.
type TaskQueue struct {
	tasks  chan Task
	policy Backpressure
	logger *slog.Logger

	// mu guards closed; senders hold the read lock so the channel is never
	// closed under them.
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewTaskQueue creates a new task queue with the specified buffer size.
// Sizes below 1 are raised to 1 and unknown policies fall back to reject.
func NewTaskQueue(size int, policy Backpressure, logger *slog.Logger) *TaskQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if size < 1 {
		logger.Warn("invalid queue size specified, using default",
			"specified_size", size,
			"default_size", 1)
		size = 1
	}
	if policy != BackpressureBlock {
		policy = BackpressureReject
	}
	return &TaskQueue{
		tasks:  make(chan Task, size),
		policy: policy,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Enqueue adds a task to the queue for processing.
func (q *TaskQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	if q.policy == BackpressureReject {
		select {
		case q.tasks <- task:
			q.logEnqueued(task)
			return nil
		default:
			return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.tasks))
		}
	}

	select {
	case q.tasks <- task:
		q.logEnqueued(task)
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: gave up waiting for space: %w", ErrQueueFull, ctx.Err())
	}
}

func (q *TaskQueue) logEnqueued(task Task) {
	q.logger.Debug("task enqueued",
		"task_id", task.ID(),
		"task_type", task.Type(),
		"queue_len", len(q.tasks),
		"queue_cap", cap(q.tasks))
}

// Close closes the task queue, preventing further task submission.
// Blocked Enqueue calls return ErrQueueClosed. Tasks already queued stay
// readable until drained.
func (q *TaskQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.tasks)
		q.mu.Unlock()
		q.logger.Info("task queue closed")
	})
}

// GetChannel returns a read-only channel for consuming tasks
func (q *TaskQueue) GetChannel() <-chan Task {
	return q.tasks
}

// Len reports how many tasks are waiting.
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}
