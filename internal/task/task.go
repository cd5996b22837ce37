package task

import (
	"context"
	"errors"

	"github.com/phrazzld/imagelab-api/internal/analysis"
)

// Errors handed to the ResultHandler when a task does not produce a result.
var (
	ErrTaskPanicked = errors.New("task panicked")
	ErrTaskTimeout  = errors.New("task exceeded execution timeout")
	ErrShuttingDown = errors.New("task dropped: service shutting down")
)

// Task represents a unit of background work to be processed.
type Task interface {
	// ID returns the task's unique identifier
	ID() string

	// Type returns the task type identifier
	Type() string

	// Execute runs the task logic and returns its result.
	Execute(ctx context.Context) (analysis.Result, error)
}

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume tasks without the ability to enqueue.
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming tasks
	GetChannel() <-chan Task
}

// TaskQueueWriter provides write access to the task queue
// allowing services to enqueue tasks for processing.
type TaskQueueWriter interface {
	// Enqueue adds a task to the queue for processing.
	// Returns ErrQueueFull or ErrQueueClosed when the task is not accepted.
	Enqueue(ctx context.Context, task Task) error

	// Close closes the task queue, preventing further task submission
	Close()
}

// ResultHandler receives the outcome of every dequeued task exactly once.
// Either result is non-nil or err is.
type ResultHandler func(ctx context.Context, task Task, result analysis.Result, err error)
