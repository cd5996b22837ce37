package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagelab-api/internal/domain"
)

// Event types emitted for analysis jobs.
const (
	JobCompleted = "job.completed"
	JobFailed    = "job.failed"
)

// JobEvent reports that a job reached a terminal state.
type JobEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is JobCompleted or JobFailed
	Type string `json:"type"`

	// Job is a snapshot of the job after the terminal write
	Job *domain.Job `json:"job"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewJobEvent creates the event matching the job's terminal status.
func NewJobEvent(job *domain.Job) *JobEvent {
	eventType := JobFailed
	if job.Status == domain.JobStatusCompleted {
		eventType = JobCompleted
	}
	return &JobEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Job:       job,
		CreatedAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *JobEvent) error

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *JobEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *JobEvent) error
}
