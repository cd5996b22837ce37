package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phrazzld/imagelab-api/internal/domain"
)

// TerminalUpdate is the single write that finishes a job.
type TerminalUpdate struct {
	JobID       string
	Status      domain.JobStatus
	Result      json.RawMessage
	Error       string
	CompletedAt time.Time
}

// JobStore persists analysis jobs.
type JobStore interface {
	// CreateJob saves a new job in the processing state.
	// Returns validation errors from the domain Job if data is invalid.
	// Returns ErrJobExists if the id is already recorded.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job by id.
	// Returns ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// ListJobs returns up to limit jobs, most recently created first.
	ListJobs(ctx context.Context, limit int) ([]*domain.Job, error)

	// UpdateJobTerminal atomically writes status, payload and completion time.
	// The write only applies to a job that is still processing.
	// Returns ErrJobNotFound if the job does not exist and
	// ErrJobAlreadyTerminal if it has already finished.
	UpdateJobTerminal(ctx context.Context, update TerminalUpdate) error

	// FailInterruptedJobs marks as failed with message every processing job
	// accepted by an earlier boot of owner.Instance, returning the affected
	// ids. Jobs of other instances and of owner.Boot itself are left alone.
	FailInterruptedJobs(ctx context.Context, owner domain.JobOwner, message string) ([]string, error)
}

// Validate checks that the update describes a legal terminal transition.
func (u TerminalUpdate) Validate() error {
	switch u.Status {
	case domain.JobStatusCompleted:
		if len(u.Result) == 0 {
			return domain.ErrMissingJobResult
		}
	case domain.JobStatusFailed:
		if u.Error == "" {
			return domain.ErrMissingJobError
		}
	default:
		return domain.ErrInvalidJobStatus
	}
	if u.JobID == "" {
		return domain.ErrEmptyJobID
	}
	return nil
}
