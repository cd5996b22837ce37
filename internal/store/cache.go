package store

import (
	"context"

	"github.com/phrazzld/imagelab-api/internal/domain"
)

// JobCache holds finished jobs for fast repeated reads. Only terminal jobs
// are cached since they never change again.
type JobCache interface {
	// GetJob returns the cached job and true on a hit.
	GetJob(ctx context.Context, id string) (*domain.Job, bool, error)

	// PutJob caches a terminal job. Non-terminal jobs are ignored.
	PutJob(ctx context.Context, job *domain.Job) error
}
