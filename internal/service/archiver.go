package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phrazzld/imagelab-api/internal/events"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/store"
)

// ResultKey is the blob key a completed job's view is archived under.
func ResultKey(jobID string) string {
	return "results/" + jobID + ".json"
}

// ResultArchiver writes the view of every completed job to the blob store.
// Archive failures never change the job.
type ResultArchiver struct {
	blobs  store.BlobStore
	logger *slog.Logger
}

var _ events.EventHandler = (*ResultArchiver)(nil)

// NewResultArchiver creates an archiver writing to blobs.
func NewResultArchiver(blobs store.BlobStore, log *slog.Logger) *ResultArchiver {
	if log == nil {
		log = slog.Default()
	}
	return &ResultArchiver{
		blobs:  blobs,
		logger: log.With(slog.String("component", "result_archiver")),
	}
}

// HandleEvent implements events.EventHandler.
func (a *ResultArchiver) HandleEvent(ctx context.Context, event *events.JobEvent) error {
	if event.Type != events.JobCompleted || event.Job == nil {
		return nil
	}
	log := logger.FromContextOrDefault(ctx, a.logger)

	data, err := json.MarshalIndent(NewJobView(event.Job), "", "  ")
	if err != nil {
		return fmt.Errorf("encode archived result for %s: %w", event.Job.ID, err)
	}

	path, err := a.blobs.Put(ctx, ResultKey(event.Job.ID), data)
	if err != nil {
		log.Warn("failed to archive result",
			slog.String("job_id", event.Job.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("archive result for %s: %w", event.Job.ID, err)
	}

	log.Debug("result archived", slog.String("job_id", event.Job.ID), slog.String("path", path))
	return nil
}
