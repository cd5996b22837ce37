package service

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/samber/lo"
)

var emptyResults = json.RawMessage(`{}`)

// JobView is the client-facing representation of a job.
type JobView struct {
	ID           string           `json:"id"`
	ImageKey     string           `json:"image_key"`
	AnalysisType string           `json:"analysis_type"`
	Timestamp    time.Time        `json:"timestamp"`
	CompletedAt  *time.Time       `json:"completed_at"`
	Status       domain.JobStatus `json:"status"`
	Results      json.RawMessage  `json:"results"`
	Error        *string          `json:"error"`
}

// NewJobView converts a job. Results stay an empty object until the job
// completes, and error is null unless it failed.
func NewJobView(job *domain.Job) JobView {
	view := JobView{
		ID:           job.ID,
		ImageKey:     job.ImageKey,
		AnalysisType: job.AnalysisType,
		Timestamp:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
		Status:       job.Status,
		Results:      emptyResults,
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		if len(job.Result) > 0 {
			view.Results = job.Result
		}
	case domain.JobStatusFailed:
		view.Error = lo.ToPtr(job.Error)
	}
	return view
}

// NewJobViews converts jobs preserving order.
func NewJobViews(jobs []*domain.Job) []JobView {
	return lo.Map(jobs, func(job *domain.Job, _ int) JobView {
		return NewJobView(job)
	})
}
