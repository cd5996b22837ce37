package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

// Possible job status values. A job starts processing and ends in exactly one
// of the terminal states.
const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// jobIDPrefix is prepended to every generated job id.
const jobIDPrefix = "analysis_"

// Validation errors for Job.
var (
	ErrEmptyJobID         = errors.New("job ID cannot be empty")
	ErrEmptyJobImageKey   = errors.New("job image key cannot be empty")
	ErrEmptyAnalysisType  = errors.New("analysis type cannot be empty")
	ErrInvalidJobStatus   = errors.New("invalid job status")
	ErrJobAlreadyTerminal = errors.New("job already in a terminal state")
	ErrMissingJobResult   = errors.New("completed job requires a result")
	ErrMissingJobError    = errors.New("failed job requires an error message")
)

// JobOwner names the dispatcher that accepted a job: a replica that keeps
// its Instance across restarts and a Boot that changes on every start.
type JobOwner struct {
	Instance string
	Boot     string
}

// Job is one request to run an analyzer against one stored image.
type Job struct {
	ID           string          `json:"id"`
	ImageID      uuid.UUID       `json:"image_id"`
	ImageKey     string          `json:"image_key"`
	AnalysisType string          `json:"analysis_type"`
	Parameters   map[string]any  `json:"parameters"`
	Status       JobStatus       `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Owner        JobOwner        `json:"-"`
}

// NewJobID returns a job id that sorts by creation time, for example
// analysis_20250314_091502_123456_9f3a07bc.
func NewJobID(now time.Time) string {
	now = now.UTC()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%s_%06d_%s",
		jobIDPrefix, now.Format("20060102_150405"), now.Nanosecond()/1000, suffix)
}

// NewJob creates a job in the processing state for the given image.
func NewJob(imageID uuid.UUID, imageKey, analysisType string, params map[string]any) (*Job, error) {
	now := time.Now().UTC()
	if params == nil {
		params = map[string]any{}
	}

	job := &Job{
		ID:           NewJobID(now),
		ImageID:      imageID,
		ImageKey:     imageKey,
		AnalysisType: analysisType,
		Parameters:   params,
		Status:       JobStatusProcessing,
		CreatedAt:    now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks the job's fields and the status/payload pairing.
func (j *Job) Validate() error {
	if j.ID == "" {
		return ErrEmptyJobID
	}
	if j.ImageKey == "" {
		return ErrEmptyJobImageKey
	}
	if j.AnalysisType == "" {
		return ErrEmptyAnalysisType
	}

	switch j.Status {
	case JobStatusProcessing:
		return nil
	case JobStatusCompleted:
		if len(j.Result) == 0 {
			return ErrMissingJobResult
		}
	case JobStatusFailed:
		if j.Error == "" {
			return ErrMissingJobError
		}
	default:
		return ErrInvalidJobStatus
	}
	return nil
}

// IsTerminal reports whether the job has finished.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Complete moves a processing job to completed with the given result.
func (j *Job) Complete(result json.RawMessage, at time.Time) error {
	if j.IsTerminal() {
		return ErrJobAlreadyTerminal
	}
	if len(result) == 0 {
		return ErrMissingJobResult
	}
	at = at.UTC()
	j.Status = JobStatusCompleted
	j.Result = result
	j.CompletedAt = &at
	return nil
}

// Fail moves a processing job to failed with the given message.
func (j *Job) Fail(message string, at time.Time) error {
	if j.IsTerminal() {
		return ErrJobAlreadyTerminal
	}
	if message == "" {
		return ErrMissingJobError
	}
	at = at.UTC()
	j.Status = JobStatusFailed
	j.Error = message
	j.CompletedAt = &at
	return nil
}

// IsTerminal reports whether s is completed or failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}
