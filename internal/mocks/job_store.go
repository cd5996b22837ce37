package mocks

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/store"
)

// MockJobStore implements store.JobStore for testing. The default
// implementation enforces the same rules as the Postgres store: terminal
// writes only apply to processing jobs.
type MockJobStore struct {
	CreateJobFn           func(ctx context.Context, job *domain.Job) error
	GetJobFn              func(ctx context.Context, id string) (*domain.Job, error)
	ListJobsFn            func(ctx context.Context, limit int) ([]*domain.Job, error)
	UpdateJobTerminalFn   func(ctx context.Context, update store.TerminalUpdate) error
	FailInterruptedJobsFn func(ctx context.Context, owner domain.JobOwner, message string) ([]string, error)

	mu   sync.Mutex
	Jobs map[string]*domain.Job
	// TerminalWrites counts successful UpdateJobTerminal calls per job id.
	TerminalWrites map[string]int
}

var _ store.JobStore = (*MockJobStore)(nil)

// NewMockJobStore creates a new mock store with initialized defaults
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		Jobs:           make(map[string]*domain.Job),
		TerminalWrites: make(map[string]int),
	}
}

func cloneJob(job *domain.Job) *domain.Job {
	c := *job
	if job.CompletedAt != nil {
		at := *job.CompletedAt
		c.CompletedAt = &at
	}
	c.Result = slices.Clone(job.Result)
	return &c
}

// Seed stores job as is, bypassing validation. Useful for restart scenarios.
func (m *MockJobStore) Seed(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs[job.ID] = cloneJob(job)
}

// Writes returns how many terminal writes were applied to id.
func (m *MockJobStore) Writes(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TerminalWrites[id]
}

// CreateJob implements the JobStore interface
func (m *MockJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if m.CreateJobFn != nil {
		return m.CreateJobFn(ctx, job)
	}
	if err := job.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.Jobs[job.ID]; exists {
		return store.ErrJobExists
	}
	m.Jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob implements the JobStore interface
func (m *MockJobStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	if m.GetJobFn != nil {
		return m.GetJobFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, exists := m.Jobs[id]
	if !exists {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ListJobs implements the JobStore interface
func (m *MockJobStore) ListJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	if m.ListJobsFn != nil {
		return m.ListJobsFn(ctx, limit)
	}
	if limit <= 0 {
		return []*domain.Job{}, nil
	}

	m.mu.Lock()
	jobs := make([]*domain.Job, 0, len(m.Jobs))
	for _, job := range m.Jobs {
		jobs = append(jobs, cloneJob(job))
	}
	m.mu.Unlock()

	slices.SortFunc(jobs, func(a, b *domain.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// UpdateJobTerminal implements the JobStore interface
func (m *MockJobStore) UpdateJobTerminal(ctx context.Context, update store.TerminalUpdate) error {
	if m.UpdateJobTerminalFn != nil {
		return m.UpdateJobTerminalFn(ctx, update)
	}
	if err := update.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, exists := m.Jobs[update.JobID]
	if !exists {
		return store.ErrJobNotFound
	}
	if job.IsTerminal() {
		return store.ErrJobAlreadyTerminal
	}

	at := update.CompletedAt.UTC()
	job.Status = update.Status
	job.Result = slices.Clone(update.Result)
	job.Error = update.Error
	job.CompletedAt = &at
	m.TerminalWrites[update.JobID]++
	return nil
}

// FailInterruptedJobs implements the JobStore interface
func (m *MockJobStore) FailInterruptedJobs(
	ctx context.Context,
	owner domain.JobOwner,
	message string,
) ([]string, error) {
	if m.FailInterruptedJobsFn != nil {
		return m.FailInterruptedJobsFn(ctx, owner, message)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var ids []string
	for id, job := range m.Jobs {
		if job.Status != domain.JobStatusProcessing ||
			job.Owner.Instance != owner.Instance || job.Owner.Boot == owner.Boot {
			continue
		}
		job.Status = domain.JobStatusFailed
		job.Error = message
		job.CompletedAt = &now
		m.TerminalWrites[id]++
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
