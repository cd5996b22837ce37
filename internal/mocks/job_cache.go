package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/store"
)

// MockJobCache implements store.JobCache for testing
type MockJobCache struct {
	GetJobFn func(ctx context.Context, id string) (*domain.Job, bool, error)
	PutJobFn func(ctx context.Context, job *domain.Job) error

	mu   sync.Mutex
	Jobs map[string]*domain.Job
	Hits int
}

var _ store.JobCache = (*MockJobCache)(nil)

// NewMockJobCache creates an empty cache
func NewMockJobCache() *MockJobCache {
	return &MockJobCache{Jobs: make(map[string]*domain.Job)}
}

// GetJob implements the JobCache interface
func (m *MockJobCache) GetJob(ctx context.Context, id string) (*domain.Job, bool, error) {
	if m.GetJobFn != nil {
		return m.GetJobFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok {
		return nil, false, nil
	}
	m.Hits++
	return cloneJob(job), true, nil
}

// PutJob implements the JobCache interface
func (m *MockJobCache) PutJob(ctx context.Context, job *domain.Job) error {
	if m.PutJobFn != nil {
		return m.PutJobFn(ctx, job)
	}
	if !job.IsTerminal() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs[job.ID] = cloneJob(job)
	return nil
}

// Cached reports whether id is in the cache.
func (m *MockJobCache) Cached(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Jobs[id]
	return ok
}
