package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/store"
)

// MockImageStore implements store.ImageStore for testing
type MockImageStore struct {
	CreateImageFn   func(ctx context.Context, img *domain.Image) error
	GetImageByKeyFn func(ctx context.Context, key string) (*domain.Image, error)

	mu     sync.Mutex
	Images map[string]*domain.Image
}

var _ store.ImageStore = (*MockImageStore)(nil)

// NewMockImageStore creates a new mock store with initialized defaults
func NewMockImageStore() *MockImageStore {
	return &MockImageStore{Images: make(map[string]*domain.Image)}
}

// CreateImage implements the ImageStore interface
func (m *MockImageStore) CreateImage(ctx context.Context, img *domain.Image) error {
	if m.CreateImageFn != nil {
		return m.CreateImageFn(ctx, img)
	}
	if err := img.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.Images[img.Key]; exists {
		return store.ErrImageExists
	}
	stored := *img
	m.Images[img.Key] = &stored
	return nil
}

// GetImageByKey implements the ImageStore interface
func (m *MockImageStore) GetImageByKey(ctx context.Context, key string) (*domain.Image, error) {
	if m.GetImageByKeyFn != nil {
		return m.GetImageByKeyFn(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	img, exists := m.Images[key]
	if !exists {
		return nil, store.ErrImageNotFound
	}
	found := *img
	return &found, nil
}
