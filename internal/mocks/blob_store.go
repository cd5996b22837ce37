package mocks

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/phrazzld/imagelab-api/internal/store"
)

// MockBlobStore implements store.BlobStore in memory for testing
type MockBlobStore struct {
	SaveFn   func(ctx context.Context, data []byte, suggestedName string) (string, string, error)
	PutFn    func(ctx context.Context, key string, data []byte) (string, error)
	ExistsFn func(ctx context.Context, key string) (bool, error)
	OpenFn   func(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteFn func(ctx context.Context, key string) error

	// Now stamps generated keys. Defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	Blobs map[string][]byte
}

var _ store.BlobStore = (*MockBlobStore)(nil)

// NewMockBlobStore creates a new mock store with initialized defaults
func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{
		Now:   time.Now,
		Blobs: make(map[string][]byte),
	}
}

// Save implements the BlobStore interface
func (m *MockBlobStore) Save(ctx context.Context, data []byte, suggestedName string) (string, string, error) {
	if m.SaveFn != nil {
		return m.SaveFn(ctx, data, suggestedName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	for attempt := 0; ; attempt++ {
		key := store.NewBlobKey(now, suggestedName, attempt)
		if _, taken := m.Blobs[key]; taken {
			continue
		}
		m.Blobs[key] = slices.Clone(data)
		return m.Locate(key), key, nil
	}
}

// Put implements the BlobStore interface
func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if m.PutFn != nil {
		return m.PutFn(ctx, key, data)
	}
	if err := store.ValidateKey(key); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Blobs[key] = slices.Clone(data)
	return m.Locate(key), nil
}

// Exists implements the BlobStore interface
func (m *MockBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.ExistsFn != nil {
		return m.ExistsFn(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Blobs[key]
	return ok, nil
}

// Open implements the BlobStore interface
func (m *MockBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if m.OpenFn != nil {
		return m.OpenFn(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Blobs[key]
	if !ok {
		return nil, store.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(slices.Clone(data))), nil
}

// Delete implements the BlobStore interface
func (m *MockBlobStore) Delete(ctx context.Context, key string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Blobs, key)
	return nil
}

// Locate implements the BlobStore interface
func (m *MockBlobStore) Locate(key string) string {
	return "mem://" + key
}

// Get returns a copy of the bytes stored under key.
func (m *MockBlobStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Blobs[key]
	return slices.Clone(data), ok
}
