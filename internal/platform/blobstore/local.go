package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/store"
)

// LocalStore keeps blobs as files under a root directory.
type LocalStore struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

var _ store.BlobStore = (*LocalStore)(nil)

// NewLocalStore creates root if needed and returns a store rooted there.
func NewLocalStore(root string, log *slog.Logger) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("local blob store requires a directory")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory %s: %w", root, err)
	}
	return &LocalStore{
		root:   root,
		logger: log.With(slog.String("component", "local_blob_store")),
		now:    time.Now,
	}, nil
}

// Locate returns the filesystem path for key.
func (s *LocalStore) Locate(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Save writes data under a fresh key. O_EXCL makes the claim on a key atomic.
func (s *LocalStore) Save(ctx context.Context, data []byte, suggestedName string) (string, string, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	now := s.now()

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		key := store.NewBlobKey(now, suggestedName, attempt)
		p := s.Locate(key)

		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("create blob %s: %w", key, err)
		}

		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(p)
			return "", "", fmt.Errorf("write blob %s: %w", key, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(p)
			return "", "", fmt.Errorf("close blob %s: %w", key, err)
		}

		log.Debug("blob saved", slog.String("key", key), slog.Int("size", len(data)))
		return p, key, nil
	}
	return "", "", ErrKeySpaceExhausted
}

// Put writes data under key, replacing any existing file atomically.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := store.ValidateKey(key); err != nil {
		return "", err
	}
	p := s.Locate(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename %s: %w", key, err)
	}
	return p, nil
}

// Exists reports whether a regular file is stored under key.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := store.ValidateKey(key); err != nil {
		return false, err
	}
	info, err := os.Stat(s.Locate(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes the file stored under key.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	err := os.Remove(s.Locate(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Open returns the file stored under key.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Locate(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}
