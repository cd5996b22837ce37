package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/store"
)

// PostgresImageStore implements the store.ImageStore interface
// using a PostgreSQL database as the storage backend.
type PostgresImageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresImageStore creates a new PostgreSQL implementation of the ImageStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresImageStore(db store.DBTX, logger *slog.Logger) *PostgresImageStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresImageStore{
		db:     db,
		logger: logger.With(slog.String("component", "image_store")),
	}
}

// Ensure PostgresImageStore implements store.ImageStore interface
var _ store.ImageStore = (*PostgresImageStore)(nil)

// CreateImage implements store.ImageStore.CreateImage.
func (s *PostgresImageStore) CreateImage(ctx context.Context, img *domain.Image) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := img.Validate(); err != nil {
		log.Warn("image validation failed during create",
			slog.String("error", err.Error()),
			slog.String("image_key", img.Key))
		return err
	}

	query := `
		INSERT INTO images (id, key, original_name, storage_path, size_bytes, width, height, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		img.ID,
		img.Key,
		img.OriginalName,
		img.StoragePath,
		img.Size,
		img.Width,
		img.Height,
		img.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("image key already recorded", slog.String("image_key", img.Key))
			return MapUniqueViolation(err, store.ErrImageExists)
		}
		log.Error("failed to create image",
			slog.String("error", err.Error()),
			slog.String("image_key", img.Key))
		return fmt.Errorf("failed to create image: %w", MapError(err))
	}

	log.Info("image recorded",
		slog.String("image_key", img.Key),
		slog.String("dimensions", img.Dimensions()),
		slog.Int64("size", img.Size))
	return nil
}

// GetImageByKey implements store.ImageStore.GetImageByKey.
func (s *PostgresImageStore) GetImageByKey(ctx context.Context, key string) (*domain.Image, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, key, original_name, storage_path, size_bytes, width, height, created_at
		FROM images
		WHERE key = $1
	`

	var img domain.Image
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&img.ID,
		&img.Key,
		&img.OriginalName,
		&img.StoragePath,
		&img.Size,
		&img.Width,
		&img.Height,
		&img.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("image not found", slog.String("image_key", key))
			return nil, store.ErrImageNotFound
		}
		log.Error("failed to get image by key",
			slog.String("error", err.Error()),
			slog.String("image_key", key))
		return nil, fmt.Errorf("failed to get image: %w", MapError(err))
	}

	return &img, nil
}
