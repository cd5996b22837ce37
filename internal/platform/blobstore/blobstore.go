package blobstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/imagelab-api/internal/config"
	"github.com/phrazzld/imagelab-api/internal/store"
)

// maxKeyAttempts bounds the collision loop when generating upload keys.
const maxKeyAttempts = 100

// ErrKeySpaceExhausted is returned when every candidate key for an upload is taken.
var ErrKeySpaceExhausted = fmt.Errorf("%w: no free key for upload", store.ErrDuplicate)

// New builds the blob store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.BlobStore, error) {
	switch cfg.Backend {
	case config.StorageLocal:
		return NewLocalStore(cfg.LocalDir, logger)
	case config.StorageS3:
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, logger)
	case config.StorageAzure:
		return NewAzureStore(cfg.AzureConnectionString, cfg.AzureContainer, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
