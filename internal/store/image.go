package store

import (
	"context"

	"github.com/phrazzld/imagelab-api/internal/domain"
)

// ImageStore persists uploaded image records.
type ImageStore interface {
	// CreateImage saves a new image record.
	// Returns validation errors from the domain Image if data is invalid.
	// Returns ErrImageExists if the key is already recorded.
	CreateImage(ctx context.Context, img *domain.Image) error

	// GetImageByKey retrieves an image by its generated key.
	// Returns ErrImageNotFound if the image does not exist.
	GetImageByKey(ctx context.Context, key string) (*domain.Image, error)
}
