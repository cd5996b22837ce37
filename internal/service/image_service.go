package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/pixel"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/store"
)

// defaultUploadName stands in for a missing client filename.
const defaultUploadName = "upload"

// UploadLimits bounds what Upload accepts. Zero values disable a limit.
type UploadLimits struct {
	// MaxBytes bounds the encoded size.
	MaxBytes int64
	// MaxPixels bounds the declared width times height, checked from the
	// image header before any pixels are decoded.
	MaxPixels int64
}

// ImageService ingests uploaded images.
type ImageService struct {
	images store.ImageStore
	blobs  store.BlobStore
	limits UploadLimits
	logger *slog.Logger
}

// NewImageService creates an ImageService.
func NewImageService(
	images store.ImageStore,
	blobs store.BlobStore,
	limits UploadLimits,
	log *slog.Logger,
) *ImageService {
	if images == nil || blobs == nil {
		panic("image service requires an image store and a blob store")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ImageService{
		images: images,
		blobs:  blobs,
		limits: limits,
		logger: log.With(slog.String("component", "image_service")),
	}
}

// Upload validates data as an image, stores the bytes and records the image.
// Nothing is kept when validation or recording fails.
func (s *ImageService) Upload(ctx context.Context, originalName string, data []byte) (*domain.Image, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	if s.limits.MaxBytes > 0 && int64(len(data)) > s.limits.MaxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidUpload, s.limits.MaxBytes)
	}
	if originalName == "" {
		originalName = defaultUploadName
	}

	if _, err := pixel.CheckDimensions(data, s.limits.MaxPixels); err != nil {
		log.Debug("rejected upload",
			slog.String("original_name", originalName),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}
	buf, err := pixel.DecodeBytes(data)
	if err != nil {
		log.Debug("rejected upload",
			slog.String("original_name", originalName),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}

	storagePath, key, err := s.blobs.Save(ctx, data, originalName)
	if err != nil {
		return nil, NewServiceError("upload", "failed to store image bytes", err)
	}

	img, err := domain.NewImage(key, originalName, storagePath, int64(len(data)), buf.Width, buf.Height)
	if err == nil {
		err = s.images.CreateImage(ctx, img)
	}
	if err != nil {
		s.discardBlob(ctx, key)
		return nil, NewServiceError("upload", "failed to record image", err)
	}

	log.Info("image uploaded",
		slog.String("key", img.Key),
		slog.Int64("size", img.Size),
		slog.String("dimensions", img.Dimensions()))
	return img, nil
}

// discardBlob removes bytes saved for an upload that could not be recorded.
func (s *ImageService) discardBlob(ctx context.Context, key string) {
	// The caller's request may already be gone.
	ctx = context.WithoutCancel(ctx)
	if err := s.blobs.Delete(ctx, key); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Warn("failed to remove unrecorded upload",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

// GetImage returns the image stored under key.
// Returns store.ErrImageNotFound if there is none.
func (s *ImageService) GetImage(ctx context.Context, key string) (*domain.Image, error) {
	img, err := s.images.GetImageByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", key, err)
	}
	return img, nil
}
