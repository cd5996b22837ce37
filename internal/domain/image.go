package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Validation errors for Image.
var (
	ErrEmptyImageKey        = errors.New("image key cannot be empty")
	ErrEmptyImageName       = errors.New("image original filename cannot be empty")
	ErrEmptyImagePath       = errors.New("image storage path cannot be empty")
	ErrInvalidImageSize     = errors.New("image size must be positive")
	ErrInvalidImageGeometry = errors.New("image dimensions must be positive")
)

// Image is an uploaded file that decoded successfully. It is immutable once
// created.
type Image struct {
	ID           uuid.UUID `json:"id"`
	Key          string    `json:"key"`
	OriginalName string    `json:"original_filename"`
	StoragePath  string    `json:"file_path"`
	Size         int64     `json:"size"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewImage creates an Image record for bytes that have already been decoded
// and stored.
func NewImage(key, originalName, storagePath string, size int64, width, height int) (*Image, error) {
	img := &Image{
		ID:           uuid.New(),
		Key:          key,
		OriginalName: originalName,
		StoragePath:  storagePath,
		Size:         size,
		Width:        width,
		Height:       height,
		CreatedAt:    time.Now().UTC(),
	}

	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// Validate checks that the image record is complete.
func (i *Image) Validate() error {
	if i.Key == "" {
		return ErrEmptyImageKey
	}
	if i.OriginalName == "" {
		return ErrEmptyImageName
	}
	if i.StoragePath == "" {
		return ErrEmptyImagePath
	}
	if i.Size <= 0 {
		return ErrInvalidImageSize
	}
	if i.Width <= 0 || i.Height <= 0 {
		return ErrInvalidImageGeometry
	}
	return nil
}

// Dimensions formats the image size as WIDTHxHEIGHT.
func (i *Image) Dimensions() string {
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}
