package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/phrazzld/imagelab-api/internal/api/shared"
	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
)

// uploadField is the multipart form field carrying the image.
const uploadField = "file"

// multipartOverhead leaves room for form boundaries and headers on top of
// the file size limit.
const multipartOverhead = 1 << 20

// ImageService is the subset of service.ImageService used by the handlers.
type ImageService interface {
	Upload(ctx context.Context, originalName string, data []byte) (*domain.Image, error)
	GetImage(ctx context.Context, key string) (*domain.Image, error)
}

// ImageHandler handles image upload and lookup requests
type ImageHandler struct {
	images   ImageService
	maxBytes int64
	logger   *slog.Logger
}

// NewImageHandler creates a new ImageHandler. maxBytes bounds a single upload.
func NewImageHandler(images ImageService, maxBytes int64, log *slog.Logger) *ImageHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ImageHandler{
		images:   images,
		maxBytes: maxBytes,
		logger:   log.With("component", "image_handler"),
	}
}

// UploadImage handles POST /api/images requests
func (h *ImageHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			HandleAPIError(w, r, err, "")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "No file provided", err)
		return
	}
	defer func() { _ = file.Close() }()

	if header.Filename == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "No file selected")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read upload")
		return
	}

	img, err := h.images.Upload(r.Context(), header.Filename, data)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	log.Debug("upload stored", slog.String("key", img.Key))
	shared.RespondWithJSON(w, r, http.StatusCreated, imageToResponse(img))
}

// GetImage handles GET /api/images/{key} requests
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	key, err := getPathParam(r, "key")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	img, err := h.images.GetImage(r.Context(), key)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, imageToResponse(img))
}
