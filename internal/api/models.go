package api

import (
	"time"

	"github.com/phrazzld/imagelab-api/internal/domain"
)

// AnalyzeRequest defines the payload for starting an analysis.
type AnalyzeRequest struct {
	AnalysisType string         `json:"analysis_type" validate:"required,max=64"`
	Parameters   map[string]any `json:"parameters"`
}

// ImageResponse describes a stored image.
type ImageResponse struct {
	Key              string    `json:"key"`
	OriginalFilename string    `json:"original_filename"`
	FilePath         string    `json:"file_path"`
	Size             int64     `json:"size"`
	Dimensions       string    `json:"dimensions"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	CreatedAt        time.Time `json:"created_at"`
}

// AnalysisAcceptedResponse is returned when an analysis request is accepted.
type AnalysisAcceptedResponse struct {
	AnalysisID string           `json:"analysis_id"`
	Status     domain.JobStatus `json:"status"`
	Message    string           `json:"message"`
}

// AnalyzersResponse lists the supported analysis types.
type AnalyzersResponse struct {
	Analyzers []string `json:"analyzers"`
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func imageToResponse(img *domain.Image) ImageResponse {
	return ImageResponse{
		Key:              img.Key,
		OriginalFilename: img.OriginalName,
		FilePath:         img.StoragePath,
		Size:             img.Size,
		Dimensions:       img.Dimensions(),
		Width:            img.Width,
		Height:           img.Height,
		CreatedAt:        img.CreatedAt,
	}
}
