package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/imagelab-api/internal/analysis"
	"github.com/phrazzld/imagelab-api/internal/api/shared"
	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/service"
)

// AnalysisService is the subset of service.AnalysisDispatcher used by the
// handlers.
type AnalysisService interface {
	Submit(ctx context.Context, imageKey, analysisType string, params analysis.Params) (*domain.Job, error)
	GetStatus(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, limit int) ([]*domain.Job, error)
	SupportedTypes() []string
}

// AnalysisHandler handles analysis requests
type AnalysisHandler struct {
	analyses AnalysisService
	logger   *slog.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler
func NewAnalysisHandler(analyses AnalysisService, log *slog.Logger) *AnalysisHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AnalysisHandler{
		analyses: analyses,
		logger:   log.With("component", "analysis_handler"),
	}
}

// StartAnalysis handles POST /api/images/{key}/analyses requests. The job
// runs in the background, so the response is 202 Accepted.
func (h *AnalysisHandler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	key, err := getPathParam(r, "key")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	var req AnalyzeRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	job, err := h.analyses.Submit(r.Context(), key, req.AnalysisType, req.Parameters)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	message := "Analysis started"
	if job.Status == domain.JobStatusFailed {
		message = "Analysis failed: " + job.Error
	}
	log.Debug("analysis accepted",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)))

	shared.RespondWithJSON(w, r, http.StatusAccepted, AnalysisAcceptedResponse{
		AnalysisID: job.ID,
		Status:     job.Status,
		Message:    message,
	})
}

// GetAnalysis handles GET /api/analyses/{id} requests
func (h *AnalysisHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := getPathParam(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	job, err := h.analyses.GetStatus(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, service.NewJobView(job))
}

// ListAnalyses handles GET /api/analyses requests
func (h *AnalysisHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		HandleAPIError(w, r, err, "limit must be a positive integer")
		return
	}

	jobs, err := h.analyses.List(r.Context(), limit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, service.NewJobViews(jobs))
}

// ListAnalyzers handles GET /api/analyzers requests
func (h *AnalysisHandler) ListAnalyzers(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, AnalyzersResponse{Analyzers: h.analyses.SupportedTypes()})
}
