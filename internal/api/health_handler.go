package api

import (
	"net/http"
	"time"

	"github.com/phrazzld/imagelab-api/internal/api/shared"
)

// Health handles GET /health requests
func Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}
