package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/service"
)

// getPathParam extracts a required chi path parameter.
func getPathParam(r *http.Request, name string) (string, error) {
	value := chi.URLParam(r, name)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	return value, nil
}

// parseLimit reads the optional ?limit= query parameter. Missing means the
// default, values above the maximum are capped.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return service.DefaultListLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidFormat)
	}
	return min(limit, service.MaxListLimit), nil
}
