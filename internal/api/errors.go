package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/imagelab-api/internal/analysis"
	"github.com/phrazzld/imagelab-api/internal/api/shared"
	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/pixel"
	"github.com/phrazzld/imagelab-api/internal/service"
	"github.com/phrazzld/imagelab-api/internal/store"
	"github.com/phrazzld/imagelab-api/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var maxBytesErr *http.MaxBytesError

	switch {
	case err == nil:
		return http.StatusInternalServerError

	// Not found errors
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, service.ErrInvalidUpload),
		errors.Is(err, pixel.ErrDecode),
		errors.Is(err, pixel.ErrTooLarge),
		errors.Is(err, analysis.ErrUnsupportedType),
		errors.Is(err, store.ErrInvalidEntity),
		domain.IsValidationError(err):
		return http.StatusBadRequest

	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge

	// Conflict errors
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrJobAlreadyTerminal):
		return http.StatusConflict

	// The job was recorded and failed, but nothing will run it now.
	case errors.Is(err, service.ErrJobNotAccepted),
		errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var maxBytesErr *http.MaxBytesError
	var unsupported *analysis.UnsupportedTypeError

	switch {
	case errors.Is(err, store.ErrImageNotFound):
		return "Image not found"
	case errors.Is(err, store.ErrJobNotFound):
		return "Analysis not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, pixel.ErrDecode):
		return "Invalid image file"
	case errors.Is(err, pixel.ErrTooLarge):
		return "Image dimensions exceed the allowed size"
	case errors.Is(err, service.ErrInvalidUpload):
		return "Invalid upload"
	case errors.As(err, &maxBytesErr):
		return fmt.Sprintf("File exceeds the %d byte limit", maxBytesErr.Limit)
	case errors.As(err, &unsupported):
		return "Unsupported analysis type. Supported types: " + strings.Join(unsupported.Supported, ", ")
	case errors.Is(err, domain.ErrEmptyAnalysisType):
		return "analysis_type is required"
	case errors.Is(err, store.ErrInvalidEntity), domain.IsValidationError(err):
		return "Invalid request data"

	case errors.Is(err, store.ErrJobAlreadyTerminal):
		return "Analysis already finished"
	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"

	case errors.Is(err, service.ErrJobNotAccepted),
		errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return "Analysis queue is full, try again later"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the mapped status and a safe message for err. A
// non-empty message overrides the derived one.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}

	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: %s", fieldName(fe), getValidationTagMessage(fe.Tag()))
}

func fieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "AnalysisType":
		return "analysis_type"
	case "Parameters":
		return "parameters"
	default:
		return fe.Field()
	}
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
