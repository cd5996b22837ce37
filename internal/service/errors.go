package service

import (
	"errors"
	"fmt"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check them with errors.Is; the API layer maps them to status codes.
var (
	// ErrInvalidUpload indicates that an uploaded file was empty, too large
	// or not a decodable image.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidUpload = errors.New("invalid upload")

	// ErrJobNotAccepted indicates that the job was recorded but the task
	// queue refused it. The job has already been marked failed.
	// API layer should map this to HTTP 503 Service Unavailable.
	ErrJobNotAccepted = errors.New("analysis job not accepted")
)

// ServiceError wraps unexpected failures with the operation that hit them.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "upload")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
