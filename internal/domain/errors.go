package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when data is not in the expected format.
	ErrInvalidFormat = errors.New("invalid format")
)

// IsValidationError reports whether err is one of the entity validation
// errors defined in this package.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrInvalidFormat,
		ErrEmptyJobID, ErrEmptyJobImageKey, ErrEmptyAnalysisType, ErrInvalidJobStatus,
		ErrMissingJobResult, ErrMissingJobError,
		ErrEmptyImageKey, ErrEmptyImageName, ErrEmptyImagePath,
		ErrInvalidImageSize, ErrInvalidImageGeometry,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
