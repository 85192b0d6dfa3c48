package service

import "errors"

// Business-rule errors surfaced to the HTTP layer.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidReference  = errors.New("reference id required")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrHostUnavailable   = errors.New("host unavailable")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrAlreadyRated      = errors.New("session already rated")
	ErrForbidden         = errors.New("caller does not own this resource")
)
