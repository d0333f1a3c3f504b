package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStatus indicates a forbidden document status transition.
	ErrInvalidStatus = errors.New("invalid status transition")
)
