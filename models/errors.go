package models

import "errors"

// Error kinds surfaced by the engine. Callers branch with errors.Is; the
// request layer maps ErrDependencyUnavailable to a retryable failure and
// ErrInvalidInput to a non-retryable one.
var (
	// ErrDependencyUnavailable means the embedding provider or index store
	// could not be reached. Fatal for the current request.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrInvalidInput means the request was rejected before any work happened
	// (missing chapter text, empty query).
	ErrInvalidInput = errors.New("invalid input")

	// ErrIngestionConflict means a concurrent re-ingestion of the same chapter
	// produced a different passage set; the later writer is rejected rather
	// than interleaved.
	ErrIngestionConflict = errors.New("concurrent ingestion conflict")
)
