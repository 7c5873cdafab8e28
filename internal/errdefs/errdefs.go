// Package errdefs defines the sentinel errors shared across the retrieval core.
// Callers classify failures with errors.Is; packages wrap these with context
// via fmt.Errorf and %w.
package errdefs

import "errors"

var (
	// ErrDimensionMismatch indicates a vector whose length differs from the
	// index's configured dimensionality. Caller bug; never retried.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmbeddingFailure indicates the embedding adapter failed to produce a vector.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrGenerationFailure indicates the generation adapter failed to produce a completion.
	ErrGenerationFailure = errors.New("generation failure")

	// ErrTimeout indicates an adapter or backend call exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrBackendUnavailable indicates the remote vector backend could not be reached.
	ErrBackendUnavailable = errors.New("vector backend unavailable")

	// ErrIndexWriteFailure indicates the backend rejected a write.
	ErrIndexWriteFailure = errors.New("index write failure")

	// ErrConfiguration indicates a fatal configuration conflict, such as an
	// existing collection whose dimensionality differs from the configured one.
	// Never retried and never silently repaired.
	ErrConfiguration = errors.New("configuration error")
)
