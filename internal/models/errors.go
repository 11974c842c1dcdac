package models

import "errors"

// Sentinel errors shared across packages. Callers match with errors.Is.
var (
	// ErrEmptyQuery rejects blank retrieval queries before any work is done.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrInvalidPayload rejects malformed ingest payloads. No state changes.
	ErrInvalidPayload = errors.New("invalid ingest payload")

	// ErrIDConflict means a batch insert collided with an existing chunk id.
	// The whole batch is rejected.
	ErrIDConflict = errors.New("chunk id already exists")

	// ErrEmbedding wraps embedder failures. An ingest batch that hits it is
	// aborted before anything is written.
	ErrEmbedding = errors.New("embedding failed")

	// ErrIndexUnavailable means the persisted vector index file is missing.
	// Fatal for serving processes, expected for first-time ingestion.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGeneration wraps answer-model failures. Retrieval succeeded; only
	// the completion step failed.
	ErrGeneration = errors.New("answer generation failed")
)
