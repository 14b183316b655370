package triage

import "errors"

var (
	// ErrEmptySymptoms is returned when no symptoms were supplied.
	ErrEmptySymptoms = errors.New("symptoms are required")

	// ErrEmptyResponse is returned when a submission carries no model response.
	ErrEmptyResponse = errors.New("response is required")

	// ErrEmptyReviewer is returned when validation has no reviewer identity.
	ErrEmptyReviewer = errors.New("reviewer identity is required")

	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("triage record not found")

	// ErrAlreadyValidated is returned when validating a record twice.
	ErrAlreadyValidated = errors.New("triage record already validated")

	// ErrEmbedding wraps failures of the embedding oracle.
	ErrEmbedding = errors.New("embedding failed")

	// ErrRetrieval wraps failures of the case store.
	ErrRetrieval = errors.New("case retrieval failed")

	// ErrGeneration wraps failures of the generation oracle.
	ErrGeneration = errors.New("generation failed")
)
