package util

import "errors"

var (
	ErrNoExtractableText = errors.New("no extractable text found in document")

	// ErrTransientUpstream marks an embedding, generation or fetch call that
	// kept failing after its retry budget was spent.
	ErrTransientUpstream   = errors.New("transient upstream failure")
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("duplicate paper for user")
	ErrMalformedIdentifier = errors.New("malformed external identifier")
	ErrPartialIngestion    = errors.New("candidate ingestion failed")
	ErrReasoningDegraded   = errors.New("reasoning stage degraded")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrInvalidInput        = errors.New("invalid input")
	ErrDocumentTooLarge    = errors.New("document exceeds size limit")
)
