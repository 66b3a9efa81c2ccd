package core

import "errors"

var (
	// ErrNotFound is returned when a document, chunk or object does not exist.
	ErrNotFound = errors.New("not found")

	ErrFetch      = errors.New("fetch failed")
	ErrExtraction = errors.New("text extraction failed")
	ErrNoChunks   = errors.New("document produced no chunks")

	// Provider failures. ErrRateLimited and ErrTimeout are transient and
	// retried; ErrProvider is permanent.
	ErrRateLimited = errors.New("rate limited")
	ErrTimeout     = errors.New("provider timeout")
	ErrProvider    = errors.New("provider error")

	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrBatchFailed      = errors.New("batch failed")
)
