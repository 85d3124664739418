// Package errs defines the error kinds surfaced by the service: validation,
// not-found, embedding, and storage failures. Each carries enough context
// (operation, collection, id) to diagnose without the call site.
package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel for missing records and collections.
// Wrapped errors can be matched with errors.Is.
var ErrNotFound = errors.New("not found")

// NotFound wraps ErrNotFound with collection (and optionally id) context.
func NotFound(collection, id string) error {
	if id == "" {
		return fmt.Errorf("collection %q: %w", collection, ErrNotFound)
	}
	return fmt.Errorf("collection %q, id %q: %w", collection, id, ErrNotFound)
}

// ValidationError reports client input the service cannot accept: a bad
// vector dimension, a malformed filter, an empty document.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ValidationError struct {
	Op         string
	Collection string
	ID         string
	Msg        string
	cause      error
}

// Validation builds a ValidationError. ID may be empty.
func Validation(op, collection, id, msg string) *ValidationError {
	return &ValidationError{Op: op, Collection: collection, ID: id, Msg: msg}
}

// DimensionMismatch is the recurring validation failure of a vector whose
// length differs from the collection's established dimension.
func DimensionMismatch(op, collection, id string, expected, actual int) *ValidationError {
	return &ValidationError{
		Op:         op,
		Collection: collection,
		ID:         id,
		Msg:        fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, actual),
	}
}

func (e *ValidationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: collection %q, id %q: %s", e.Op, e.Collection, e.ID, e.Msg)
	}
	if e.Collection != "" {
		return fmt.Sprintf("%s: collection %q: %s", e.Op, e.Collection, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.cause }

// EmbeddingError reports an embedding call that failed, timed out, or
// returned a wrong-dimension vector after the bounded retry budget.
// Retryable by the caller with backoff.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type EmbeddingError struct {
	Op       string
	Attempts int
	cause    error
}

// Embedding builds an EmbeddingError wrapping cause.
func Embedding(op string, attempts int, cause error) *EmbeddingError {
	return &EmbeddingError{Op: op, Attempts: attempts, cause: cause}
}

func (e *EmbeddingError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: embedding failed after %d attempts: %v", e.Op, e.Attempts, e.cause)
	}
	return fmt.Sprintf("%s: embedding failed: %v", e.Op, e.cause)
}

func (e *EmbeddingError) Unwrap() error { return e.cause }

// StorageError reports disk I/O failure or corruption detected in one
// collection's store. Fatal for that collection; the process and the other
// collections keep serving.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type StorageError struct {
	Op         string
	Collection string
	cause      error
}

// Storage builds a StorageError wrapping cause.
func Storage(op, collection string, cause error) *StorageError {
	return &StorageError{Op: op, Collection: collection, cause: cause}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: collection %q: storage failure: %v", e.Op, e.Collection, e.cause)
}

func (e *StorageError) Unwrap() error { return e.cause }

// Kind names an error class for status mapping and batch item reporting.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindEmbedding  Kind = "embedding"
	KindStorage    Kind = "storage"
	KindInternal   Kind = "internal"
)

// KindOf classifies err into one of the error kinds. Unrecognized errors
// classify as KindInternal; nil classifies as the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return KindEmbedding
	}
	var se *StorageError
	if errors.As(err, &se) {
		return KindStorage
	}
	return KindInternal
}
