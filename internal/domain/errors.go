package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks malformed caller input. Never retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrOutOfRange is an InvalidRequest for a chunk index outside [0, total_chunks).
	ErrOutOfRange = fmt.Errorf("%w: chunk index out of range", ErrInvalidRequest)
	// ErrPayloadTooLarge is returned when a declared or received size exceeds the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrNotFound covers unknown tokens, files and jobs, including resources owned by another user.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the operation is not valid for the current lifecycle state.
	// Callers must re-query state before trying again.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict signals a duplicate in-flight job.
	ErrConflict = errors.New("conflict")
	// ErrExpired is returned once a session TTL has elapsed.
	ErrExpired = errors.New("session expired")
	// ErrTransientFailure wraps analyzer and storage I/O failures that are eligible for retry.
	ErrTransientFailure = errors.New("transient failure")
	ErrUnauthorized     = errors.New("unauthorized")
	// ErrUnsupportedKind is returned by analyzers that do not implement a job kind.
	ErrUnsupportedKind = errors.New("unsupported analysis kind")
)

// JobConflictError carries the id of the job already in flight for the same file and kind.
type JobConflictError struct {
	JobID string
}

func (e *JobConflictError) Error() string {
	return fmt.Sprintf("analysis already pending or running: job %s", e.JobID)
}

func (e *JobConflictError) Unwrap() error { return ErrConflict }

func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientFailure, err)
}
