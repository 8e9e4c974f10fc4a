package service

import (
	"errors"
	"fmt"
)

// ValidationError reports bad caller input with field-level detail.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProviderError is a non-retryable rejection from the signing provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
}

// TimeoutError is surfaced once the retry budget for a provider call is
// exhausted.
type TimeoutError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StorageError reports a failure persisting or fetching a document.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure for %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

var (
	// ErrAuthenticity means a webhook signature did not verify.
	ErrAuthenticity = errors.New("webhook signature mismatch")
	// ErrConflict means a transition was attempted on a terminal request.
	ErrConflict = errors.New("request is in a terminal state")
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the principal may not act on the entity.
	ErrForbidden = errors.New("forbidden")
	// ErrNotActive means the signatory is not currently allowed to sign.
	ErrNotActive = errors.New("signatory is not active")
	// ErrNotCompleted means the signed document is not available yet.
	ErrNotCompleted = errors.New("request is not completed")
	// ErrInvalidTransition means a status change would violate the
	// signing order.
	ErrInvalidTransition = errors.New("invalid state transition")
)
