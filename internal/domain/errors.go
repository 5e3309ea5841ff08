package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrAuthentication     = errors.New("authentication failed")
	ErrPermanent          = errors.New("permanent failure")
	ErrRateLimited        = errors.New("rate limited")
	ErrTransient          = errors.New("transient failure")
	ErrCircuitOpen        = errors.New("circuit open")
	ErrDuplicateOperation = errors.New("duplicate operation")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrIllegalTransition  = errors.New("illegal job state transition")
	ErrJobTimeout         = errors.New("job total timeout exceeded")
)

// ValidationError names the offending field of a rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// BackendError is raised by generation backends that speak HTTP-like status
// codes. Status 0 means the backend gave no status.
type BackendError struct {
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("backend status %d: %s: %v", e.Status, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("backend status %d: %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }

// StatusCode exposes the upstream status.
func (e *BackendError) StatusCode() int { return e.Status }
