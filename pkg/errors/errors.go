package apperrors

import (
	"errors"
	"fmt"
)

// Standardized marketplace and registry errors
var (
	ErrRateLimited      = errors.New("rate limited")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrInstanceExists   = errors.New("instance already exists")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrWorkerRunning    = errors.New("worker already running")
)

// SigningError indicates unusable key material. An instance with a bad key
// cannot run; this is surfaced to the operator, never retried.
type SigningError struct {
	Reason string
	Err    error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signing error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("signing error: %s", e.Reason)
}

func (e *SigningError) Unwrap() error { return e.Err }

// RequestError wraps a failed marketplace request with its method and path.
// Status is zero when the failure happened below HTTP (transport, timeout).
type RequestError struct {
	Method string
	Path   string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request failed: %s %s: status=%d: %v", e.Method, e.Path, e.Status, e.Err)
	}
	return fmt.Sprintf("request failed: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
