// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow definition was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyExists indicates a workflow with the same identifier already exists.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	// ErrRequestNotFound indicates an approval request was not found by the given identifier.
	ErrRequestNotFound = errors.New("approval request not found")

	// ErrRequestAlreadyExists indicates a request with the same identifier already exists.
	ErrRequestAlreadyExists = errors.New("approval request already exists")

	// ErrVersionConflict indicates a request mutation lost a race: the stored
	// version no longer matches the one the caller read.
	ErrVersionConflict = errors.New("request version conflict")
)

// RequestError wraps request-related errors with additional context.
type RequestError struct {
	Op        string // Operation being performed (e.g., "GetByID", "SaveWithAction")
	RequestID string // Request ID if applicable
	Err       error  // Underlying error
	Message   string // Additional context message
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for request %s: %s (%v)", e.Op, e.RequestID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for request %s: %v", e.Op, e.RequestID, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for request errors.
func (e *RequestError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRequestError creates a new request error with context.
func NewRequestError(op, requestID string, err error) *RequestError {
	return &RequestError{
		Op:        op,
		RequestID: requestID,
		Err:       err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsRequestNotFound checks if an error indicates a request was not found.
func IsRequestNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic
// concurrency race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
