// Package services implements the approval workflow engine: workflow
// definition management, the request state machine, the action processor and
// the read-only overdue and statistics queries.
package services

import (
	"errors"
	"fmt"

	"github.com/procurio/approvalflow/pkg/persistence"
)

var (
	// ErrWorkflowNotFound is returned when a workflow definition is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// ErrRequestNotFound is returned when an approval request is not found.
	ErrRequestNotFound = persistence.ErrRequestNotFound
)

// Validation errors: malformed workflow or step definitions.
var (
	ErrWorkflowNil         = errors.New("workflow cannot be nil")
	ErrNoStepsDefined      = errors.New("workflow must have at least one step")
	ErrMissingRequiredRole = errors.New("step requires a valid organizational role")
	ErrInvalidTimeLimit    = errors.New("step time limit must be positive")
	ErrDuplicateStepOrder  = errors.New("steps share an order after normalization")
	ErrStepNotFound        = errors.New("step not found")
	ErrInvalidActionType   = errors.New("unknown action type")
)

// Transition errors: action not legal for the current status or step
// capability.
var (
	ErrInvalidTransition     = errors.New("action not permitted in current state")
	ErrWorkflowInactive      = errors.New("workflow is not active")
	ErrDelegateTargetMissing = errors.New("delegate action requires a target user")
)

// Authorization and resolution errors.
var (
	ErrUnauthorized         = errors.New("actor is not the current approver")
	ErrUnresolvableApprover = errors.New("no directory match for required role")
)

// Conflict errors.
var (
	// ErrStepInUse indicates a structural edit conflicts with in-flight
	// requests pointing at the step.
	ErrStepInUse = errors.New("step is the current step of an in-flight request")

	// ErrConcurrencyConflict indicates a lost race on a concurrent request
	// mutation, after the internal retry also lost.
	ErrConcurrencyConflict = errors.New("concurrent modification of request")
)

// ServiceError wraps engine errors with the context needed to reproduce the
// failure: operation, request id and step order where applicable.
type ServiceError struct {
	Op        string // Operation name
	RequestID string // Request ID if applicable
	StepOrder int    // Step order at the time of the failure, 0 when not applicable
	Message   string // Human-readable message
	Err       error  // Underlying error
}

func (e *ServiceError) Error() string {
	target := e.Op
	if e.RequestID != "" {
		target = fmt.Sprintf("%s request %s", e.Op, e.RequestID)
	}

	if e.StepOrder > 0 {
		target = fmt.Sprintf("%s step %d", target, e.StepOrder)
	}

	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %v", target, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %v", target, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewServiceError creates a new service error with context.
func NewServiceError(op, requestID string, stepOrder int, message string, err error) *ServiceError {
	return &ServiceError{
		Op:        op,
		RequestID: requestID,
		StepOrder: stepOrder,
		Message:   message,
		Err:       err,
	}
}

// IsNotFound checks if an error indicates an unknown workflow, request or
// step identifier (HTTP 404).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrStepNotFound)
}

// IsValidationError checks if an error is a validation error that should
// return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrNoStepsDefined) ||
		errors.Is(err, ErrMissingRequiredRole) ||
		errors.Is(err, ErrInvalidTimeLimit) ||
		errors.Is(err, ErrDuplicateStepOrder) ||
		errors.Is(err, ErrInvalidActionType) ||
		errors.Is(err, ErrDelegateTargetMissing)
}

// IsInvalidTransition checks if an error indicates an action that is not
// legal for the request's current status or step capabilities (HTTP 409).
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrWorkflowInactive)
}

// IsUnauthorized checks if an error indicates the actor is not allowed to
// act on the request (HTTP 403).
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsUnresolvableApprover checks if an error indicates no directory match for
// a step's required role (HTTP 422).
func IsUnresolvableApprover(err error) bool {
	return errors.Is(err, ErrUnresolvableApprover)
}

// IsConflictError checks if an error is a structural or concurrency conflict
// (HTTP 409).
func IsConflictError(err error) bool {
	return errors.Is(err, ErrStepInUse) ||
		errors.Is(err, ErrConcurrencyConflict)
}
