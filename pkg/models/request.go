package models

import "time"

// RequestStatus represents the lifecycle state of an approval request.
//
// Returned and delegated requests are not statuses of their own: both
// collapse back into "in_progress" with a different step or approver, and
// only show up in the action log.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"     // Created, not started
	RequestStatusInProgress RequestStatus = "in_progress" // Executing, accepts actions
	RequestStatusApproved   RequestStatus = "approved"    // Terminal, all steps approved
	RequestStatusRejected   RequestStatus = "rejected"    // Terminal
	RequestStatusCancelled  RequestStatus = "cancelled"   // Terminal
	RequestStatusExpired    RequestStatus = "expired"     // Terminal, set by an external expiry job
)

// Terminal reports whether the status is final. Terminal requests accept no
// further actions.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled, RequestStatusExpired:
		return true
	}

	return false
}

// Valid reports whether the status is a known lifecycle state.
func (s RequestStatus) Valid() bool {
	return s == RequestStatusPending || s == RequestStatusInProgress || s.Terminal()
}

// ApprovalRequest is a live instance of a workflow executing against a
// specific business entity. It is mutated only by the action processor;
// everything else reads it.
type ApprovalRequest struct {
	ID          string        `json:"id"`
	WorkflowID  string        `json:"workflow_id" validate:"required"`
	EntityID    string        `json:"entity_id"   validate:"required"`
	EntityType  string        `json:"entity_type" validate:"required"`
	Title       string        `json:"title"       validate:"required"`
	Description string        `json:"description"`
	Status      RequestStatus `json:"status"`

	CurrentStepOrder  int        `json:"current_step_order"`
	CurrentApproverID string     `json:"current_approver_id,omitempty"`
	CurrentStepDue    *time.Time `json:"current_step_due,omitempty"`

	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CompletedBy     string     `json:"completed_by,omitempty"`
	CompletionNotes string     `json:"completion_notes,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	// Version is the optimistic concurrency token. Every committed mutation
	// increments it; a save against a stale version fails.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Overdue reports whether the request's current step due date has elapsed
// without resolution.
func (r *ApprovalRequest) Overdue(now time.Time) bool {
	return r.Status == RequestStatusInProgress &&
		r.CurrentStepDue != nil &&
		r.CurrentStepDue.Before(now)
}
