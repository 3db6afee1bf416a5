package models

import "time"

// ActionType is the closed set of decisions an approver can take on a request.
type ActionType string

const (
	ActionApprove     ActionType = "approve"
	ActionReject      ActionType = "reject"
	ActionReturn      ActionType = "return"
	ActionDelegate    ActionType = "delegate"
	ActionCancel      ActionType = "cancel"
	ActionComment     ActionType = "comment"
	ActionRequestInfo ActionType = "request_info"
)

// Valid reports whether the action type is one of the known kinds.
func (t ActionType) Valid() bool {
	switch t {
	case ActionApprove, ActionReject, ActionReturn, ActionDelegate,
		ActionCancel, ActionComment, ActionRequestInfo:
		return true
	}

	return false
}

// ApprovalAction is an append-only audit record of a decision taken on a
// request. Actions are never updated or deleted; together with the request
// they are the ground truth the statistics are derived from.
type ApprovalAction struct {
	ID        string     `json:"id"`
	RequestID string     `json:"request_id"`
	StepOrder int        `json:"step_order"` // Step that was current when the action was taken
	ActorID   string     `json:"actor_id"`
	Type      ActionType `json:"type"`
	Comments  string     `json:"comments,omitempty"`

	// Delegate target, only set for delegate actions.
	DelegateToID   string `json:"delegate_to_id,omitempty"`
	DelegateReason string `json:"delegate_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
