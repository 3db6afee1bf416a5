// Package models defines the core domain records for approval workflow processing.
package models

import "time"

// ApprovalRole is the closed set of organizational roles a step may require.
type ApprovalRole string

const (
	RoleBranchManager      ApprovalRole = "branch_manager"
	RoleFinancialManager   ApprovalRole = "financial_manager"
	RoleProcurementOfficer ApprovalRole = "procurement_officer"
	RoleLegalOfficer       ApprovalRole = "legal_officer"
	RoleGeneralManager     ApprovalRole = "general_manager"
)

// Valid reports whether the role is one of the known organizational roles.
func (r ApprovalRole) Valid() bool {
	switch r {
	case RoleBranchManager, RoleFinancialManager, RoleProcurementOfficer,
		RoleLegalOfficer, RoleGeneralManager:
		return true
	}

	return false
}

// WorkflowDefinition describes an ordered sequence of approval steps for a
// category of business request. Once active it is treated as immutable by
// in-flight requests: they keep executing against the step orders they
// already point at.
type WorkflowDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"        validate:"required,min=3"`
	Description string    `json:"description" validate:"required"`
	Category    string    `json:"category"    validate:"required"`
	Active      bool      `json:"active"`
	Priority    int       `json:"priority"`
	Steps       []*Step   `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Step is one stage in a workflow definition. Steps are plain records keyed
// by (workflow id, order); requests reference them by order rather than by
// pointer so that workflow edits never leave stale references behind.
type Step struct {
	WorkflowID     string       `json:"workflow_id"`
	Order          int          `json:"order"            validate:"required,min=1"`
	Name           string       `json:"name"             validate:"required"`
	RequiredRole   ApprovalRole `json:"required_role"    validate:"required"`
	RequiredUserID string       `json:"required_user_id,omitempty"`
	IsRequired     bool         `json:"is_required"`
	TimeLimitDays  int          `json:"time_limit_days"  validate:"required,gt=0"`
	CanDelegate    bool         `json:"can_delegate"`
	CanReject      bool         `json:"can_reject"`
	CanReturn      bool         `json:"can_return"`
}

// StepByOrder returns the step with the given order, or nil when no such
// step exists.
func (w *WorkflowDefinition) StepByOrder(order int) *Step {
	for _, step := range w.Steps {
		if step.Order == order {
			return step
		}
	}

	return nil
}

// LastStepOrder returns the highest step order, or 0 for an empty workflow.
func (w *WorkflowDefinition) LastStepOrder() int {
	last := 0

	for _, step := range w.Steps {
		if step.Order > last {
			last = step.Order
		}
	}

	return last
}

// DueDate computes the due date for this step when it becomes current at the
// given time.
func (s *Step) DueDate(from time.Time) time.Time {
	return from.Add(time.Duration(s.TimeLimitDays) * 24 * time.Hour)
}
