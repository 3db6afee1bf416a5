// Package web provides HTTP request and response types for the approval API.
package web

import "github.com/procurio/approvalflow/pkg/models"

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StepRequest represents one step in a workflow create or update body.
type StepRequest struct {
	Order          int    `json:"order"                      validate:"required,min=1"`
	Name           string `json:"name"                       validate:"required,min=1"`
	RequiredRole   string `json:"required_role"              validate:"required"`
	RequiredUserID string `json:"required_user_id,omitempty"`
	IsRequired     bool   `json:"is_required"`
	TimeLimitDays  int    `json:"time_limit_days"            validate:"required,gt=0"`
	CanDelegate    bool   `json:"can_delegate"`
	CanReject      bool   `json:"can_reject"`
	CanReturn      bool   `json:"can_return"`
}

// CreateWorkflowRequest represents the request body for creating a new
// workflow definition.
type CreateWorkflowRequest struct {
	Name        string        `json:"name"        validate:"required,min=3"`
	Description string        `json:"description" validate:"required"`
	Category    string        `json:"category"    validate:"required"`
	Priority    int           `json:"priority"    validate:"min=0"`
	Steps       []StepRequest `json:"steps"       validate:"required,min=1,dive"`
}

// UpdateWorkflowRequest represents the request body for replacing a
// workflow's step sequence.
type UpdateWorkflowRequest struct {
	Steps []StepRequest `json:"steps" validate:"required,min=1,dive"`
}

// CreateRequestRequest represents the request body for opening a new
// approval request against a workflow.
type CreateRequestRequest struct {
	WorkflowID  string `json:"workflow_id" validate:"required"`
	EntityID    string `json:"entity_id"   validate:"required"`
	EntityType  string `json:"entity_type" validate:"required"`
	Title       string `json:"title"       validate:"required,min=3"`
	Description string `json:"description"`
}

// ActionRequest represents the request body for one approver action.
type ActionRequest struct {
	Type           string `json:"type"                       validate:"required"`
	ActorID        string `json:"actor_id"                   validate:"required"`
	Comments       string `json:"comments,omitempty"`
	DelegateToID   string `json:"delegate_to_id,omitempty"`
	DelegateReason string `json:"delegate_reason,omitempty"`
}

// ToModelSteps converts step bodies into domain steps. Role validity is
// checked by the service layer, not here.
func ToModelSteps(steps []StepRequest) []*models.Step {
	converted := make([]*models.Step, 0, len(steps))

	for _, step := range steps {
		converted = append(converted, &models.Step{
			Order:          step.Order,
			Name:           step.Name,
			RequiredRole:   models.ApprovalRole(step.RequiredRole),
			RequiredUserID: step.RequiredUserID,
			IsRequired:     step.IsRequired,
			TimeLimitDays:  step.TimeLimitDays,
			CanDelegate:    step.CanDelegate,
			CanReject:      step.CanReject,
			CanReturn:      step.CanReturn,
		})
	}

	return converted
}
