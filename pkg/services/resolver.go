package services

import (
	"context"

	"github.com/procurio/approvalflow/pkg/directory"
	"github.com/procurio/approvalflow/pkg/models"
)

// StepResolver determines the acting approver for a step.
type StepResolver struct {
	directory directory.Directory
}

// NewStepResolver creates a new step resolver over the given directory.
func NewStepResolver(directory directory.Directory) *StepResolver {
	return &StepResolver{directory: directory}
}

// Resolve returns the approver id for a step. A specific assigned user wins
// outright; otherwise the first holder of the required role is chosen, in
// the directory's stable resolution order, so repeated resolution of the
// same step yields the same approver. A role with no holder yields
// ErrUnresolvableApprover.
func (r *StepResolver) Resolve(ctx context.Context, step *models.Step) (string, error) {
	if step.RequiredUserID != "" {
		return step.RequiredUserID, nil
	}

	users, err := r.directory.UsersByRole(ctx, step.RequiredRole)
	if err != nil {
		return "", NewServiceError("Resolve", "", step.Order, "directory lookup failed", err)
	}

	if len(users) == 0 {
		return "", NewServiceError("Resolve", "", step.Order, "role "+string(step.RequiredRole), ErrUnresolvableApprover)
	}

	return users[0], nil
}
