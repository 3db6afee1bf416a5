// Package directory abstracts the organizational directory the engine
// resolves approvers against.
package directory

import (
	"context"
	"time"

	"github.com/procurio/approvalflow/pkg/models"
)

// Assignment records that a user holds a role since a given date.
type Assignment struct {
	UserID     string              `json:"user_id"`
	Role       models.ApprovalRole `json:"role"`
	AssignedAt time.Time           `json:"assigned_at"`
}

// Directory looks up role holders.
//
// UsersByRole returns holder ids in resolution order: earliest assignment
// first, ties broken by user id. Callers picking the first entry therefore
// get an idempotent, testable choice.
type Directory interface {
	UsersByRole(ctx context.Context, role models.ApprovalRole) ([]string, error)
	HasRole(ctx context.Context, userID string, role models.ApprovalRole) (bool, error)
}
