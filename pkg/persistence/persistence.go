// Package persistence provides data storage abstraction for workflow
// definitions, approval requests and their action logs.
package persistence

import (
	"context"
	"time"

	"github.com/procurio/approvalflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RequestRepository() RequestRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions together with their steps.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
}

// RequestRepository stores approval requests and their append-only action
// logs.
//
// Update and SaveWithAction check the request's Version against the stored
// one and fail with ErrVersionConflict on a stale read; on success the
// stored version is incremented. SaveWithAction commits the request mutation
// and the action record as a single transaction.
type RequestRepository interface {
	Create(ctx context.Context, request *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	List(ctx context.Context) ([]*models.ApprovalRequest, error)
	ListByStatus(ctx context.Context, status models.RequestStatus) ([]*models.ApprovalRequest, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ApprovalRequest, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]*models.ApprovalRequest, error)

	Update(ctx context.Context, request *models.ApprovalRequest) error
	SaveWithAction(ctx context.Context, request *models.ApprovalRequest, action *models.ApprovalAction) error

	ActionsByRequest(ctx context.Context, requestID string) ([]*models.ApprovalAction, error)
	ListActions(ctx context.Context) ([]*models.ApprovalAction, error)
}
