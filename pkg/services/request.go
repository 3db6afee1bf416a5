package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/procurio/approvalflow/pkg/eventbus"
	"github.com/procurio/approvalflow/pkg/events"
	"github.com/procurio/approvalflow/pkg/models"
	"github.com/procurio/approvalflow/pkg/persistence"
)

// Request owns the creation and start of approval requests. All other
// mutations go through the action processor.
type Request struct {
	persistence persistence.Persistence
	resolver    *StepResolver
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
}

// NewRequest creates a new request service.
func NewRequest(
	persistence persistence.Persistence,
	resolver *StepResolver,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
) *Request {
	return &Request{
		persistence: persistence,
		resolver:    resolver,
		eventBus:    eventBus,
		logger:      logger,
	}
}

// CreateRequestInput contains the fields for creating an approval request.
type CreateRequestInput struct {
	WorkflowID  string
	EntityID    string
	EntityType  string
	Title       string
	Description string
}

// Create registers a new approval request in Pending state against an
// active workflow. No approver is resolved and no due date is set until the
// request is started.
func (s *Request) Create(ctx context.Context, in CreateRequestInput) (*models.ApprovalRequest, error) {
	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, in.WorkflowID)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	if !workflow.Active {
		return nil, NewServiceError("Create", "", 0, "workflow "+in.WorkflowID, ErrWorkflowInactive)
	}

	if len(workflow.Steps) == 0 {
		return nil, NewServiceError("Create", "", 0, "workflow "+in.WorkflowID, ErrNoStepsDefined)
	}

	now := time.Now().UTC()

	request := &models.ApprovalRequest{
		ID:          uuid.New().String(),
		WorkflowID:  in.WorkflowID,
		EntityID:    in.EntityID,
		EntityType:  in.EntityType,
		Title:       in.Title,
		Description: in.Description,
		Status:      models.RequestStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.persistence.RequestRepository().Create(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return request, nil
}

// Start transitions a Pending request to InProgress: the current step
// becomes step 1, its approver is resolved and the due date computed from
// the step's time limit.
//
// When the step's role has no holder the transition still commits, with an
// empty current approver, and the returned error unwraps to
// ErrUnresolvableApprover so an operator can intervene.
func (s *Request) Start(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	request, err := s.tryStart(ctx, requestID)
	if errors.Is(err, persistence.ErrVersionConflict) {
		// One internal retry with a fresh read; a second conflict surfaces.
		request, err = s.tryStart(ctx, requestID)
		if errors.Is(err, persistence.ErrVersionConflict) {
			return nil, NewServiceError("Start", requestID, 1, "", ErrConcurrencyConflict)
		}
	}

	if request == nil {
		return nil, err
	}

	s.publish(ctx, request.ID, events.RequestStarted{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.RequestStartedEvent,
			Timestamp:  time.Now().UTC(),
			RequestID:  request.ID,
			WorkflowID: request.WorkflowID,
		},
		StepOrder:  request.CurrentStepOrder,
		ApproverID: request.CurrentApproverID,
		DueAt:      *request.CurrentStepDue,
	})

	// err may still carry ErrUnresolvableApprover for a committed start.
	return request, err
}

// tryStart performs one start attempt. When the first step's role cannot be
// resolved the transition still commits with an empty approver, and both the
// request and an ErrUnresolvableApprover error are returned.
func (s *Request) tryStart(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	request, err := s.persistence.RequestRepository().GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request == nil {
		return nil, NewServiceError("Start", requestID, 0, "", ErrRequestNotFound)
	}

	if request.Status != models.RequestStatusPending {
		return nil, NewServiceError("Start", requestID, request.CurrentStepOrder,
			"status "+string(request.Status), ErrInvalidTransition)
	}

	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, request.WorkflowID)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	step := workflow.StepByOrder(1)
	if step == nil {
		return nil, NewServiceError("Start", requestID, 1, "workflow "+workflow.ID, ErrStepNotFound)
	}

	var resolveErr error

	approver, err := s.resolver.Resolve(ctx, step)
	if err != nil {
		if !errors.Is(err, ErrUnresolvableApprover) {
			return nil, err
		}

		resolveErr = err
	}

	now := time.Now().UTC()
	due := step.DueDate(now)

	request.Status = models.RequestStatusInProgress
	request.CurrentStepOrder = 1
	request.CurrentApproverID = approver
	request.CurrentStepDue = &due

	err = s.persistence.RequestRepository().Update(ctx, request)
	if err != nil {
		return nil, err
	}

	return request, resolveErr
}

// FetchByID retrieves an approval request by its ID.
func (s *Request) FetchByID(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	request, err := s.persistence.RequestRepository().GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request == nil {
		return nil, ErrRequestNotFound
	}

	return request, nil
}

// List retrieves all approval requests, optionally filtered by status.
func (s *Request) List(ctx context.Context, status *models.RequestStatus) ([]*models.ApprovalRequest, error) {
	if status != nil {
		return s.persistence.RequestRepository().ListByStatus(ctx, *status)
	}

	return s.persistence.RequestRepository().List(ctx)
}

// Actions returns the audit log of a request, oldest first.
func (s *Request) Actions(ctx context.Context, requestID string) ([]*models.ApprovalAction, error) {
	request, err := s.persistence.RequestRepository().GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request == nil {
		return nil, ErrRequestNotFound
	}

	return s.persistence.RequestRepository().ActionsByRequest(ctx, requestID)
}

// publish sends a lifecycle event. Delivery is best effort: failures are
// logged and never affect the committed transition.
func (s *Request) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	err := s.eventBus.Publish(ctx, key, event)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish request event",
			"event_type", event.GetType(), "request_id", key, "error", err)
	}
}
