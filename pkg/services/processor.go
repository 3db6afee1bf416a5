package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/procurio/approvalflow/pkg/directory"
	"github.com/procurio/approvalflow/pkg/eventbus"
	"github.com/procurio/approvalflow/pkg/events"
	"github.com/procurio/approvalflow/pkg/models"
	"github.com/procurio/approvalflow/pkg/otelhelper"
	"github.com/procurio/approvalflow/pkg/persistence"
)

// ActionInput describes one approver decision to process.
type ActionInput struct {
	RequestID      string
	Type           models.ActionType
	ActorID        string
	Comments       string
	DelegateToID   string
	DelegateReason string
}

// Processor is the single entry point for mutating an in-flight request.
// Each action is validated against the request's status, the actor's
// authority and the current step's capability flags, then the action record
// and the request mutation commit as one atomic unit. Events are published
// after the commit, outside any lock, and never roll a transition back.
type Processor struct {
	persistence persistence.Persistence
	directory   directory.Directory
	resolver    *StepResolver
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewProcessor creates a new action processor.
func NewProcessor(
	persistence persistence.Persistence,
	directory directory.Directory,
	resolver *StepResolver,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		persistence: persistence,
		directory:   directory,
		resolver:    resolver,
		eventBus:    eventBus,
		logger:      logger,
		tracer:      otel.Tracer("approvalflow/processor"),
	}
}

// outcome is what an action handler leaves behind: the mutated request, the
// event to publish after commit, and an optional resolution error for a
// committed transition whose next approver could not be resolved.
type outcome struct {
	request    *models.ApprovalRequest
	event      eventbus.Event
	resolveErr error
}

// actionHandler pairs the validation predicate and the state transition for
// one action type. validate runs before any mutation; apply mutates the
// request in memory and builds the event.
type actionHandler struct {
	validate func(p *Processor, request *models.ApprovalRequest, step *models.Step) error
	apply    func(ctx context.Context, p *Processor, workflow *models.WorkflowDefinition, request *models.ApprovalRequest, step *models.Step, in ActionInput, now time.Time) (eventbus.Event, error)
}

// ProcessAction validates and applies an approver's action. A lost
// optimistic-concurrency race is retried once with a fresh read; a second
// loss surfaces as ErrConcurrencyConflict.
func (p *Processor) ProcessAction(ctx context.Context, in ActionInput) (*models.ApprovalRequest, error) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "processor.ProcessAction",
		attribute.String(otelhelper.RequestIDKey, in.RequestID),
		attribute.String(otelhelper.ActionTypeKey, string(in.Type)),
		attribute.String(otelhelper.ActorIDKey, in.ActorID),
	)
	defer span.End()

	if !in.Type.Valid() {
		return nil, NewServiceError("ProcessAction", in.RequestID, 0, string(in.Type), ErrInvalidActionType)
	}

	if in.Type == models.ActionDelegate && in.DelegateToID == "" {
		return nil, NewServiceError("ProcessAction", in.RequestID, 0, "", ErrDelegateTargetMissing)
	}

	result, err := p.attempt(ctx, in)
	if errors.Is(err, persistence.ErrVersionConflict) {
		result, err = p.attempt(ctx, in)
		if errors.Is(err, persistence.ErrVersionConflict) {
			return nil, NewServiceError("ProcessAction", in.RequestID, 0, "", ErrConcurrencyConflict)
		}
	}

	if err != nil {
		otelhelper.SetError(span, err,
			attribute.String(otelhelper.RequestIDKey, in.RequestID),
			attribute.String(otelhelper.ActionTypeKey, string(in.Type)),
		)

		return nil, err
	}

	p.publish(ctx, result.request.ID, result.event)

	if result.resolveErr != nil {
		// The transition committed; the caller learns the next step has no
		// approver until an operator intervenes.
		return result.request, result.resolveErr
	}

	return result.request, nil
}

// attempt performs one read-validate-apply-commit cycle.
func (p *Processor) attempt(ctx context.Context, in ActionInput) (*outcome, error) {
	request, err := p.persistence.RequestRepository().GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	if request == nil {
		return nil, NewServiceError("ProcessAction", in.RequestID, 0, "", ErrRequestNotFound)
	}

	workflow, err := p.persistence.WorkflowRepository().GetByID(ctx, request.WorkflowID)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	step := workflow.StepByOrder(request.CurrentStepOrder)

	handler := actionHandlers[in.Type]

	err = handler.validate(p, request, step)
	if err != nil {
		return nil, err
	}

	err = p.authorize(ctx, request, step, in)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	actedStep := request.CurrentStepOrder

	event, err := handler.apply(ctx, p, workflow, request, step, in, now)

	var resolveErr error

	if err != nil {
		if !errors.Is(err, ErrUnresolvableApprover) {
			return nil, err
		}

		resolveErr = err
	}

	action := &models.ApprovalAction{
		ID:             uuid.New().String(),
		RequestID:      request.ID,
		StepOrder:      actedStep,
		ActorID:        in.ActorID,
		Type:           in.Type,
		Comments:       in.Comments,
		DelegateToID:   in.DelegateToID,
		DelegateReason: in.DelegateReason,
		CreatedAt:      now,
	}

	err = p.persistence.RequestRepository().SaveWithAction(ctx, request, action)
	if err != nil {
		return nil, err
	}

	return &outcome{request: request, event: event, resolveErr: resolveErr}, nil
}

// authorize checks the actor against the request's current approver. Cancel
// is exempt: it is available to the requesting side before and during
// execution. When the current approver is unresolved, any holder of the
// step's required role may act, so a human operator can unblock the request.
func (p *Processor) authorize(ctx context.Context, request *models.ApprovalRequest, step *models.Step, in ActionInput) error {
	if in.Type == models.ActionCancel {
		return nil
	}

	if request.CurrentApproverID == in.ActorID {
		return nil
	}

	if request.CurrentApproverID == "" && step != nil {
		ok, err := p.directory.HasRole(ctx, in.ActorID, step.RequiredRole)
		if err != nil {
			return fmt.Errorf("failed to check role of actor %s: %w", in.ActorID, err)
		}

		if ok {
			return nil
		}
	}

	return NewServiceError("ProcessAction", request.ID, request.CurrentStepOrder,
		"actor "+in.ActorID, ErrUnauthorized)
}

// requireInProgress is the shared validation for every action except cancel.
func requireInProgress(request *models.ApprovalRequest, step *models.Step) error {
	if request.Status != models.RequestStatusInProgress {
		return NewServiceError("ProcessAction", request.ID, request.CurrentStepOrder,
			"status "+string(request.Status), ErrInvalidTransition)
	}

	if step == nil {
		return NewServiceError("ProcessAction", request.ID, request.CurrentStepOrder,
			"current step missing from workflow", ErrStepNotFound)
	}

	return nil
}

// requireCapability gates reject/return/delegate on the current step's
// capability flags.
func requireCapability(request *models.ApprovalRequest, step *models.Step, allowed bool, capability string) error {
	if !allowed {
		return NewServiceError("ProcessAction", request.ID, step.Order,
			"step does not allow "+capability, ErrInvalidTransition)
	}

	return nil
}

var actionHandlers = map[models.ActionType]actionHandler{
	models.ActionApprove: {
		validate: func(_ *Processor, request *models.ApprovalRequest, step *models.Step) error {
			return requireInProgress(request, step)
		},
		apply: applyApprove,
	},
	models.ActionReject: {
		validate: func(_ *Processor, request *models.ApprovalRequest, step *models.Step) error {
			err := requireInProgress(request, step)
			if err != nil {
				return err
			}

			return requireCapability(request, step, step.CanReject, "reject")
		},
		apply: applyReject,
	},
	models.ActionReturn: {
		validate: func(_ *Processor, request *models.ApprovalRequest, step *models.Step) error {
			err := requireInProgress(request, step)
			if err != nil {
				return err
			}

			err = requireCapability(request, step, step.CanReturn, "return")
			if err != nil {
				return err
			}

			if request.CurrentStepOrder <= 1 {
				return NewServiceError("ProcessAction", request.ID, request.CurrentStepOrder,
					"no previous step to return to", ErrInvalidTransition)
			}

			return nil
		},
		apply: applyReturn,
	},
	models.ActionDelegate: {
		validate: func(_ *Processor, request *models.ApprovalRequest, step *models.Step) error {
			err := requireInProgress(request, step)
			if err != nil {
				return err
			}

			return requireCapability(request, step, step.CanDelegate, "delegate")
		},
		apply: applyDelegate,
	},
	models.ActionCancel: {
		validate: func(_ *Processor, request *models.ApprovalRequest, _ *models.Step) error {
			if request.Status.Terminal() {
				return NewServiceError("ProcessAction", request.ID, request.CurrentStepOrder,
					"status "+string(request.Status), ErrInvalidTransition)
			}

			return nil
		},
		apply: applyCancel,
	},
	models.ActionComment: {
		validate: func(_ *Processor, request *models.ApprovalRequest, step *models.Step) error {
			return requireInProgress(request, step)
		},
		apply: applyComment,
	},
	models.ActionRequestInfo: {
		validate: func(_ *Processor, request *models.ApprovalRequest, step *models.Step) error {
			return requireInProgress(request, step)
		},
		apply: applyRequestInfo,
	},
}

func applyApprove(ctx context.Context, p *Processor, workflow *models.WorkflowDefinition, request *models.ApprovalRequest, step *models.Step, in ActionInput, now time.Time) (eventbus.Event, error) {
	if request.CurrentStepOrder >= workflow.LastStepOrder() {
		request.Status = models.RequestStatusApproved
		request.CompletedAt = &now
		request.CompletedBy = in.ActorID
		request.CompletionNotes = in.Comments
		request.CurrentApproverID = ""
		request.CurrentStepDue = nil

		return events.RequestApproved{
			BaseEvent:   baseEvent(events.RequestApprovedEvent, request, now),
			CompletedBy: in.ActorID,
		}, nil
	}

	fromStep := request.CurrentStepOrder
	next := workflow.StepByOrder(fromStep + 1)

	if next == nil {
		return nil, NewServiceError("ProcessAction", request.ID, fromStep+1,
			"workflow "+workflow.ID, ErrStepNotFound)
	}

	resolveErr := moveToStep(ctx, p, request, next, now)

	return events.RequestStepAdvanced{
		BaseEvent:  baseEvent(events.RequestStepAdvancedEvent, request, now),
		FromStep:   fromStep,
		ToStep:     next.Order,
		ApproverID: request.CurrentApproverID,
		DueAt:      *request.CurrentStepDue,
	}, resolveErr
}

func applyReject(_ context.Context, _ *Processor, _ *models.WorkflowDefinition, request *models.ApprovalRequest, _ *models.Step, in ActionInput, now time.Time) (eventbus.Event, error) {
	request.Status = models.RequestStatusRejected
	request.RejectionReason = in.Comments
	request.CompletedAt = &now
	request.CompletedBy = in.ActorID
	request.CurrentApproverID = ""
	request.CurrentStepDue = nil

	return events.RequestRejected{
		BaseEvent: baseEvent(events.RequestRejectedEvent, request, now),
		ActorID:   in.ActorID,
		Reason:    in.Comments,
	}, nil
}

func applyReturn(ctx context.Context, p *Processor, workflow *models.WorkflowDefinition, request *models.ApprovalRequest, _ *models.Step, _ ActionInput, now time.Time) (eventbus.Event, error) {
	fromStep := request.CurrentStepOrder

	previous := workflow.StepByOrder(fromStep - 1)
	if previous == nil {
		return nil, NewServiceError("ProcessAction", request.ID, fromStep-1,
			"workflow "+workflow.ID, ErrStepNotFound)
	}

	resolveErr := moveToStep(ctx, p, request, previous, now)

	return events.RequestReturned{
		BaseEvent:  baseEvent(events.RequestReturnedEvent, request, now),
		FromStep:   fromStep,
		ToStep:     previous.Order,
		ApproverID: request.CurrentApproverID,
	}, resolveErr
}

func applyDelegate(_ context.Context, _ *Processor, _ *models.WorkflowDefinition, request *models.ApprovalRequest, _ *models.Step, in ActionInput, now time.Time) (eventbus.Event, error) {
	fromApprover := request.CurrentApproverID
	request.CurrentApproverID = in.DelegateToID

	// Step order and due date are untouched: the delegate inherits the
	// remaining time.
	return events.RequestDelegated{
		BaseEvent:    baseEvent(events.RequestDelegatedEvent, request, now),
		StepOrder:    request.CurrentStepOrder,
		FromApprover: fromApprover,
		ToApprover:   in.DelegateToID,
		Reason:       in.DelegateReason,
	}, nil
}

func applyCancel(_ context.Context, _ *Processor, _ *models.WorkflowDefinition, request *models.ApprovalRequest, _ *models.Step, in ActionInput, now time.Time) (eventbus.Event, error) {
	request.Status = models.RequestStatusCancelled
	request.CompletedAt = &now
	request.CompletedBy = in.ActorID
	request.CurrentApproverID = ""
	request.CurrentStepDue = nil

	return events.RequestCancelled{
		BaseEvent: baseEvent(events.RequestCancelledEvent, request, now),
		ActorID:   in.ActorID,
	}, nil
}

func applyComment(_ context.Context, _ *Processor, _ *models.WorkflowDefinition, request *models.ApprovalRequest, _ *models.Step, in ActionInput, now time.Time) (eventbus.Event, error) {
	return events.RequestCommented{
		BaseEvent: baseEvent(events.RequestCommentedEvent, request, now),
		ActorID:   in.ActorID,
		StepOrder: request.CurrentStepOrder,
	}, nil
}

func applyRequestInfo(_ context.Context, _ *Processor, _ *models.WorkflowDefinition, request *models.ApprovalRequest, _ *models.Step, in ActionInput, now time.Time) (eventbus.Event, error) {
	return events.RequestInfoRequested{
		BaseEvent: baseEvent(events.RequestInfoRequestedEvent, request, now),
		ActorID:   in.ActorID,
		StepOrder: request.CurrentStepOrder,
	}, nil
}

// moveToStep points the request at the given step, re-resolves its approver
// and recomputes the due date from the step's time limit. An unresolvable
// approver leaves the approver empty and is reported to the caller; the
// transition itself proceeds.
func moveToStep(ctx context.Context, p *Processor, request *models.ApprovalRequest, step *models.Step, now time.Time) error {
	due := step.DueDate(now)

	request.CurrentStepOrder = step.Order
	request.CurrentStepDue = &due
	request.CurrentApproverID = ""

	approver, err := p.resolver.Resolve(ctx, step)
	if err != nil {
		return err
	}

	request.CurrentApproverID = approver

	return nil
}

func baseEvent(eventType events.EventType, request *models.ApprovalRequest, now time.Time) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  now,
		RequestID:  request.ID,
		WorkflowID: request.WorkflowID,
	}
}

// publish sends a lifecycle event after the transition committed. Failures
// are logged and swallowed.
func (p *Processor) publish(ctx context.Context, key string, event eventbus.Event) {
	if p.eventBus == nil || event == nil {
		return
	}

	err := p.eventBus.Publish(ctx, key, event)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to publish action event",
			"event_type", event.GetType(), "request_id", key, "error", err)
	}
}
