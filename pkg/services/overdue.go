package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/procurio/approvalflow/pkg/eventbus"
	"github.com/procurio/approvalflow/pkg/events"
	"github.com/procurio/approvalflow/pkg/models"
	"github.com/procurio/approvalflow/pkg/otelhelper"
	"github.com/procurio/approvalflow/pkg/persistence"
)

// OverdueDetector scans for in-progress requests whose current step has
// passed its due date. Detection is read only: the request stays in progress
// and its approver unchanged, only a notification event goes out per sweep.
type OverdueDetector struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewOverdueDetector creates a new overdue detector.
func NewOverdueDetector(persistence persistence.Persistence, eventBus eventbus.EventPublisher, logger *slog.Logger) *OverdueDetector {
	return &OverdueDetector{
		persistence: persistence,
		eventBus:    eventBus,
		logger:      logger,
		tracer:      otel.Tracer("approvalflow/overdue"),
	}
}

// ListOverdue returns every in-progress request whose current step due date
// lies before asOf.
func (d *OverdueDetector) ListOverdue(ctx context.Context, asOf time.Time) ([]*models.ApprovalRequest, error) {
	return d.persistence.RequestRepository().ListOverdue(ctx, asOf)
}

// Sweep finds overdue requests as of now and publishes one overdue event
// per request. It returns the requests it flagged.
func (d *OverdueDetector) Sweep(ctx context.Context) ([]*models.ApprovalRequest, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "overdue.Sweep")
	defer span.End()

	now := time.Now().UTC()

	overdue, err := d.persistence.RequestRepository().ListOverdue(ctx, now)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to list overdue requests: %w", err)
	}

	span.SetAttributes(attribute.Int("approvalflow.overdue.count", len(overdue)))

	if len(overdue) > 0 {
		d.logger.InfoContext(ctx, "overdue sweep flagged requests", "count", len(overdue))
	}

	if d.eventBus == nil {
		return overdue, nil
	}

	for _, request := range overdue {
		event := events.RequestOverdue{
			BaseEvent: events.BaseEvent{
				ID:         uuid.New().String(),
				Type:       events.RequestOverdueEvent,
				Timestamp:  now,
				RequestID:  request.ID,
				WorkflowID: request.WorkflowID,
			},
			StepOrder:  request.CurrentStepOrder,
			ApproverID: request.CurrentApproverID,
			DueAt:      *request.CurrentStepDue,
		}

		err = d.eventBus.Publish(ctx, request.ID, event)
		if err != nil {
			d.logger.WarnContext(ctx, "failed to publish overdue event",
				"request_id", request.ID, "error", err)
		}
	}

	return overdue, nil
}
