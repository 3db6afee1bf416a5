package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/procurio/approvalflow/pkg/models"
	"github.com/procurio/approvalflow/pkg/persistence"
)

// Workflow manages workflow definitions and their steps.
type Workflow struct {
	persistence persistence.Persistence
}

// NewWorkflow creates a new workflow definition service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{persistence: persistence}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create adds a new workflow definition. Step orders are normalized to a
// contiguous 1..N sequence; the workflow starts inactive.
func (w *Workflow) Create(ctx context.Context, workflow *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.Active = false
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	normalizeSteps(workflow.ID, workflow.Steps)

	err := validateSteps(workflow.Steps)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// FetchByID retrieves a workflow definition by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// List retrieves all workflow definitions, highest priority first.
func (w *Workflow) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return w.persistence.WorkflowRepository().List(ctx)
}

// Update replaces the step list of an existing workflow. Orders are
// re-normalized to 1..N. Like DeleteStep, it is rejected when the new list
// would drop the step an in-flight request currently points at.
func (w *Workflow) Update(ctx context.Context, workflowID string, steps []*models.Step) (*models.WorkflowDefinition, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	normalizeSteps(workflow.ID, steps)

	err = validateSteps(steps)
	if err != nil {
		return nil, err
	}

	inFlight, err := w.persistence.RequestRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests for workflow %s: %w", workflowID, err)
	}

	for _, request := range inFlight {
		if request.Status == models.RequestStatusInProgress && request.CurrentStepOrder > len(steps) {
			return nil, NewServiceError("Update", request.ID, request.CurrentStepOrder, "", ErrStepInUse)
		}
	}

	workflow.Steps = steps
	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Activate marks a workflow definition as active so requests can be created
// against it. A workflow without steps cannot be activated.
func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if len(workflow.Steps) == 0 {
		return nil, NewServiceError("Activate", "", 0, "workflow "+workflowID, ErrNoStepsDefined)
	}

	workflow.Active = true
	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to activate workflow: %w", err)
	}

	return workflow, nil
}

// Deactivate marks a workflow definition as inactive. In-flight requests
// keep executing; new requests cannot be created against it.
func (w *Workflow) Deactivate(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.Active = false
	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate workflow: %w", err)
	}

	return workflow, nil
}

// AddStep appends a step to the workflow. When the requested order collides
// with an existing step, later steps shift up; orders are re-normalized to
// 1..N either way.
func (w *Workflow) AddStep(ctx context.Context, workflowID string, step *models.Step) (*models.WorkflowDefinition, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if step.Order <= 0 || step.Order > len(workflow.Steps) {
		step.Order = len(workflow.Steps) + 1
	}

	// Make room at the requested position before normalization.
	for _, existing := range workflow.Steps {
		if existing.Order >= step.Order {
			existing.Order++
		}
	}

	workflow.Steps = append(workflow.Steps, step)

	return w.saveSteps(ctx, workflow)
}

// UpdateStep replaces the step at the given order.
func (w *Workflow) UpdateStep(ctx context.Context, workflowID string, order int, step *models.Step) (*models.WorkflowDefinition, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	existing := workflow.StepByOrder(order)
	if existing == nil {
		return nil, NewServiceError("UpdateStep", "", order, "workflow "+workflowID, ErrStepNotFound)
	}

	step.Order = order

	for i, candidate := range workflow.Steps {
		if candidate.Order == order {
			workflow.Steps[i] = step

			break
		}
	}

	return w.saveSteps(ctx, workflow)
}

// DeleteStep removes the step at the given order and shifts later steps
// down. It is rejected when any in-flight request currently points at the
// step: those requests must finish against the step shape they started with.
func (w *Workflow) DeleteStep(ctx context.Context, workflowID string, order int) (*models.WorkflowDefinition, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.StepByOrder(order) == nil {
		return nil, NewServiceError("DeleteStep", "", order, "workflow "+workflowID, ErrStepNotFound)
	}

	inFlight, err := w.persistence.RequestRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests for workflow %s: %w", workflowID, err)
	}

	for _, request := range inFlight {
		if request.Status == models.RequestStatusInProgress && request.CurrentStepOrder == order {
			return nil, NewServiceError("DeleteStep", request.ID, order, "", ErrStepInUse)
		}
	}

	steps := make([]*models.Step, 0, len(workflow.Steps)-1)

	for _, step := range workflow.Steps {
		if step.Order != order {
			steps = append(steps, step)
		}
	}

	workflow.Steps = steps

	return w.saveSteps(ctx, workflow)
}

// Delete removes a workflow definition by its ID.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	_, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return err
	}

	err = w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

func (w *Workflow) saveSteps(ctx context.Context, workflow *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	normalizeSteps(workflow.ID, workflow.Steps)

	err := validateSteps(workflow.Steps)
	if err != nil {
		return nil, err
	}

	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow steps: %w", err)
	}

	return workflow, nil
}

// normalizeSteps sorts steps by their requested order and reassigns a
// contiguous 1..N sequence, so deleting step 3 of 5 shifts steps 4 and 5
// down by one. The sort is stable: steps sharing a requested order keep
// their relative position.
func normalizeSteps(workflowID string, steps []*models.Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})

	for i, step := range steps {
		step.WorkflowID = workflowID
		step.Order = i + 1
	}
}

// validateSteps enforces the definition invariants: at least one step, a
// valid required role and a positive time limit on every step, and strictly
// contiguous orders. The order check cannot fail after normalizeSteps, but
// stays as a guard for callers that skip it.
func validateSteps(steps []*models.Step) error {
	if len(steps) == 0 {
		return ErrNoStepsDefined
	}

	seen := make(map[int]bool, len(steps))

	for _, step := range steps {
		if !step.RequiredRole.Valid() {
			return NewServiceError("validateSteps", "", step.Order, string(step.RequiredRole), ErrMissingRequiredRole)
		}

		if step.TimeLimitDays <= 0 {
			return NewServiceError("validateSteps", "", step.Order, fmt.Sprintf("time limit %d", step.TimeLimitDays), ErrInvalidTimeLimit)
		}

		if seen[step.Order] {
			return NewServiceError("validateSteps", "", step.Order, "", ErrDuplicateStepOrder)
		}

		seen[step.Order] = true
	}

	for order := 1; order <= len(steps); order++ {
		if !seen[order] {
			return NewServiceError("validateSteps", "", order, "missing order in sequence", ErrDuplicateStepOrder)
		}
	}

	return nil
}
