package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurio/approvalflow/pkg/models"
	"github.com/procurio/approvalflow/pkg/persistence"
)

// startRequest creates and starts a request against the given workflow.
func (e *testEngine) startRequest(t *testing.T, workflowID string) *models.ApprovalRequest {
	t.Helper()

	request := e.createRequest(t, workflowID)

	started, err := e.requests.Start(t.Context(), request.ID)
	require.NoError(t, err)

	return started
}

func TestProcessor_ApproveAdvancesToNextStep(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	before := time.Now().UTC()

	updated, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionApprove,
		ActorID:   "branch-bob",
		Comments:  "Looks fine",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusInProgress, updated.Status)
	assert.Equal(t, 2, updated.CurrentStepOrder)
	assert.Equal(t, "fin-frank", updated.CurrentApproverID)

	require.NotNil(t, updated.CurrentStepDue)
	assert.WithinDuration(t, before.Add(5*24*time.Hour), *updated.CurrentStepDue, time.Minute)
}

func TestProcessor_ApproveLastStepCompletes(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	_, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionApprove,
		ActorID:   "branch-bob",
	})
	require.NoError(t, err)

	updated, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionApprove,
		ActorID:   "fin-frank",
		Comments:  "Budget confirmed",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusApproved, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, "fin-frank", updated.CompletedBy)
	assert.Equal(t, "Budget confirmed", updated.CompletionNotes)
	assert.Empty(t, updated.CurrentApproverID)
	assert.Nil(t, updated.CurrentStepDue)

	// Terminal requests accept no further actions.
	_, err = engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionApprove,
		ActorID:   "fin-frank",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestProcessor_RejectStoresReason(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	_, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionApprove,
		ActorID:   "branch-bob",
	})
	require.NoError(t, err)

	updated, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionReject,
		ActorID:   "fin-frank",
		Comments:  "Budget exceeds threshold",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusRejected, updated.Status)
	assert.Equal(t, "Budget exceeds threshold", updated.RejectionReason)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, "fin-frank", updated.CompletedBy)

	actions, err := engine.requests.Actions(t.Context(), request.ID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, models.ActionApprove, actions[0].Type)
	assert.Equal(t, 1, actions[0].StepOrder)
	assert.Equal(t, models.ActionReject, actions[1].Type)
	assert.Equal(t, 2, actions[1].StepOrder)
}

func TestProcessor_DelegateKeepsStepAndDueDate(t *testing.T) {
	engine := newTestEngine(t)

	created, err := engine.workflows.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Delegable Review",
		Description: "Branch review with delegation",
		Category:    "contract",
		Steps: []*models.Step{
			{Order: 1, Name: "Branch review", RequiredRole: models.RoleBranchManager, TimeLimitDays: 3, CanDelegate: true},
		},
	})
	require.NoError(t, err)
	_, err = engine.workflows.Activate(t.Context(), created.ID)
	require.NoError(t, err)

	request := engine.startRequest(t, created.ID)
	dueBefore := *request.CurrentStepDue

	updated, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID:      request.ID,
		Type:           models.ActionDelegate,
		ActorID:        "branch-bob",
		DelegateToID:   "branch-alice",
		DelegateReason: "On leave",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusInProgress, updated.Status)
	assert.Equal(t, 1, updated.CurrentStepOrder)
	assert.Equal(t, "branch-alice", updated.CurrentApproverID)
	require.NotNil(t, updated.CurrentStepDue)
	assert.True(t, updated.CurrentStepDue.Equal(dueBefore))

	actions, err := engine.requests.Actions(t.Context(), request.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "branch-alice", actions[0].DelegateToID)
	assert.Equal(t, "On leave", actions[0].DelegateReason)
}

func TestProcessor_DelegateRequiresTarget(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	_, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionDelegate,
		ActorID:   "branch-bob",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDelegateTargetMissing)
	assert.True(t, IsValidationError(err))
}

func TestProcessor_ReturnMovesBackOneStep(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	_, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionApprove,
		ActorID:   "branch-bob",
	})
	require.NoError(t, err)

	before := time.Now().UTC()

	updated, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionReturn,
		ActorID:   "fin-frank",
		Comments:  "Missing cost breakdown",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusInProgress, updated.Status)
	assert.Equal(t, 1, updated.CurrentStepOrder)
	assert.Equal(t, "branch-bob", updated.CurrentApproverID)

	// Due date recomputed from step 1's three day limit.
	require.NotNil(t, updated.CurrentStepDue)
	assert.WithinDuration(t, before.Add(3*24*time.Hour), *updated.CurrentStepDue, time.Minute)
}

func TestProcessor_ReturnAtFirstStepFails(t *testing.T) {
	engine := newTestEngine(t)

	created, err := engine.workflows.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Returnable First Step",
		Description: "Single step allowing return",
		Category:    "contract",
		Steps: []*models.Step{
			{Order: 1, Name: "Branch review", RequiredRole: models.RoleBranchManager, TimeLimitDays: 3, CanReturn: true},
		},
	})
	require.NoError(t, err)
	_, err = engine.workflows.Activate(t.Context(), created.ID)
	require.NoError(t, err)

	request := engine.startRequest(t, created.ID)

	_, err = engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionReturn,
		ActorID:   "branch-bob",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestProcessor_CapabilityGating(t *testing.T) {
	engine := newTestEngine(t)

	// Step 1 allows nothing beyond approve.
	created, err := engine.workflows.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Locked Down",
		Description: "No optional capabilities",
		Category:    "contract",
		Steps: []*models.Step{
			{Order: 1, Name: "Branch review", RequiredRole: models.RoleBranchManager, TimeLimitDays: 3},
			{Order: 2, Name: "Financial review", RequiredRole: models.RoleFinancialManager, TimeLimitDays: 5},
		},
	})
	require.NoError(t, err)
	_, err = engine.workflows.Activate(t.Context(), created.ID)
	require.NoError(t, err)

	request := engine.startRequest(t, created.ID)

	for _, action := range []ActionInput{
		{RequestID: request.ID, Type: models.ActionReject, ActorID: "branch-bob", Comments: "no"},
		{RequestID: request.ID, Type: models.ActionDelegate, ActorID: "branch-bob", DelegateToID: "branch-alice"},
		{RequestID: request.ID, Type: models.ActionReturn, ActorID: "branch-bob"},
	} {
		_, err := engine.processor.ProcessAction(t.Context(), action)
		require.Error(t, err, "action %s must be gated", action.Type)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}

	// The request is untouched by the rejected attempts.
	stored, err := engine.requests.FetchByID(t.Context(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentStepOrder)
	assert.Equal(t, models.RequestStatusInProgress, stored.Status)

	actions, err := engine.requests.Actions(t.Context(), request.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestProcessor_UnauthorizedActor(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	// fin-frank holds a role but is not the current approver.
	_, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionApprove,
		ActorID:   "fin-frank",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, IsUnauthorized(err))
}

func TestProcessor_CancelFromPending(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.createRequest(t, workflow.ID)

	updated, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionCancel,
		ActorID:   "requester-rita",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusCancelled, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, "requester-rita", updated.CompletedBy)
}

func TestProcessor_CancelInProgress(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	updated, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionCancel,
		ActorID:   "requester-rita",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, updated.Status)

	// Cancel on a terminal request fails.
	_, err = engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionCancel,
		ActorID:   "requester-rita",
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestProcessor_CommentLeavesStateUntouched(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	updated, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionComment,
		ActorID:   "branch-bob",
		Comments:  "Waiting on the vendor quote",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusInProgress, updated.Status)
	assert.Equal(t, 1, updated.CurrentStepOrder)
	assert.Equal(t, "branch-bob", updated.CurrentApproverID)

	actions, err := engine.requests.Actions(t.Context(), request.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionComment, actions[0].Type)
	assert.Equal(t, "Waiting on the vendor quote", actions[0].Comments)
}

func TestProcessor_RequiredUserOverridesRole(t *testing.T) {
	engine := newTestEngine(t)

	created, err := engine.workflows.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Named Approver",
		Description: "Specific approver overrides role resolution",
		Category:    "contract",
		Steps: []*models.Step{
			{
				Order:          1,
				Name:           "Branch review",
				RequiredRole:   models.RoleBranchManager,
				RequiredUserID: "branch-alice",
				TimeLimitDays:  3,
			},
		},
	})
	require.NoError(t, err)
	_, err = engine.workflows.Activate(t.Context(), created.ID)
	require.NoError(t, err)

	request := engine.startRequest(t, created.ID)
	assert.Equal(t, "branch-alice", request.CurrentApproverID)
}

func TestProcessor_InvalidActionType(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	_, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      "escalate",
		ActorID:   "branch-bob",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidActionType)
}

func TestProcessor_UnknownRequest(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: "missing",
		Type:      models.ActionApprove,
		ActorID:   "branch-bob",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestProcessor_AuditCompleteness(t *testing.T) {
	engine := newTestEngine(t)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	inputs := []ActionInput{
		{RequestID: request.ID, Type: models.ActionComment, ActorID: "branch-bob", Comments: "Reviewing"},
		{RequestID: request.ID, Type: models.ActionApprove, ActorID: "branch-bob"},
		{RequestID: request.ID, Type: models.ActionRequestInfo, ActorID: "fin-frank", Comments: "Need the quote"},
		{RequestID: request.ID, Type: models.ActionApprove, ActorID: "fin-frank"},
	}

	for _, in := range inputs {
		_, err := engine.processor.ProcessAction(t.Context(), in)
		require.NoError(t, err)
	}

	actions, err := engine.requests.Actions(t.Context(), request.ID)
	require.NoError(t, err)
	require.Len(t, actions, len(inputs))

	// Each record references the step that was active at the time.
	expectedSteps := []int{1, 1, 2, 2}
	for i, action := range actions {
		assert.Equal(t, inputs[i].Type, action.Type)
		assert.Equal(t, expectedSteps[i], action.StepOrder)
		assert.NotEmpty(t, action.ID)
	}

	final, err := engine.requests.FetchByID(t.Context(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, final.Status)
}

// conflictingPersistence fails SaveWithAction with a version conflict a set
// number of times before delegating to the real repository.
type conflictingPersistence struct {
	persistence.Persistence

	requests *conflictingRequests
}

func (p *conflictingPersistence) RequestRepository() persistence.RequestRepository {
	return p.requests
}

type conflictingRequests struct {
	persistence.RequestRepository

	conflicts int
}

func (r *conflictingRequests) SaveWithAction(ctx context.Context, request *models.ApprovalRequest, action *models.ApprovalAction) error {
	if r.conflicts > 0 {
		r.conflicts--

		return persistence.NewRequestError("SaveWithAction", request.ID, persistence.ErrVersionConflict)
	}

	return r.RequestRepository.SaveWithAction(ctx, request, action)
}

func newConflictingEngine(t *testing.T, conflicts int) *testEngine {
	t.Helper()

	engine := newTestEngine(t)
	engine.persistence = &conflictingPersistence{
		Persistence: engine.persistence,
		requests: &conflictingRequests{
			RequestRepository: engine.persistence.RequestRepository(),
			conflicts:         conflicts,
		},
	}

	resolver := NewStepResolver(engine.directory)
	engine.processor = NewProcessor(engine.persistence, engine.directory, resolver, nil, slog.Default())

	return engine
}

func TestProcessor_LostRaceRetriesOnce(t *testing.T) {
	engine := newConflictingEngine(t, 1)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	updated, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionApprove,
		ActorID:   "branch-bob",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentStepOrder)
}

func TestProcessor_SecondLostRaceSurfacesConflict(t *testing.T) {
	engine := newConflictingEngine(t, 2)
	workflow := engine.createActiveWorkflow(t)
	request := engine.startRequest(t, workflow.ID)

	_, err := engine.processor.ProcessAction(t.Context(), ActionInput{
		RequestID: request.ID,
		Type:      models.ActionApprove,
		ActorID:   "branch-bob",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.True(t, IsConflictError(err))

	// The losing caller left no trace.
	actions, err := engine.requests.Actions(t.Context(), request.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
}
