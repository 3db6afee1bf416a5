package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurio/approvalflow/pkg/models"
	"github.com/procurio/approvalflow/pkg/persistence/file"
)

func contractSteps() []*models.Step {
	return []*models.Step{
		{
			Order:         1,
			Name:          "Branch review",
			RequiredRole:  models.RoleBranchManager,
			IsRequired:    true,
			TimeLimitDays: 3,
			CanReject:     true,
		},
		{
			Order:         2,
			Name:          "Financial review",
			RequiredRole:  models.RoleFinancialManager,
			IsRequired:    true,
			TimeLimitDays: 5,
			CanReject:     true,
			CanReturn:     true,
		},
	}
}

func TestNewWorkflow(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	assert.NotNil(t, service)
	assert.Equal(t, persistence, service.persistence)
}

func TestWorkflow_Create(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Contract Approval",
		Description: "Approval chain for supplier contracts",
		Category:    "contract",
		Steps:       contractSteps(),
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.Active)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Len(t, created.Steps, 2)

	for i, step := range created.Steps {
		assert.Equal(t, i+1, step.Order)
		assert.Equal(t, created.ID, step.WorkflowID)
	}
}

func TestWorkflow_Create_NormalizesGappyOrders(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	steps := contractSteps()
	steps[0].Order = 10
	steps[1].Order = 40

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Gappy Orders",
		Description: "Orders get renumbered",
		Category:    "contract",
		Steps:       steps,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, created.Steps[0].Order)
	assert.Equal(t, "Branch review", created.Steps[0].Name)
	assert.Equal(t, 2, created.Steps[1].Order)
	assert.Equal(t, "Financial review", created.Steps[1].Name)
}

func TestWorkflow_Create_Validation(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	t.Run("no steps", func(t *testing.T) {
		_, err := service.Create(t.Context(), &models.WorkflowDefinition{
			Name:        "Empty",
			Description: "No steps",
			Category:    "misc",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoStepsDefined)
		assert.True(t, IsValidationError(err))
	})

	t.Run("unknown role", func(t *testing.T) {
		steps := contractSteps()
		steps[1].RequiredRole = "janitor"

		_, err := service.Create(t.Context(), &models.WorkflowDefinition{
			Name:        "Bad Role",
			Description: "Unknown role",
			Category:    "misc",
			Steps:       steps,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingRequiredRole)
	})

	t.Run("non-positive time limit", func(t *testing.T) {
		steps := contractSteps()
		steps[0].TimeLimitDays = 0

		_, err := service.Create(t.Context(), &models.WorkflowDefinition{
			Name:        "Bad Limit",
			Description: "Zero time limit",
			Category:    "misc",
			Steps:       steps,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidTimeLimit)
	})

	t.Run("nil workflow", func(t *testing.T) {
		_, err := service.Create(t.Context(), nil)
		assert.ErrorIs(t, err, ErrWorkflowNil)
	})
}

func TestWorkflow_ActivateRequiresSteps(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Contract Approval",
		Description: "Approval chain",
		Category:    "contract",
		Steps:       contractSteps(),
	})
	require.NoError(t, err)

	activated, err := service.Activate(t.Context(), created.ID)
	require.NoError(t, err)
	assert.True(t, activated.Active)

	deactivated, err := service.Deactivate(t.Context(), created.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)
}

func TestWorkflow_AddStep(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Contract Approval",
		Description: "Approval chain",
		Category:    "contract",
		Steps:       contractSteps(),
	})
	require.NoError(t, err)

	t.Run("append at end", func(t *testing.T) {
		updated, err := service.AddStep(t.Context(), created.ID, &models.Step{
			Name:          "Final sign-off",
			RequiredRole:  models.RoleGeneralManager,
			TimeLimitDays: 2,
		})
		require.NoError(t, err)
		require.Len(t, updated.Steps, 3)
		assert.Equal(t, "Final sign-off", updated.Steps[2].Name)
		assert.Equal(t, 3, updated.Steps[2].Order)
	})

	t.Run("insert in the middle shifts later steps", func(t *testing.T) {
		updated, err := service.AddStep(t.Context(), created.ID, &models.Step{
			Order:         2,
			Name:          "Legal review",
			RequiredRole:  models.RoleLegalOfficer,
			TimeLimitDays: 4,
		})
		require.NoError(t, err)
		require.Len(t, updated.Steps, 4)

		names := make([]string, 0, len(updated.Steps))
		for i, step := range updated.Steps {
			assert.Equal(t, i+1, step.Order)
			names = append(names, step.Name)
		}

		assert.Equal(t, []string{"Branch review", "Legal review", "Financial review", "Final sign-off"}, names)
	})
}

func TestWorkflow_UpdateStep(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Contract Approval",
		Description: "Approval chain",
		Category:    "contract",
		Steps:       contractSteps(),
	})
	require.NoError(t, err)

	updated, err := service.UpdateStep(t.Context(), created.ID, 2, &models.Step{
		Name:          "Financial deep review",
		RequiredRole:  models.RoleFinancialManager,
		TimeLimitDays: 7,
		CanReject:     true,
	})
	require.NoError(t, err)

	step := updated.StepByOrder(2)
	require.NotNil(t, step)
	assert.Equal(t, "Financial deep review", step.Name)
	assert.Equal(t, 7, step.TimeLimitDays)

	_, err = service.UpdateStep(t.Context(), created.ID, 9, &models.Step{
		Name:          "Ghost",
		RequiredRole:  models.RoleLegalOfficer,
		TimeLimitDays: 1,
	})
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestWorkflow_DeleteStep_Renormalizes(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	steps := contractSteps()
	steps = append(steps, &models.Step{
		Order:         3,
		Name:          "Final sign-off",
		RequiredRole:  models.RoleGeneralManager,
		TimeLimitDays: 2,
	})

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Contract Approval",
		Description: "Approval chain",
		Category:    "contract",
		Steps:       steps,
	})
	require.NoError(t, err)

	updated, err := service.DeleteStep(t.Context(), created.ID, 2)
	require.NoError(t, err)
	require.Len(t, updated.Steps, 2)

	assert.Equal(t, 1, updated.Steps[0].Order)
	assert.Equal(t, "Branch review", updated.Steps[0].Name)
	assert.Equal(t, 2, updated.Steps[1].Order)
	assert.Equal(t, "Final sign-off", updated.Steps[1].Name)
}

func TestWorkflow_DeleteStep_BlockedByInFlightRequest(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Contract Approval",
		Description: "Approval chain",
		Category:    "contract",
		Steps:       contractSteps(),
	})
	require.NoError(t, err)

	request := &models.ApprovalRequest{
		ID:               "req-1",
		WorkflowID:       created.ID,
		EntityID:         "tender-1",
		EntityType:       "tender",
		Title:            "Office supplies tender",
		Status:           models.RequestStatusInProgress,
		CurrentStepOrder: 2,
	}
	require.NoError(t, persistence.RequestRepository().Create(t.Context(), request))

	_, err = service.DeleteStep(t.Context(), created.ID, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepInUse)
	assert.True(t, IsConflictError(err))

	// The step the request is not sitting on can still go.
	updated, err := service.DeleteStep(t.Context(), created.ID, 1)
	require.NoError(t, err)
	assert.Len(t, updated.Steps, 1)
}

func TestWorkflow_Update_BlockedByInFlightRequest(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Contract Approval",
		Description: "Approval chain",
		Category:    "contract",
		Steps:       contractSteps(),
	})
	require.NoError(t, err)

	request := &models.ApprovalRequest{
		ID:               "req-1",
		WorkflowID:       created.ID,
		EntityID:         "tender-1",
		EntityType:       "tender",
		Title:            "Office supplies tender",
		Status:           models.RequestStatusInProgress,
		CurrentStepOrder: 2,
	}
	require.NoError(t, persistence.RequestRepository().Create(t.Context(), request))

	// A one-step list would leave the request pointing past the end.
	_, err = service.Update(t.Context(), created.ID, contractSteps()[:1])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepInUse)
	assert.True(t, IsConflictError(err))

	// Keeping at least as many steps as the request has reached is fine.
	steps := contractSteps()
	steps[1].Name = "Financial deep review"

	updated, err := service.Update(t.Context(), created.ID, steps)
	require.NoError(t, err)
	require.Len(t, updated.Steps, 2)
	assert.Equal(t, "Financial deep review", updated.Steps[1].Name)
}

func TestWorkflow_Delete(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	created, err := service.Create(t.Context(), &models.WorkflowDefinition{
		Name:        "Contract Approval",
		Description: "Approval chain",
		Category:    "contract",
		Steps:       contractSteps(),
	})
	require.NoError(t, err)

	require.NoError(t, service.Delete(t.Context(), created.ID))

	_, err = service.FetchByID(t.Context(), created.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}
