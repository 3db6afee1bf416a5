package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/procurio/approvalflow/pkg/models"
)

// WorkflowRepository handles workflow definition database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetByID returns a workflow definition with its steps, or nil when it does
// not exist.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , category
		  , active
		  , priority
		  , created_at
		  , updated_at
		FROM workflows
		WHERE id = $1
	`

	workflow := &models.WorkflowDefinition{}

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Category,
		&workflow.Active,
		&workflow.Priority,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}

	err = r.loadSteps(ctx, workflow)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// List returns all workflow definitions ordered by priority, highest first.
func (r *WorkflowRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , category
		  , active
		  , priority
		  , created_at
		  , updated_at
		FROM workflows
		ORDER BY priority DESC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		workflow := &models.WorkflowDefinition{}

		err := rows.Scan(
			&workflow.ID,
			&workflow.Name,
			&workflow.Description,
			&workflow.Category,
			&workflow.Active,
			&workflow.Priority,
			&workflow.CreatedAt,
			&workflow.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		err = r.loadSteps(ctx, workflow)
		if err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

// Save upserts a workflow definition and replaces its steps, as one
// transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.WorkflowDefinition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	upsert := `
		INSERT INTO workflows (id, name, description, category, active, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			active = EXCLUDED.active,
			priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, upsert,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Category,
		workflow.Active,
		workflow.Priority,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to clear steps for workflow %s: %w", workflow.ID, err)
	}

	insertStep := `
		INSERT INTO workflow_steps (
			workflow_id, step_order, name, required_role, required_user_id,
			is_required, time_limit_days, can_delegate, can_reject, can_return
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
	`

	for _, step := range workflow.Steps {
		_, err = tx.ExecContext(ctx, insertStep,
			workflow.ID,
			step.Order,
			step.Name,
			string(step.RequiredRole),
			step.RequiredUserID,
			step.IsRequired,
			step.TimeLimitDays,
			step.CanDelegate,
			step.CanReject,
			step.CanReturn,
		)
		if err != nil {
			return fmt.Errorf("failed to save step %d of workflow %s: %w", step.Order, workflow.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// Delete removes a workflow definition and its steps.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflow *models.WorkflowDefinition) error {
	query := `
		SELECT
			workflow_id
		  , step_order
		  , name
		  , required_role
		  , COALESCE(required_user_id, '')
		  , is_required
		  , time_limit_days
		  , can_delegate
		  , can_reject
		  , can_return
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC
	`

	rows, err := r.db.QueryContext(ctx, query, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps for workflow %s: %w", workflow.ID, err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflow.Steps = make([]*models.Step, 0)

	for rows.Next() {
		step := &models.Step{}

		err := rows.Scan(
			&step.WorkflowID,
			&step.Order,
			&step.Name,
			&step.RequiredRole,
			&step.RequiredUserID,
			&step.IsRequired,
			&step.TimeLimitDays,
			&step.CanDelegate,
			&step.CanReject,
			&step.CanReturn,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		workflow.Steps = append(workflow.Steps, step)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	return nil
}
