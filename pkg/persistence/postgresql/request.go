package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/procurio/approvalflow/pkg/models"
	"github.com/procurio/approvalflow/pkg/persistence"
)

// RequestRepository handles approval request and action log database
// operations.
type RequestRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(db *sql.DB, logger *slog.Logger) *RequestRepository {
	return &RequestRepository{db: db, logger: logger}
}

const requestColumns = `
	id
  , workflow_id
  , entity_id
  , entity_type
  , title
  , COALESCE(description, '')
  , status
  , current_step_order
  , COALESCE(current_approver_id, '')
  , current_step_due
  , completed_at
  , COALESCE(completed_by, '')
  , COALESCE(completion_notes, '')
  , COALESCE(rejection_reason, '')
  , version
  , created_at
  , updated_at
`

// Create inserts a new approval request.
func (r *RequestRepository) Create(ctx context.Context, request *models.ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests (
			id, workflow_id, entity_id, entity_type, title, description,
			status, current_step_order, current_approver_id, current_step_due,
			completed_at, completed_by, completion_notes, rejection_reason,
			version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''), $15, $16, $17)
	`

	_, err := r.db.ExecContext(ctx, query,
		request.ID,
		request.WorkflowID,
		request.EntityID,
		request.EntityType,
		request.Title,
		request.Description,
		string(request.Status),
		request.CurrentStepOrder,
		request.CurrentApproverID,
		request.CurrentStepDue,
		request.CompletedAt,
		request.CompletedBy,
		request.CompletionNotes,
		request.RejectionReason,
		request.Version,
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRequestError("Create", request.ID, err)
	}

	return nil
}

// GetByID returns an approval request, or nil when it does not exist.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := "SELECT " + requestColumns + " FROM approval_requests WHERE id = $1"

	request, err := r.scanRequest(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query request %s: %w", id, err)
	}

	return request, nil
}

// List returns all approval requests, oldest first.
func (r *RequestRepository) List(ctx context.Context) ([]*models.ApprovalRequest, error) {
	query := "SELECT " + requestColumns + " FROM approval_requests ORDER BY created_at ASC"

	return r.queryRequests(ctx, query)
}

// ListByStatus returns all requests with the given status.
func (r *RequestRepository) ListByStatus(ctx context.Context, status models.RequestStatus) ([]*models.ApprovalRequest, error) {
	query := "SELECT " + requestColumns + " FROM approval_requests WHERE status = $1 ORDER BY created_at ASC"

	return r.queryRequests(ctx, query, string(status))
}

// ListByWorkflow returns all requests created against the given workflow.
func (r *RequestRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ApprovalRequest, error) {
	query := "SELECT " + requestColumns + " FROM approval_requests WHERE workflow_id = $1 ORDER BY created_at ASC"

	return r.queryRequests(ctx, query, workflowID)
}

// ListOverdue returns all in-progress requests whose current step due date
// has passed as of the given time.
func (r *RequestRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]*models.ApprovalRequest, error) {
	query := "SELECT " + requestColumns + ` FROM approval_requests
		WHERE status = 'in_progress' AND current_step_due IS NOT NULL AND current_step_due < $1
		ORDER BY current_step_due ASC`

	return r.queryRequests(ctx, query, asOf)
}

// Update persists a request mutation without an action record, enforcing the
// optimistic version check.
func (r *RequestRepository) Update(ctx context.Context, request *models.ApprovalRequest) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	err = r.updateRequest(ctx, tx, request)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit request %s: %w", request.ID, err)
	}

	return nil
}

// SaveWithAction persists a request mutation and appends the action record
// that produced it in one transaction, enforcing the optimistic version
// check. A partial write is impossible: either both land or neither does.
func (r *RequestRepository) SaveWithAction(ctx context.Context, request *models.ApprovalRequest, action *models.ApprovalAction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	err = r.updateRequest(ctx, tx, request)
	if err != nil {
		return err
	}

	insertAction := `
		INSERT INTO approval_actions (
			id, request_id, step_order, actor_id, action_type, comments,
			delegate_to_id, delegate_reason, created_at
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)
	`

	_, err = tx.ExecContext(ctx, insertAction,
		action.ID,
		action.RequestID,
		action.StepOrder,
		action.ActorID,
		string(action.Type),
		action.Comments,
		action.DelegateToID,
		action.DelegateReason,
		action.CreatedAt,
	)
	if err != nil {
		return persistence.NewRequestError("SaveWithAction", request.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit request %s: %w", request.ID, err)
	}

	return nil
}

// updateRequest runs the version-guarded UPDATE and bumps the version on the
// in-memory request to match what was written.
func (r *RequestRepository) updateRequest(ctx context.Context, tx *sql.Tx, request *models.ApprovalRequest) error {
	query := `
		UPDATE approval_requests SET
			status = $1,
			current_step_order = $2,
			current_approver_id = NULLIF($3, ''),
			current_step_due = $4,
			completed_at = $5,
			completed_by = NULLIF($6, ''),
			completion_notes = NULLIF($7, ''),
			rejection_reason = NULLIF($8, ''),
			version = version + 1,
			updated_at = $9
		WHERE id = $10 AND version = $11
	`

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx, query,
		string(request.Status),
		request.CurrentStepOrder,
		request.CurrentApproverID,
		request.CurrentStepDue,
		request.CompletedAt,
		request.CompletedBy,
		request.CompletionNotes,
		request.RejectionReason,
		now,
		request.ID,
		request.Version,
	)
	if err != nil {
		return persistence.NewRequestError("Update", request.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRequestError("Update", request.ID, err)
	}

	if affected == 0 {
		var exists bool

		err = tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM approval_requests WHERE id = $1)", request.ID).Scan(&exists)
		if err != nil {
			return persistence.NewRequestError("Update", request.ID, err)
		}

		if !exists {
			return persistence.NewRequestError("Update", request.ID, persistence.ErrRequestNotFound)
		}

		return persistence.NewRequestError("Update", request.ID, persistence.ErrVersionConflict)
	}

	request.Version++
	request.UpdatedAt = now

	return nil
}

// ActionsByRequest returns the action log for a request, oldest first.
func (r *RequestRepository) ActionsByRequest(ctx context.Context, requestID string) ([]*models.ApprovalAction, error) {
	query := actionQuery + " WHERE request_id = $1 ORDER BY created_at ASC"

	return r.queryActions(ctx, query, requestID)
}

// ListActions returns every stored action across all requests, oldest first.
func (r *RequestRepository) ListActions(ctx context.Context) ([]*models.ApprovalAction, error) {
	query := actionQuery + " ORDER BY created_at ASC"

	return r.queryActions(ctx, query)
}

const actionQuery = `
	SELECT
		id
	  , request_id
	  , step_order
	  , actor_id
	  , action_type
	  , COALESCE(comments, '')
	  , COALESCE(delegate_to_id, '')
	  , COALESCE(delegate_reason, '')
	  , created_at
	FROM approval_actions
`

func (r *RequestRepository) queryActions(ctx context.Context, query string, args ...any) ([]*models.ApprovalAction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	actions := make([]*models.ApprovalAction, 0)

	for rows.Next() {
		action := &models.ApprovalAction{}

		err := rows.Scan(
			&action.ID,
			&action.RequestID,
			&action.StepOrder,
			&action.ActorID,
			&action.Type,
			&action.Comments,
			&action.DelegateToID,
			&action.DelegateReason,
			&action.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}

		actions = append(actions, action)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return actions, nil
}

func (r *RequestRepository) queryRequests(ctx context.Context, query string, args ...any) ([]*models.ApprovalRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	requests := make([]*models.ApprovalRequest, 0)

	for rows.Next() {
		request, err := r.scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}

		requests = append(requests, request)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}

	return requests, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *RequestRepository) scanRequest(row rowScanner) (*models.ApprovalRequest, error) {
	request := &models.ApprovalRequest{}

	err := row.Scan(
		&request.ID,
		&request.WorkflowID,
		&request.EntityID,
		&request.EntityType,
		&request.Title,
		&request.Description,
		&request.Status,
		&request.CurrentStepOrder,
		&request.CurrentApproverID,
		&request.CurrentStepDue,
		&request.CompletedAt,
		&request.CompletedBy,
		&request.CompletionNotes,
		&request.RejectionReason,
		&request.Version,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return request, nil
}
