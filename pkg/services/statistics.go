package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/procurio/approvalflow/pkg/models"
	"github.com/procurio/approvalflow/pkg/persistence"
)

// EngineStatistics summarizes the state of the engine at a point in time.
type EngineStatistics struct {
	Total           int                            `json:"total"`
	ByStatus        map[models.RequestStatus]int   `json:"by_status"`
	Overdue         int                            `json:"overdue"`
	ByApprover      map[string]ApproverStatistics  `json:"by_approver"`
	AverageDecision map[models.ActionType]Duration `json:"average_decision,omitempty"`
	GeneratedAt     time.Time                      `json:"generated_at"`
}

// ApproverStatistics counts the decisions one user has taken across all
// requests.
type ApproverStatistics struct {
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Returned  int `json:"returned"`
	Delegated int `json:"delegated"`
	Pending   int `json:"pending"`
}

// Duration marshals as whole seconds so statistics stay readable in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%d", time.Duration(d)/time.Second)), nil
}

// Statistics aggregates request and action data into engine-level and
// per-user reports.
type Statistics struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

// NewStatistics creates a new statistics aggregator.
func NewStatistics(persistence persistence.Persistence, logger *slog.Logger) *Statistics {
	return &Statistics{persistence: persistence, logger: logger}
}

// Engine computes engine-wide statistics: per-status totals, the overdue
// backlog, per-approver decision counts and the average time a request
// spends waiting between consecutive decisions.
func (s *Statistics) Engine(ctx context.Context) (*EngineStatistics, error) {
	now := time.Now().UTC()

	requests, err := s.persistence.RequestRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	actions, err := s.persistence.RequestRepository().ListActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	stats := &EngineStatistics{
		Total:       len(requests),
		ByStatus:    make(map[models.RequestStatus]int),
		ByApprover:  make(map[string]ApproverStatistics),
		GeneratedAt: now,
	}

	for _, request := range requests {
		stats.ByStatus[request.Status]++

		if request.Overdue(now) {
			stats.Overdue++
		}

		if request.Status == models.RequestStatusInProgress && request.CurrentApproverID != "" {
			approver := stats.ByApprover[request.CurrentApproverID]
			approver.Pending++
			stats.ByApprover[request.CurrentApproverID] = approver
		}
	}

	for _, action := range actions {
		approver := stats.ByApprover[action.ActorID]

		switch action.Type {
		case models.ActionApprove:
			approver.Approved++
		case models.ActionReject:
			approver.Rejected++
		case models.ActionReturn:
			approver.Returned++
		case models.ActionDelegate:
			approver.Delegated++
		default:
			continue
		}

		stats.ByApprover[action.ActorID] = approver
	}

	stats.AverageDecision = averageDecisionTimes(requests, actions)

	return stats, nil
}

// UserStatistics summarizes one user's workload and history.
type UserStatistics struct {
	UserID      string    `json:"user_id"`
	PendingNow  int       `json:"pending_now"`
	OverdueNow  int       `json:"overdue_now"`
	Approved    int       `json:"approved"`
	Rejected    int       `json:"rejected"`
	Returned    int       `json:"returned"`
	Delegated   int       `json:"delegated"`
	Comments    int       `json:"comments"`
	GeneratedAt time.Time `json:"generated_at"`
}

// User computes decision history and current workload for one user.
func (s *Statistics) User(ctx context.Context, userID string) (*UserStatistics, error) {
	now := time.Now().UTC()

	requests, err := s.persistence.RequestRepository().ListByStatus(ctx, models.RequestStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-progress requests: %w", err)
	}

	actions, err := s.persistence.RequestRepository().ListActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	stats := &UserStatistics{UserID: userID, GeneratedAt: now}

	for _, request := range requests {
		if request.CurrentApproverID != userID {
			continue
		}

		stats.PendingNow++

		if request.Overdue(now) {
			stats.OverdueNow++
		}
	}

	for _, action := range actions {
		if action.ActorID != userID {
			continue
		}

		switch action.Type {
		case models.ActionApprove:
			stats.Approved++
		case models.ActionReject:
			stats.Rejected++
		case models.ActionReturn:
			stats.Returned++
		case models.ActionDelegate:
			stats.Delegated++
		case models.ActionComment, models.ActionRequestInfo:
			stats.Comments++
		}
	}

	return stats, nil
}

// averageDecisionTimes measures, per action type, the mean gap between
// consecutive actions on the same request, attributed to the later action.
// Only resolved requests contribute, so a stuck backlog cannot drag the
// averages.
func averageDecisionTimes(requests []*models.ApprovalRequest, actions []*models.ApprovalAction) map[models.ActionType]Duration {
	resolved := make(map[string]bool)

	for _, request := range requests {
		if request.Status.Terminal() {
			resolved[request.ID] = true
		}
	}

	byRequest := make(map[string][]*models.ApprovalAction)

	for _, action := range actions {
		if resolved[action.RequestID] {
			byRequest[action.RequestID] = append(byRequest[action.RequestID], action)
		}
	}

	totals := make(map[models.ActionType]time.Duration)
	counts := make(map[models.ActionType]int)

	for _, requestActions := range byRequest {
		sort.Slice(requestActions, func(i, j int) bool {
			return requestActions[i].CreatedAt.Before(requestActions[j].CreatedAt)
		})

		for i := 1; i < len(requestActions); i++ {
			action := requestActions[i]
			totals[action.Type] += action.CreatedAt.Sub(requestActions[i-1].CreatedAt)
			counts[action.Type]++
		}
	}

	if len(counts) == 0 {
		return nil
	}

	averages := make(map[models.ActionType]Duration, len(counts))

	for actionType, total := range totals {
		averages[actionType] = Duration(total / time.Duration(counts[actionType]))
	}

	return averages
}
