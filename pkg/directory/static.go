package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/procurio/approvalflow/pkg/models"
)

// Static is an in-memory directory loaded once at startup. It suits
// deployments where role assignments come from a provisioning file, and it
// backs the unit tests.
type Static struct {
	byRole map[models.ApprovalRole][]Assignment
}

// NewStatic builds a static directory from a list of assignments.
func NewStatic(assignments []Assignment) *Static {
	byRole := make(map[models.ApprovalRole][]Assignment)

	for _, assignment := range assignments {
		byRole[assignment.Role] = append(byRole[assignment.Role], assignment)
	}

	for role := range byRole {
		holders := byRole[role]

		sort.Slice(holders, func(i, j int) bool {
			if !holders[i].AssignedAt.Equal(holders[j].AssignedAt) {
				return holders[i].AssignedAt.Before(holders[j].AssignedAt)
			}

			return holders[i].UserID < holders[j].UserID
		})

		byRole[role] = holders
	}

	return &Static{byRole: byRole}
}

// LoadFile builds a static directory from a JSON file containing an array of
// assignments.
func LoadFile(path string) (*Static, error) {
	body, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file %s: %w", path, err)
	}

	var assignments []Assignment

	err = json.Unmarshal(body, &assignments)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal directory file %s: %w", path, err)
	}

	return NewStatic(assignments), nil
}

// UsersByRole returns holder ids in resolution order.
func (s *Static) UsersByRole(_ context.Context, role models.ApprovalRole) ([]string, error) {
	holders := s.byRole[role]

	users := make([]string, 0, len(holders))
	for _, holder := range holders {
		users = append(users, holder.UserID)
	}

	return users, nil
}

// HasRole reports whether the user holds the given role.
func (s *Static) HasRole(_ context.Context, userID string, role models.ApprovalRole) (bool, error) {
	for _, holder := range s.byRole[role] {
		if holder.UserID == userID {
			return true, nil
		}
	}

	return false, nil
}
