package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/estateloop/estateloop/pkg/roles"
	"github.com/estateloop/estateloop/pkg/storage"
)

// SystemView is one system's opinion of a user's authorization state.
type SystemView struct {
	Present   bool       `json:"present"`
	Role      roles.Role `json:"role,omitempty"`
	Approved  bool       `json:"approved,omitempty"`
	HasRole   bool       `json:"has_role,omitempty"`
	Dashboard string     `json:"dashboard,omitempty"`
}

// DriftReport compares the identity provider and database views of one
// user. Served by the roles debug endpoint.
type DriftReport struct {
	ExternalID string     `json:"external_id"`
	Identity   SystemView `json:"identity_provider"`
	Database   SystemView `json:"database"`
	InSync     bool       `json:"in_sync"`
	Details    []string   `json:"details,omitempty"`
}

// Drift builds a side-by-side comparison without mutating either system.
func (s *Synchronizer) Drift(ctx context.Context, externalID string) (*DriftReport, error) {
	report := &DriftReport{ExternalID: externalID}

	providerUser, err := s.fetchProviderUser(ctx, externalID)
	if err != nil {
		return nil, err
	}
	providerResolved := providerUser.Resolve()
	report.Identity = SystemView{
		Present:   true,
		Role:      providerResolved.Role,
		Approved:  providerResolved.Approved,
		HasRole:   providerUser.HasRole(),
		Dashboard: string(providerResolved.DashboardForRole()),
	}

	record, err := s.users.FindUserByExternalID(ctx, externalID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		report.Details = append(report.Details, "no database record")
	case err != nil:
		return nil, fmt.Errorf("failed to load user %s: %w", externalID, err)
	default:
		dbResolved := record.Resolve()
		report.Database = SystemView{
			Present:   true,
			Role:      dbResolved.Role,
			Approved:  dbResolved.Approved,
			HasRole:   true,
			Dashboard: string(dbResolved.DashboardForRole()),
		}

		if !providerUser.HasRole() {
			report.Details = append(report.Details, "provider metadata has no role")
		}
		if providerResolved.Role != dbResolved.Role {
			report.Details = append(report.Details,
				fmt.Sprintf("role mismatch: provider=%s database=%s", providerResolved.Role, dbResolved.Role))
		}
		if providerResolved.Approved != dbResolved.Approved {
			report.Details = append(report.Details,
				fmt.Sprintf("approval mismatch: provider=%t database=%t", providerResolved.Approved, dbResolved.Approved))
		}
		if record.DisplayName() != providerUser.DisplayName() || record.Email != providerUser.Email {
			report.Details = append(report.Details, "profile drift: provider fields differ from database")
		}
	}

	report.InSync = len(report.Details) == 0
	return report, nil
}
