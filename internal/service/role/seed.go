package role

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/service/audit"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

// SeedReport lists the baseline roles by what seeding did with them.
type SeedReport struct {
	Created  []string `json:"created"`
	Existing []string `json:"existing"`
}

// Seed creates the baseline roles that do not exist yet. Running it again is
// a no-op. Existing baseline roles are checked against the catalog so that a
// role still holding a retired permission is caught at startup.
//
// Each created role is inserted together with its audit record. A duplicate
// from a concurrent seeder counts as existing.
func (s *Service) Seed(ctx context.Context) (*SeedReport, error) {
	report := &SeedReport{}

	for _, def := range permission.Baseline(s.catalog) {
		existing, err := s.roles.GetByName(ctx, def.Name)
		if err == nil {
			if err := s.catalog.Validate(existing.Permissions...); err != nil {
				return nil, fmt.Errorf("baseline role %s: %w", def.Name, err)
			}
			report.Existing = append(report.Existing, def.Name)
			continue
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up role %s: %w", def.Name, err)
		}

		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			role := &model.Role{
				Name:        def.Name,
				Description: def.Description,
				Permissions: def.Permissions,
			}
			if err := s.roles.Create(ctx, role); err != nil {
				return err
			}
			_, err := s.auditor.Record(ctx, audit.Entry{
				Actor:        model.SystemActor("seed"),
				Action:       model.ActionSeedRole,
				ResourceType: model.ResourceRole,
				ResourceID:   role.ID.String(),
				NewValue:     role,
				Outcome:      model.OutcomeSuccess,
				Details:      fmt.Sprintf("Seeded baseline role %s", role.Name),
			})
			return err
		})
		if errors.Is(err, apperrors.ErrDuplicateRole) {
			report.Existing = append(report.Existing, def.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to seed role %s: %w", def.Name, err)
		}

		s.logger.Info("seeded baseline role", "role", def.Name, "permissions", len(def.Permissions))
		report.Created = append(report.Created, def.Name)
	}

	return report, nil
}
