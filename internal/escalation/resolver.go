package escalation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/oncall/internal/model"
)

// DescriptorAssignees targets the incident's currently assigned users.
const DescriptorAssignees = "assignees"

// Resolver maps a symbolic recipient descriptor to a concrete list of users.
//
// Resolution order: "assignees", then role keywords scoped to the incident's
// team, then email addresses (descriptors containing "@"), then user IDs.
// A descriptor that resolves to nothing yields an empty list, not an error.
type Resolver struct {
	incidents IncidentStore
	users     UserDirectory
	logger    zerolog.Logger
}

func NewResolver(incidents IncidentStore, users UserDirectory, logger zerolog.Logger) *Resolver {
	return &Resolver{incidents: incidents, users: users, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, inc *model.Incident, descriptor string) ([]model.User, error) {
	switch {
	case descriptor == DescriptorAssignees:
		users, err := r.incidents.ListAssignedUsers(ctx, inc.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve assignees: %w", err)
		}
		return users, nil

	case model.EscalationRole(descriptor):
		if inc.TeamID == nil {
			r.logger.Debug().
				Str("incident_id", inc.ID).
				Str("role", descriptor).
				Msg("role descriptor on incident without a team, resolving to nobody")
			return nil, nil
		}
		users, err := r.users.ListByRoleAndTeam(ctx, descriptor, *inc.TeamID)
		if err != nil {
			return nil, fmt.Errorf("resolve role %s: %w", descriptor, err)
		}
		return users, nil

	case strings.Contains(descriptor, "@"):
		user, err := r.users.FindByEmail(ctx, descriptor)
		if err != nil {
			return nil, fmt.Errorf("resolve email: %w", err)
		}
		if user == nil {
			return nil, nil
		}
		return []model.User{*user}, nil

	default:
		user, err := r.users.FindByID(ctx, descriptor)
		if err != nil {
			return nil, fmt.Errorf("resolve user id: %w", err)
		}
		if user == nil {
			r.logger.Debug().
				Str("incident_id", inc.ID).
				Str("descriptor", descriptor).
				Msg("recipient descriptor resolved to nobody")
			return nil, nil
		}
		return []model.User{*user}, nil
	}
}
