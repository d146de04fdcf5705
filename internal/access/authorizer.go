package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/auth"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/store"
	"github.com/wolfeidau/brandpilot/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrForbidden is returned when a user may not act in a workspace. It covers
// both "not a member" and "role not allowed" so callers cannot probe which
// workspaces exist.
var ErrForbidden = errors.New("forbidden")

// RoleSet is the set of roles allowed to perform an operation.
type RoleSet []models.Role

// Roles builds a role set.
func Roles(roles ...models.Role) RoleSet {
	return RoleSet(roles)
}

var (
	// AnyRole admits every member.
	AnyRole = Roles(models.RoleOwner, models.RoleAdmin, models.RoleMember)
	// OwnerOrAdmin admits workspace managers.
	OwnerOrAdmin = Roles(models.RoleOwner, models.RoleAdmin)
	// OwnerOnly admits only the owner.
	OwnerOnly = Roles(models.RoleOwner)
)

// Contains reports whether role is in the set. RoleUnknown is never contained.
func (rs RoleSet) Contains(role models.Role) bool {
	return role.Valid() && slices.Contains(rs, role)
}

func (rs RoleSet) String() string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.String()
	}
	return strings.Join(names, ",")
}

// Authorizer checks workspace access against persisted memberships.
type Authorizer struct {
	memberships store.MembershipStore
}

// NewAuthorizer creates an authorizer over the membership store.
func NewAuthorizer(memberships store.MembershipStore) *Authorizer {
	return &Authorizer{memberships: memberships}
}

// AssertAccess returns the user's membership if their role in the workspace is
// in allowed. It returns auth.ErrUnauthenticated for a nil user, ErrForbidden
// for a missing membership or disallowed role, and a wrapped store error when
// the membership could not be read.
func (a *Authorizer) AssertAccess(ctx context.Context, userID, workspaceID uuid.UUID, allowed RoleSet) (*models.Membership, error) {
	if userID == uuid.Nil {
		return nil, auth.ErrUnauthenticated
	}

	m, err := a.memberships.Get(ctx, userID, workspaceID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			a.deny(ctx, userID, workspaceID, "not_member")
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("failed to read membership: %w", err)
	}

	if !allowed.Contains(m.Role) {
		a.deny(ctx, userID, workspaceID, "role")
		log.Debug().
			Str("role", m.Role.String()).
			Str("allowed", allowed.String()).
			Msg("Role not permitted")
		return nil, ErrForbidden
	}

	return m, nil
}

func (a *Authorizer) deny(ctx context.Context, userID, workspaceID uuid.UUID, reason string) {
	telemetry.GetMetrics().AccessDeniedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))

	log.Info().
		Str("user_id", userID.String()).
		Str("workspace_id", workspaceID.String()).
		Str("reason", reason).
		Msg("Workspace access denied")
}
