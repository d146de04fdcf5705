// Package access answers "who may do what in which workspace".
//
// The Directory is a read-only view over memberships; the Authorizer checks a
// user's persisted role in a workspace against the roles an operation allows.
// Neither caches: a removed member or changed role takes effect on the next request.
package access

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/store"
)

// Directory looks up workspace memberships.
type Directory struct {
	memberships store.MembershipStore
}

// NewDirectory creates a directory over the membership store.
func NewDirectory(memberships store.MembershipStore) *Directory {
	return &Directory{memberships: memberships}
}

// MembershipOf returns the user's membership in a workspace, or
// store.ErrMembershipNotFound.
func (d *Directory) MembershipOf(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Membership, error) {
	m, err := d.memberships.Get(ctx, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MembershipsFor returns all of a user's memberships ordered by role
// precedence (owner first), then workspace creation time, then workspace ID.
func (d *Directory) MembershipsFor(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	ms, err := d.memberships.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	slices.SortStableFunc(ms, models.CompareMemberships)
	return ms, nil
}

// DefaultWorkspace returns the first membership in MembershipsFor order, or
// store.ErrMembershipNotFound when the user belongs to no workspace.
func (d *Directory) DefaultWorkspace(ctx context.Context, userID uuid.UUID) (*models.Membership, error) {
	ms, err := d.MembershipsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, store.ErrMembershipNotFound
	}
	return ms[0], nil
}
