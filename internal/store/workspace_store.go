package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/brandpilot/internal/models"
)

// Sentinel errors for workspace and membership store operations
var (
	ErrWorkspaceNotFound      = errors.New("workspace not found")
	ErrWorkspaceAlreadyExists = errors.New("workspace already exists")
	ErrMembershipNotFound     = errors.New("membership not found")
)

// WorkspaceStore defines the interface for workspace storage operations.
// Workspaces are the tenant boundary: each has members and one subscription.
type WorkspaceStore interface {
	// Create creates a workspace together with its owner membership and a
	// free subscription, atomically.
	// Returns ErrWorkspaceAlreadyExists if the workspace ID is already taken.
	Create(ctx context.Context, workspace *models.Workspace, ownerID uuid.UUID) error

	// Get retrieves a workspace by ID.
	// Returns ErrWorkspaceNotFound if the workspace doesn't exist.
	Get(ctx context.Context, workspaceID uuid.UUID) (*models.Workspace, error)
}

// MembershipStore is the read side of workspace membership.
// Membership mutation (invites, removal) lives outside this service.
type MembershipStore interface {
	// Get returns the membership for an exact (user, workspace) pair.
	// Returns ErrMembershipNotFound if there is none.
	Get(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Membership, error)

	// ListByUser returns all of a user's memberships with the workspace name and
	// creation time filled in. Order is not guaranteed.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error)
}
