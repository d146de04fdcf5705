package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/store"
)

// WorkspaceStore implements store.WorkspaceStore using in-memory storage.
type WorkspaceStore struct {
	*state
}

// Create creates a workspace, its owner membership and a free subscription.
func (s *WorkspaceStore) Create(ctx context.Context, workspace *models.Workspace, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workspaces[workspace.WorkspaceID]; exists {
		return store.ErrWorkspaceAlreadyExists
	}
	if _, exists := s.users[ownerID]; !exists {
		return store.ErrUserNotFound
	}

	clone := *workspace
	s.workspaces[workspace.WorkspaceID] = &clone

	s.memberships[membershipKey{ownerID, workspace.WorkspaceID}] = &models.Membership{
		UserID:      ownerID,
		WorkspaceID: workspace.WorkspaceID,
		Role:        models.RoleOwner,
		JoinedAt:    workspace.CreatedAt,
	}
	s.subscriptions[workspace.WorkspaceID] = models.NewFreeSubscription(workspace.WorkspaceID, workspace.CreatedAt)

	return nil
}

// Get retrieves a workspace by ID.
func (s *WorkspaceStore) Get(ctx context.Context, workspaceID uuid.UUID) (*models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workspace, exists := s.workspaces[workspaceID]
	if !exists {
		return nil, store.ErrWorkspaceNotFound
	}

	clone := *workspace
	return &clone, nil
}

// AddMember inserts or replaces a membership. Membership management is not part
// of store.MembershipStore; this exists so tests can build multi-member workspaces.
func (s *WorkspaceStore) AddMember(ctx context.Context, workspaceID, userID uuid.UUID, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	workspace, exists := s.workspaces[workspaceID]
	if !exists {
		return store.ErrWorkspaceNotFound
	}

	s.memberships[membershipKey{userID, workspaceID}] = &models.Membership{
		UserID:      userID,
		WorkspaceID: workspaceID,
		Role:        role,
		JoinedAt:    workspace.CreatedAt,
	}
	return nil
}

// RemoveMember deletes a membership if present.
func (s *WorkspaceStore) RemoveMember(ctx context.Context, workspaceID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.memberships, membershipKey{userID, workspaceID})
}

// MembershipStore implements store.MembershipStore using in-memory storage.
type MembershipStore struct {
	*state
}

// Get returns the membership for an exact (user, workspace) pair.
func (s *MembershipStore) Get(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.memberships[membershipKey{userID, workspaceID}]
	if !exists {
		return nil, store.ErrMembershipNotFound
	}

	return s.denormalize(m), nil
}

// ListByUser returns all memberships for a user.
func (s *MembershipStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Membership
	for key, m := range s.memberships {
		if key.userID == userID {
			out = append(out, s.denormalize(m))
		}
	}

	return out, nil
}

func (s *MembershipStore) denormalize(m *models.Membership) *models.Membership {
	clone := *m
	if ws, ok := s.workspaces[m.WorkspaceID]; ok {
		clone.WorkspaceName = ws.Name
		clone.WorkspaceCreatedAt = ws.CreatedAt
	}
	return &clone
}
