package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/plans"
	"github.com/wolfeidau/brandpilot/internal/store"
)

// WorkspaceStore implements store.WorkspaceStore using PostgreSQL.
type WorkspaceStore struct {
	pool *pgxpool.Pool
}

// NewWorkspaceStore creates a new PostgreSQL-backed workspace store.
func NewWorkspaceStore(pool *pgxpool.Pool) *WorkspaceStore {
	return &WorkspaceStore{
		pool: pool,
	}
}

// Create inserts the workspace, the owner membership and the free subscription
// in a single transaction.
func (s *WorkspaceStore) Create(ctx context.Context, workspace *models.Workspace, ownerID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	if _, err = tx.Exec(ctx, `
		INSERT INTO workspaces (workspace_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, workspace.WorkspaceID, workspace.Name, workspace.CreatedAt, workspace.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create workspace: %w", mapPostgresError(err))
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO memberships (user_id, workspace_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, ownerID, workspace.WorkspaceID, models.RoleOwner.String(), workspace.CreatedAt); err != nil {
		return fmt.Errorf("failed to create owner membership: %w", mapPostgresError(err))
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO subscriptions (workspace_id, plan_tier, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, workspace.WorkspaceID, string(plans.TierFree), string(models.SubscriptionStatusActive), workspace.CreatedAt); err != nil {
		return fmt.Errorf("failed to create subscription: %w", mapPostgresError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit workspace: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("workspace_id", workspace.WorkspaceID.String()).
		Str("owner_id", ownerID.String()).
		Msg("Created workspace")

	return nil
}

// Get retrieves a workspace by ID.
func (s *WorkspaceStore) Get(ctx context.Context, workspaceID uuid.UUID) (*models.Workspace, error) {
	query := `
		SELECT workspace_id, name, created_at, updated_at
		FROM workspaces
		WHERE workspace_id = $1
	`

	var ws models.Workspace
	err := s.pool.QueryRow(ctx, query, workspaceID).Scan(
		&ws.WorkspaceID,
		&ws.Name,
		&ws.CreatedAt,
		&ws.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("failed to get workspace: %w", mapPostgresError(err))
	}

	return &ws, nil
}

// AddMember inserts or updates a membership. Used by tooling and tests; the
// service itself never mutates memberships outside provisioning.
func (s *WorkspaceStore) AddMember(ctx context.Context, workspaceID, userID uuid.UUID, role models.Role) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memberships (user_id, workspace_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, workspace_id) DO UPDATE SET role = EXCLUDED.role
	`, userID, workspaceID, role.String())
	if err != nil {
		return fmt.Errorf("failed to add member: %w", mapPostgresError(err))
	}
	return nil
}

// MembershipStore implements store.MembershipStore using PostgreSQL.
type MembershipStore struct {
	pool *pgxpool.Pool
}

// NewMembershipStore creates a new PostgreSQL-backed membership store.
func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{
		pool: pool,
	}
}

const membershipSelect = `
	SELECT m.user_id, m.workspace_id, m.role, m.joined_at, w.name, w.created_at
	FROM memberships m
	JOIN workspaces w ON w.workspace_id = m.workspace_id
`

// Get returns the membership for an exact (user, workspace) pair.
func (s *MembershipStore) Get(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Membership, error) {
	row := s.pool.QueryRow(ctx, membershipSelect+`WHERE m.user_id = $1 AND m.workspace_id = $2`, userID, workspaceID)

	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", mapPostgresError(err))
	}

	return m, nil
}

// ListByUser returns all memberships for a user.
func (s *MembershipStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	rows, err := s.pool.Query(ctx, membershipSelect+`WHERE m.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var out []*models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", mapPostgresError(err))
	}

	return out, nil
}

func scanMembership(row pgx.Row) (*models.Membership, error) {
	var m models.Membership
	var role string
	if err := row.Scan(&m.UserID, &m.WorkspaceID, &role, &m.JoinedAt, &m.WorkspaceName, &m.WorkspaceCreatedAt); err != nil {
		return nil, err
	}

	// Unknown roles are kept as RoleUnknown so they sort last and match no role set.
	m.Role, _ = models.ParseRole(role)
	return &m, nil
}
