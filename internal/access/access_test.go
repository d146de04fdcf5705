package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/brandpilot/internal/auth"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/store"
	"github.com/wolfeidau/brandpilot/internal/store/memory"
)

type fixture struct {
	stores     store.Stores
	workspaces *memory.WorkspaceStore
	directory  *Directory
	authorizer *Authorizer
}

func newFixture() *fixture {
	stores := memory.NewStores()
	return &fixture{
		stores:     stores,
		workspaces: stores.Workspaces.(*memory.WorkspaceStore),
		directory:  NewDirectory(stores.Memberships),
		authorizer: NewAuthorizer(stores.Memberships),
	}
}

func (f *fixture) user(t *testing.T) uuid.UUID {
	t.Helper()
	u := &models.User{UserID: uuid.Must(uuid.NewV7()), Email: uuid.NewString() + "@example.com"}
	require.NoError(t, f.stores.Users.Create(context.Background(), u))
	return u.UserID
}

func (f *fixture) workspace(t *testing.T, owner uuid.UUID, createdAt time.Time) uuid.UUID {
	t.Helper()
	ws := &models.Workspace{WorkspaceID: uuid.Must(uuid.NewV7()), Name: "ws", CreatedAt: createdAt, UpdatedAt: createdAt}
	require.NoError(t, f.stores.Workspaces.Create(context.Background(), ws, owner))
	return ws.WorkspaceID
}

func TestAssertAccess_NonMemberAlwaysForbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	owner := f.user(t)
	stranger := f.user(t)
	ws := f.workspace(t, owner, time.Now())

	for _, allowed := range []RoleSet{AnyRole, OwnerOrAdmin, OwnerOnly, Roles(models.RoleMember), Roles()} {
		t.Run(allowed.String(), func(t *testing.T) {
			m, err := f.authorizer.AssertAccess(ctx, stranger, ws, allowed)
			require.ErrorIs(t, err, ErrForbidden)
			require.Nil(t, m)
		})
	}

	_, err := f.authorizer.AssertAccess(ctx, owner, uuid.New(), AnyRole)
	require.ErrorIs(t, err, ErrForbidden, "unknown workspace is indistinguishable from no membership")
}

func TestAssertAccess_RoleMatrix(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	owner := f.user(t)
	ws := f.workspace(t, owner, time.Now())

	admin := f.user(t)
	member := f.user(t)
	require.NoError(t, f.workspaces.AddMember(ctx, ws, admin, models.RoleAdmin))
	require.NoError(t, f.workspaces.AddMember(ctx, ws, member, models.RoleMember))

	users := map[models.Role]uuid.UUID{
		models.RoleOwner:  owner,
		models.RoleAdmin:  admin,
		models.RoleMember: member,
	}
	roles := []models.Role{models.RoleOwner, models.RoleAdmin, models.RoleMember}

	for held, userID := range users {
		for _, required := range roles {
			t.Run(held.String()+"_requires_"+required.String(), func(t *testing.T) {
				m, err := f.authorizer.AssertAccess(ctx, userID, ws, Roles(required))
				if held == required {
					require.NoError(t, err)
					require.Equal(t, held, m.Role)
				} else {
					require.ErrorIs(t, err, ErrForbidden)
				}
			})
		}

		t.Run(held.String()+"_owner_or_admin", func(t *testing.T) {
			_, err := f.authorizer.AssertAccess(ctx, userID, ws, OwnerOrAdmin)
			if held == models.RoleMember {
				require.ErrorIs(t, err, ErrForbidden)
			} else {
				require.NoError(t, err)
			}
		})

		t.Run(held.String()+"_any_role", func(t *testing.T) {
			_, err := f.authorizer.AssertAccess(ctx, userID, ws, AnyRole)
			require.NoError(t, err)
		})
	}
}

func TestAssertAccess_ReadsMembershipFresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	owner := f.user(t)
	ws := f.workspace(t, owner, time.Now())
	member := f.user(t)

	require.NoError(t, f.workspaces.AddMember(ctx, ws, member, models.RoleAdmin))
	_, err := f.authorizer.AssertAccess(ctx, member, ws, OwnerOrAdmin)
	require.NoError(t, err)

	require.NoError(t, f.workspaces.AddMember(ctx, ws, member, models.RoleMember))
	_, err = f.authorizer.AssertAccess(ctx, member, ws, OwnerOrAdmin)
	require.ErrorIs(t, err, ErrForbidden)

	f.workspaces.RemoveMember(ctx, ws, member)
	_, err = f.authorizer.AssertAccess(ctx, member, ws, AnyRole)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAssertAccess_NilUserIsUnauthenticated(t *testing.T) {
	f := newFixture()
	_, err := f.authorizer.AssertAccess(context.Background(), uuid.Nil, uuid.New(), AnyRole)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

type brokenMemberships struct {
	store.MembershipStore
}

func (brokenMemberships) Get(context.Context, uuid.UUID, uuid.UUID) (*models.Membership, error) {
	return nil, errors.New("connection reset")
}

func TestAssertAccess_StoreFailureIsNotForbidden(t *testing.T) {
	a := NewAuthorizer(brokenMemberships{})
	_, err := a.AssertAccess(context.Background(), uuid.New(), uuid.New(), AnyRole)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrForbidden)
	require.NotErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestRoleSet_UnknownRoleNeverAllowed(t *testing.T) {
	require.False(t, AnyRole.Contains(models.RoleUnknown))
	require.False(t, Roles(models.RoleUnknown).Contains(models.RoleUnknown))
	require.True(t, OwnerOrAdmin.Contains(models.RoleAdmin))
}

func TestDirectory_DefaultWorkspacePrefersOwnerOverRecency(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	other := f.user(t)
	user := f.user(t)

	day1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	w1 := f.workspace(t, other, day1)
	require.NoError(t, f.workspaces.AddMember(ctx, w1, user, models.RoleMember))
	w2 := f.workspace(t, user, day2)

	m, err := f.directory.DefaultWorkspace(ctx, user)
	require.NoError(t, err)
	require.Equal(t, w2, m.WorkspaceID)
	require.Equal(t, models.RoleOwner, m.Role)

	ms, err := f.directory.MembershipsFor(ctx, user)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	require.Equal(t, w2, ms[0].WorkspaceID)
	require.Equal(t, w1, ms[1].WorkspaceID)
}

func TestDirectory_OrderingWithinRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	user := f.user(t)

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	newer := f.workspace(t, user, base.Add(time.Hour))
	older := f.workspace(t, user, base)

	ms, err := f.directory.MembershipsFor(ctx, user)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{older, newer}, []uuid.UUID{ms[0].WorkspaceID, ms[1].WorkspaceID})
}

func TestDirectory_NoMemberships(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	user := f.user(t)

	ms, err := f.directory.MembershipsFor(ctx, user)
	require.NoError(t, err)
	require.Empty(t, ms)

	_, err = f.directory.DefaultWorkspace(ctx, user)
	require.ErrorIs(t, err, store.ErrMembershipNotFound)

	_, err = f.directory.MembershipOf(ctx, user, uuid.New())
	require.ErrorIs(t, err, store.ErrMembershipNotFound)
}
