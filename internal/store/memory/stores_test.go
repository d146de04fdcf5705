package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/plans"
	"github.com/wolfeidau/brandpilot/internal/store"
)

func createUser(t *testing.T, stores store.Stores, email string) *models.User {
	t.Helper()
	now := time.Now()
	user := &models.User{
		UserID:    uuid.Must(uuid.NewV7()),
		Email:     email,
		Name:      email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, stores.Users.Create(context.Background(), user))
	return user
}

func createWorkspace(t *testing.T, stores store.Stores, owner uuid.UUID, createdAt time.Time) *models.Workspace {
	t.Helper()
	ws := &models.Workspace{
		WorkspaceID: uuid.Must(uuid.NewV7()),
		Name:        "ws-" + createdAt.Format(time.RFC3339Nano),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	require.NoError(t, stores.Workspaces.Create(context.Background(), ws, owner))
	return ws
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()

	user := createUser(t, stores, "jane@example.com")

	t.Run("get by id", func(t *testing.T) {
		got, err := stores.Users.Get(ctx, user.UserID)
		require.NoError(t, err)
		require.Equal(t, user.Email, got.Email)
	})

	t.Run("get by email", func(t *testing.T) {
		got, err := stores.Users.GetByEmail(ctx, "jane@example.com")
		require.NoError(t, err)
		require.Equal(t, user.UserID, got.UserID)
	})

	t.Run("duplicate email", func(t *testing.T) {
		dup := &models.User{UserID: uuid.Must(uuid.NewV7()), Email: "jane@example.com"}
		require.ErrorIs(t, stores.Users.Create(ctx, dup), store.ErrUserAlreadyExists)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := stores.Users.Get(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrUserNotFound)
	})
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	stores := NewStores(WithClock(clock))

	live := &models.Session{SessionID: uuid.Must(uuid.NewV7()), UserID: uuid.New(), ExpiresAt: now.Add(time.Hour)}
	dead := &models.Session{SessionID: uuid.Must(uuid.NewV7()), UserID: uuid.New(), ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, stores.Sessions.Create(ctx, live))
	require.NoError(t, stores.Sessions.Create(ctx, dead))

	got, err := stores.Sessions.Get(ctx, live.SessionID)
	require.NoError(t, err)
	require.Equal(t, live.UserID, got.UserID)

	_, err = stores.Sessions.Get(ctx, dead.SessionID)
	require.ErrorIs(t, err, store.ErrSessionExpired)

	require.NoError(t, stores.Sessions.UpdateLastUsed(ctx, live.SessionID))
	got, err = stores.Sessions.Get(ctx, live.SessionID)
	require.NoError(t, err)
	require.Equal(t, now, got.LastUsedAt)

	n, err := stores.Sessions.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, stores.Sessions.Delete(ctx, live.SessionID))
	_, err = stores.Sessions.Get(ctx, live.SessionID)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
	require.ErrorIs(t, stores.Sessions.Delete(ctx, live.SessionID), store.ErrSessionNotFound)
}

func TestWorkspaceStore_CreateProvisionsOwnerAndFreeSubscription(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()

	owner := createUser(t, stores, "owner@example.com")
	ws := createWorkspace(t, stores, owner.UserID, time.Now())

	m, err := stores.Memberships.Get(ctx, owner.UserID, ws.WorkspaceID)
	require.NoError(t, err)
	require.Equal(t, models.RoleOwner, m.Role)
	require.Equal(t, ws.Name, m.WorkspaceName)

	sub, err := stores.Subscriptions.Get(ctx, ws.WorkspaceID)
	require.NoError(t, err)
	require.Equal(t, plans.TierFree, sub.PlanTier)
	require.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.Nil(t, sub.CurrentPeriodEnd)

	require.ErrorIs(t, stores.Workspaces.Create(ctx, ws, owner.UserID), store.ErrWorkspaceAlreadyExists)

	_, err = stores.Memberships.Get(ctx, uuid.New(), ws.WorkspaceID)
	require.ErrorIs(t, err, store.ErrMembershipNotFound)
}

func TestMembershipStore_ListByUser(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()
	workspaces := stores.Workspaces.(*WorkspaceStore)

	alice := createUser(t, stores, "alice@example.com")
	bob := createUser(t, stores, "bob@example.com")

	ws1 := createWorkspace(t, stores, alice.UserID, time.Now())
	ws2 := createWorkspace(t, stores, bob.UserID, time.Now())
	require.NoError(t, workspaces.AddMember(ctx, ws2.WorkspaceID, alice.UserID, models.RoleMember))

	ms, err := stores.Memberships.ListByUser(ctx, alice.UserID)
	require.NoError(t, err)
	require.Len(t, ms, 2)

	ids := []uuid.UUID{ms[0].WorkspaceID, ms[1].WorkspaceID}
	require.ElementsMatch(t, []uuid.UUID{ws1.WorkspaceID, ws2.WorkspaceID}, ids)

	workspaces.RemoveMember(ctx, ws2.WorkspaceID, alice.UserID)
	ms, err = stores.Memberships.ListByUser(ctx, alice.UserID)
	require.NoError(t, err)
	require.Len(t, ms, 1)
}

func TestSubscriptionStore_Transitions(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()
	owner := createUser(t, stores, "owner@example.com")
	ws := createWorkspace(t, stores, owner.UserID, time.Now())

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(30 * 24 * time.Hour)
	ref := "sub_123"

	sub, err := stores.Subscriptions.ActivatePaid(ctx, ws.WorkspaceID, plans.TierPro, end, &ref)
	require.NoError(t, err)
	require.Equal(t, plans.TierPro, sub.PlanTier)
	require.Equal(t, end, *sub.CurrentPeriodEnd)
	require.Equal(t, "sub_123", *sub.ExternalProviderRef)

	t.Run("stale event rejected", func(t *testing.T) {
		_, err := stores.Subscriptions.ActivatePaid(ctx, ws.WorkspaceID, plans.TierPro, end.Add(-time.Hour), nil)
		require.ErrorIs(t, err, store.ErrStaleBillingEvent)
	})

	t.Run("replayed event accepted", func(t *testing.T) {
		_, err := stores.Subscriptions.ActivatePaid(ctx, ws.WorkspaceID, plans.TierPro, end, nil)
		require.NoError(t, err)
	})

	t.Run("past due", func(t *testing.T) {
		sub, err := stores.Subscriptions.MarkPastDue(ctx, ws.WorkspaceID, now)
		require.NoError(t, err)
		require.Equal(t, models.SubscriptionStatusPastDue, sub.Status)

		_, err = stores.Subscriptions.MarkPastDue(ctx, ws.WorkspaceID, now)
		require.ErrorIs(t, err, store.ErrInvalidTransition)
	})

	t.Run("not expired before period end", func(t *testing.T) {
		expired, err := stores.Subscriptions.ListExpired(ctx, end, nil, 10)
		require.NoError(t, err)
		require.Empty(t, expired)

		ok, err := stores.Subscriptions.Downgrade(ctx, ws.WorkspaceID, end)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("downgrade after period end is idempotent", func(t *testing.T) {
		after := end.Add(time.Second)
		expired, err := stores.Subscriptions.ListExpired(ctx, after, nil, 10)
		require.NoError(t, err)
		require.Equal(t, []store.ExpiredSubscription{{WorkspaceID: ws.WorkspaceID, CurrentPeriodEnd: end}}, expired)

		ok, err := stores.Subscriptions.Downgrade(ctx, ws.WorkspaceID, after)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = stores.Subscriptions.Downgrade(ctx, ws.WorkspaceID, after)
		require.NoError(t, err)
		require.False(t, ok)

		sub, err := stores.Subscriptions.Get(ctx, ws.WorkspaceID)
		require.NoError(t, err)
		require.Equal(t, plans.TierFree, sub.PlanTier)
		require.Equal(t, models.SubscriptionStatusActive, sub.Status)
		require.Nil(t, sub.CurrentPeriodEnd)
	})
}

func TestSubscriptionStore_ListExpiredPages(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()
	owner := createUser(t, stores, "owner@example.com")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var want []uuid.UUID
	for i := range 3 {
		ws := createWorkspace(t, stores, owner.UserID, base.Add(time.Duration(i)*time.Minute))
		_, err := stores.Subscriptions.ActivatePaid(ctx, ws.WorkspaceID, plans.TierAgency, base.Add(time.Duration(i)*time.Hour), nil)
		require.NoError(t, err)
		want = append(want, ws.WorkspaceID)
	}
	now := base.Add(24 * time.Hour)

	first, err := stores.Subscriptions.ListExpired(ctx, now, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, want[0], first[0].WorkspaceID)
	require.Equal(t, want[1], first[1].WorkspaceID)

	// Rows before the cursor are not returned even though nothing was downgraded.
	second, err := stores.Subscriptions.ListExpired(ctx, now, &first[1], 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, want[2], second[0].WorkspaceID)

	rest, err := stores.Subscriptions.ListExpired(ctx, now, &second[0], 2)
	require.NoError(t, err)
	require.Empty(t, rest)
}

func TestUsageStore_Increment(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()
	owner := createUser(t, stores, "owner@example.com")
	ws := createWorkspace(t, stores, owner.UserID, time.Now()).WorkspaceID
	free := store.PlanBasis{PlanTier: plans.TierFree}
	cycle := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	c, err := stores.Usage.Increment(ctx, ws, free, cycle, 3, 5)
	require.NoError(t, err)
	require.Equal(t, 3, c.GenerationsUsed)

	_, err = stores.Usage.Increment(ctx, ws, free, cycle, 3, 5)
	require.ErrorIs(t, err, store.ErrQuotaExhausted)

	got, err := stores.Usage.Get(ctx, ws, cycle)
	require.NoError(t, err)
	require.Equal(t, 3, got.GenerationsUsed, "denied increment must not change the counter")

	c, err = stores.Usage.Increment(ctx, ws, free, cycle, 1_000, plans.Unlimited)
	require.NoError(t, err)
	require.Equal(t, 1_003, c.GenerationsUsed)

	empty, err := stores.Usage.Get(ctx, ws, cycle.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Zero(t, empty.GenerationsUsed)

	_, err = stores.Usage.Increment(ctx, ws, free, cycle.AddDate(0, 1, 0), 1, 5)
	require.NoError(t, err)

	list, err := stores.Usage.List(ctx, ws)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.True(t, list[0].CycleStart.After(list[1].CycleStart))

	_, err = stores.Usage.Increment(ctx, uuid.New(), free, cycle, 1, 5)
	require.ErrorIs(t, err, store.ErrSubscriptionNotFound)
}

func TestUsageStore_IncrementRejectsChangedPlan(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()
	owner := createUser(t, stores, "owner@example.com")
	ws := createWorkspace(t, stores, owner.UserID, time.Now()).WorkspaceID
	cycle := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, err := stores.Subscriptions.ActivatePaid(ctx, ws, plans.TierPro, end, nil)
	require.NoError(t, err)

	_, err = stores.Usage.Increment(ctx, ws, store.PlanBasis{PlanTier: plans.TierFree}, cycle, 1, 50)
	require.ErrorIs(t, err, store.ErrSubscriptionChanged)

	earlier := end.Add(-time.Hour)
	_, err = stores.Usage.Increment(ctx, ws, store.PlanBasis{PlanTier: plans.TierPro, CurrentPeriodEnd: &earlier}, cycle, 1, 1000)
	require.ErrorIs(t, err, store.ErrSubscriptionChanged)

	got, err := stores.Usage.Get(ctx, ws, cycle)
	require.NoError(t, err)
	require.Zero(t, got.GenerationsUsed)

	c, err := stores.Usage.Increment(ctx, ws, store.PlanBasis{PlanTier: plans.TierPro, CurrentPeriodEnd: &end}, cycle, 1, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, c.GenerationsUsed)
}

func TestUsageStore_ConcurrentIncrementNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()
	owner := createUser(t, stores, "owner@example.com")
	ws := createWorkspace(t, stores, owner.UserID, time.Now()).WorkspaceID
	cycle := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := stores.Usage.Increment(ctx, ws, store.PlanBasis{PlanTier: plans.TierFree}, cycle, 1, 50); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(50), granted.Load())
	got, err := stores.Usage.Get(ctx, ws, cycle)
	require.NoError(t, err)
	require.Equal(t, 50, got.GenerationsUsed)
}
