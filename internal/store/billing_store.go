package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/plans"
)

// Sentinel errors for subscription and usage store operations
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrStaleBillingEvent    = errors.New("billing event is older than the current period")
	ErrInvalidTransition    = errors.New("invalid subscription transition")
	ErrQuotaExhausted       = errors.New("quota exhausted")
	ErrSubscriptionChanged  = errors.New("subscription changed since it was read")
)

// ExpiredSubscription is a downgrade candidate. It doubles as the keyset
// cursor for the next ListExpired page.
type ExpiredSubscription struct {
	WorkspaceID      uuid.UUID
	CurrentPeriodEnd time.Time
}

// SubscriptionStore defines the interface for subscription storage.
// Every write is a single conditional update so concurrent writers (billing
// events and the reconciliation sweep) never clobber each other.
type SubscriptionStore interface {
	// Get retrieves the subscription for a workspace.
	// Returns ErrSubscriptionNotFound if the workspace has none.
	Get(ctx context.Context, workspaceID uuid.UUID) (*models.Subscription, error)

	// ActivatePaid sets a paid tier with the given period end and status active.
	// The write only applies when the subscription is free or the new period end
	// is not older than the stored one; otherwise ErrStaleBillingEvent.
	ActivatePaid(ctx context.Context, workspaceID uuid.UUID, tier plans.Tier, periodEnd time.Time, providerRef *string) (*models.Subscription, error)

	// MarkPastDue moves an active paid subscription whose period has not
	// elapsed at now into past_due. Returns ErrInvalidTransition otherwise.
	MarkPastDue(ctx context.Context, workspaceID uuid.UUID, now time.Time) (*models.Subscription, error)

	// ListExpired returns paid subscriptions (active or past_due) whose period
	// ended before now, ordered by period end then workspace ID, at most limit
	// of them. When after is set only rows ordered after it are returned.
	ListExpired(ctx context.Context, now time.Time, after *ExpiredSubscription, limit int) ([]ExpiredSubscription, error)

	// Downgrade moves a subscription to the free tier if, when the write is
	// applied, it is still paid, active or past_due, and its period ended before now.
	// Returns false when the condition no longer holds (renewed or already free).
	Downgrade(ctx context.Context, workspaceID uuid.UUID, now time.Time) (bool, error)
}

// PlanBasis is the stored plan a usage increment was priced against.
type PlanBasis struct {
	PlanTier         plans.Tier
	CurrentPeriodEnd *time.Time
}

// BasisOf returns the plan basis of a subscription as read.
func BasisOf(sub *models.Subscription) PlanBasis {
	return PlanBasis{PlanTier: sub.PlanTier, CurrentPeriodEnd: sub.CurrentPeriodEnd}
}

// Matches reports whether the stored tier and period end still equal this basis.
func (b PlanBasis) Matches(tier plans.Tier, periodEnd *time.Time) bool {
	if b.PlanTier != tier || (b.CurrentPeriodEnd == nil) != (periodEnd == nil) {
		return false
	}
	return b.CurrentPeriodEnd == nil || b.CurrentPeriodEnd.Equal(*periodEnd)
}

// UsageStore holds per-cycle generation counters.
type UsageStore interface {
	// Increment atomically adds amount to the counter for (workspace, cycleStart),
	// creating it at zero first if needed, but only when the result stays within
	// limit (plans.Unlimited disables the check) and the stored subscription
	// still matches basis. Returns the updated counter, ErrQuotaExhausted or
	// ErrSubscriptionChanged, with the counter untouched on error.
	Increment(ctx context.Context, workspaceID uuid.UUID, basis PlanBasis, cycleStart time.Time, amount, limit int) (*models.UsageCounter, error)

	// Get returns the counter for a cycle; a missing counter is returned as zero usage.
	Get(ctx context.Context, workspaceID uuid.UUID, cycleStart time.Time) (*models.UsageCounter, error)

	// List returns all counters for a workspace, newest cycle first.
	List(ctx context.Context, workspaceID uuid.UUID) ([]*models.UsageCounter, error)
}

// Stores groups the stores a server needs so backends can be swapped as a unit.
type Stores struct {
	Users         UserStore
	Sessions      SessionStore
	Workspaces    WorkspaceStore
	Memberships   MembershipStore
	Subscriptions SubscriptionStore
	Usage         UsageStore
}
