package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/plans"
	"github.com/wolfeidau/brandpilot/internal/store"
)

// SubscriptionStore implements store.SubscriptionStore using in-memory storage.
// Each conditional update evaluates its guard and writes under the same lock.
type SubscriptionStore struct {
	*state
}

// Get retrieves the subscription for a workspace.
func (s *SubscriptionStore) Get(ctx context.Context, workspaceID uuid.UUID) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.subscriptions[workspaceID]
	if !exists {
		return nil, store.ErrSubscriptionNotFound
	}

	return cloneSubscription(sub), nil
}

// ActivatePaid sets a paid tier and period end unless the event is stale.
func (s *SubscriptionStore) ActivatePaid(ctx context.Context, workspaceID uuid.UUID, tier plans.Tier, periodEnd time.Time, providerRef *string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subscriptions[workspaceID]
	if !exists {
		return nil, store.ErrSubscriptionNotFound
	}

	if sub.PlanTier.IsPaid() && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(periodEnd) {
		return nil, store.ErrStaleBillingEvent
	}

	end := periodEnd
	sub.PlanTier = tier
	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodEnd = &end
	if providerRef != nil {
		ref := *providerRef
		sub.ExternalProviderRef = &ref
	}
	sub.UpdatedAt = s.now()

	return cloneSubscription(sub), nil
}

// MarkPastDue moves an active, unexpired paid subscription to past_due.
func (s *SubscriptionStore) MarkPastDue(ctx context.Context, workspaceID uuid.UUID, now time.Time) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subscriptions[workspaceID]
	if !exists {
		return nil, store.ErrSubscriptionNotFound
	}

	if sub.StateAt(now) != models.StateActive {
		return nil, store.ErrInvalidTransition
	}

	sub.Status = models.SubscriptionStatusPastDue
	sub.UpdatedAt = s.now()

	return cloneSubscription(sub), nil
}

// ListExpired returns workspaces whose paid period ended before now.
func (s *SubscriptionStore) ListExpired(ctx context.Context, now time.Time, after *store.ExpiredSubscription, limit int) ([]store.ExpiredSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []store.ExpiredSubscription
	for _, sub := range s.subscriptions {
		if !downgradeable(sub, now) {
			continue
		}
		c := store.ExpiredSubscription{WorkspaceID: sub.WorkspaceID, CurrentPeriodEnd: *sub.CurrentPeriodEnd}
		if after != nil && compareExpired(c, *after) <= 0 {
			continue
		}
		expired = append(expired, c)
	}

	// Oldest period end first, matching the postgres ordering.
	slices.SortFunc(expired, compareExpired)

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// compareExpired orders candidates by period end then workspace ID. The
// canonical UUID string sorts the same as the postgres uuid type.
func compareExpired(a, b store.ExpiredSubscription) int {
	if c := a.CurrentPeriodEnd.Compare(b.CurrentPeriodEnd); c != 0 {
		return c
	}
	return cmp.Compare(a.WorkspaceID.String(), b.WorkspaceID.String())
}

// Downgrade moves a subscription to free if it is still expired at now.
func (s *SubscriptionStore) Downgrade(ctx context.Context, workspaceID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subscriptions[workspaceID]
	if !exists {
		return false, store.ErrSubscriptionNotFound
	}

	if !downgradeable(sub, now) {
		return false, nil
	}

	sub.PlanTier = plans.TierFree
	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodEnd = nil
	sub.UpdatedAt = s.now()

	return true, nil
}

// downgradeable mirrors the SQL guard used by the postgres store.
func downgradeable(sub *models.Subscription, now time.Time) bool {
	if !sub.PlanTier.IsPaid() || sub.CurrentPeriodEnd == nil {
		return false
	}
	if sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusPastDue {
		return false
	}
	return sub.CurrentPeriodEnd.Before(now)
}

func cloneSubscription(sub *models.Subscription) *models.Subscription {
	clone := *sub
	if sub.CurrentPeriodEnd != nil {
		end := *sub.CurrentPeriodEnd
		clone.CurrentPeriodEnd = &end
	}
	if sub.ExternalProviderRef != nil {
		ref := *sub.ExternalProviderRef
		clone.ExternalProviderRef = &ref
	}
	return &clone
}

// UsageStore implements store.UsageStore using in-memory storage.
type UsageStore struct {
	*state
}

// Increment adds amount to the cycle counter if the result stays within limit.
// The subscription is checked under the same lock as the counter.
func (s *UsageStore) Increment(ctx context.Context, workspaceID uuid.UUID, basis store.PlanBasis, cycleStart time.Time, amount, limit int) (*models.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subscriptions[workspaceID]
	if !exists {
		return nil, store.ErrSubscriptionNotFound
	}
	if !basis.Matches(sub.PlanTier, sub.CurrentPeriodEnd) {
		return nil, store.ErrSubscriptionChanged
	}

	cycleStart = cycleStart.UTC()

	cycles, ok := s.usage[workspaceID]
	if !ok {
		cycles = make(map[time.Time]*models.UsageCounter)
		s.usage[workspaceID] = cycles
	}

	counter, ok := cycles[cycleStart]
	if !ok {
		counter = &models.UsageCounter{WorkspaceID: workspaceID, CycleStart: cycleStart}
	}

	if limit != plans.Unlimited && counter.GenerationsUsed+amount > limit {
		return nil, store.ErrQuotaExhausted
	}

	counter.GenerationsUsed += amount
	counter.UpdatedAt = s.now()
	cycles[cycleStart] = counter

	clone := *counter
	return &clone, nil
}

// Get returns the counter for a cycle, zero if none exists.
func (s *UsageStore) Get(ctx context.Context, workspaceID uuid.UUID, cycleStart time.Time) (*models.UsageCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cycleStart = cycleStart.UTC()
	if counter, ok := s.usage[workspaceID][cycleStart]; ok {
		clone := *counter
		return &clone, nil
	}

	return &models.UsageCounter{WorkspaceID: workspaceID, CycleStart: cycleStart}, nil
}

// List returns all counters for a workspace, newest cycle first.
func (s *UsageStore) List(ctx context.Context, workspaceID uuid.UUID) ([]*models.UsageCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.UsageCounter, 0, len(s.usage[workspaceID]))
	for _, counter := range s.usage[workspaceID] {
		clone := *counter
		out = append(out, &clone)
	}

	slices.SortFunc(out, func(a, b *models.UsageCounter) int {
		return b.CycleStart.Compare(a.CycleStart)
	})
	return out, nil
}
