// Package billing owns the subscription lifecycle: plan transitions driven by
// billing events, the reconciliation sweep that downgrades expired plans, and
// the quota gate that meters usage against the effective plan.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/plans"
	"github.com/wolfeidau/brandpilot/internal/store"
	"github.com/wolfeidau/brandpilot/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Clock returns the current time.
type Clock func() time.Time

// Subscriptions applies plan transitions to workspace subscriptions.
type Subscriptions struct {
	workspaces    store.WorkspaceStore
	subscriptions store.SubscriptionStore
	plans         *plans.Registry
	now           Clock
}

// NewSubscriptions creates the subscription service. A nil clock uses time.Now.
func NewSubscriptions(stores store.Stores, registry *plans.Registry, now Clock) *Subscriptions {
	if now == nil {
		now = time.Now
	}
	return &Subscriptions{
		workspaces:    stores.Workspaces,
		subscriptions: stores.Subscriptions,
		plans:         registry,
		now:           now,
	}
}

// Provision creates a workspace owned by ownerID. The store creates the owner
// membership and a free subscription in the same transaction.
func (s *Subscriptions) Provision(ctx context.Context, name string, ownerID uuid.UUID) (*models.Workspace, error) {
	now := s.now()
	ws := &models.Workspace{
		WorkspaceID: uuid.Must(uuid.NewV7()),
		Name:        name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.workspaces.Create(ctx, ws, ownerID); err != nil {
		return nil, fmt.Errorf("failed to provision workspace: %w", err)
	}

	s.record(ctx, "provisioned")
	return ws, nil
}

// Get returns the stored subscription for a workspace.
func (s *Subscriptions) Get(ctx context.Context, workspaceID uuid.UUID) (*models.Subscription, error) {
	return s.subscriptions.Get(ctx, workspaceID)
}

// EffectivePlan returns the plan in force now. Expired paid subscriptions
// resolve to Free even before the reconciliation sweep has run.
func (s *Subscriptions) EffectivePlan(ctx context.Context, workspaceID uuid.UUID) (plans.Plan, error) {
	sub, err := s.subscriptions.Get(ctx, workspaceID)
	if err != nil {
		return plans.Plan{}, err
	}
	return s.plans.PlanFor(sub.EffectiveTierAt(s.now())), nil
}

// Upgrade moves a workspace onto a paid tier for a period ending at periodEnd.
func (s *Subscriptions) Upgrade(ctx context.Context, workspaceID uuid.UUID, tier plans.Tier, periodEnd time.Time, providerRef *string) (*models.Subscription, error) {
	return s.activate(ctx, "upgraded", workspaceID, tier, periodEnd, providerRef)
}

// Renew extends a paid period to newPeriodEnd. It does not depend on the sweep:
// a subscription the sweep already downgraded is re-activated on the renewed tier.
// Renewals older than the stored period return store.ErrStaleBillingEvent.
func (s *Subscriptions) Renew(ctx context.Context, workspaceID uuid.UUID, tier plans.Tier, newPeriodEnd time.Time, providerRef *string) (*models.Subscription, error) {
	return s.activate(ctx, "renewed", workspaceID, tier, newPeriodEnd, providerRef)
}

func (s *Subscriptions) activate(ctx context.Context, transition string, workspaceID uuid.UUID, tier plans.Tier, periodEnd time.Time, providerRef *string) (*models.Subscription, error) {
	if !tier.IsPaid() {
		return nil, fmt.Errorf("%w: %q is not a paid tier", ErrInvalidPlanChange, tier)
	}
	if !periodEnd.After(s.now()) {
		return nil, fmt.Errorf("%w: period end %s is not in the future", ErrInvalidPlanChange, periodEnd.Format(time.RFC3339))
	}

	sub, err := s.subscriptions.ActivatePaid(ctx, workspaceID, tier, periodEnd, providerRef)
	if err != nil {
		if errors.Is(err, store.ErrStaleBillingEvent) {
			telemetry.GetMetrics().StaleBillingEventsTotal.Add(ctx, 1)
			log.Warn().
				Str("workspace_id", workspaceID.String()).
				Time("period_end", periodEnd).
				Msg("Ignoring stale billing event")
		}
		return nil, err
	}

	s.record(ctx, transition)
	log.Info().
		Str("workspace_id", workspaceID.String()).
		Str("plan_tier", string(tier)).
		Time("period_end", periodEnd).
		Str("transition", transition).
		Msg("Subscription activated")

	return sub, nil
}

// MarkPastDue records a failed renewal on an active paid subscription. The
// plan stays in force until its period ends.
func (s *Subscriptions) MarkPastDue(ctx context.Context, workspaceID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.subscriptions.MarkPastDue(ctx, workspaceID, s.now())
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: subscription is not active on a paid plan", ErrInvalidPlanChange)
		}
		return nil, err
	}

	s.record(ctx, "past_due")
	log.Info().Str("workspace_id", workspaceID.String()).Msg("Subscription marked past due")
	return sub, nil
}

func (s *Subscriptions) record(ctx context.Context, transition string) {
	telemetry.GetMetrics().SubscriptionTransitionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("transition", transition)))
}
