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

// maxConsumeAttempts bounds how often TryConsume re-reads a subscription that
// changed under it.
const maxConsumeAttempts = 3

// QuotaGate meters usage and features against a workspace's effective plan.
// The subscription is read on every call so a downgrade takes effect on the
// very next request.
type QuotaGate struct {
	subscriptions store.SubscriptionStore
	usage         store.UsageStore
	plans         *plans.Registry
	now           Clock
}

// NewQuotaGate creates a quota gate. A nil clock uses time.Now.
func NewQuotaGate(stores store.Stores, registry *plans.Registry, now Clock) *QuotaGate {
	if now == nil {
		now = time.Now
	}
	return &QuotaGate{
		subscriptions: stores.Subscriptions,
		usage:         stores.Usage,
		plans:         registry,
		now:           now,
	}
}

// Usage is a point-in-time view of a workspace's plan and consumption.
type Usage struct {
	WorkspaceID  uuid.UUID                `json:"workspace_id"`
	Plan         plans.Plan               `json:"plan"`
	Subscription *models.Subscription     `json:"-"`
	State        models.SubscriptionState `json:"state"`
	CycleStart   time.Time                `json:"cycle_start"`
	Used         int                      `json:"generations_used"`
	Limit        int                      `json:"generation_limit"`
}

// Remaining returns the generations left in the cycle, or plans.Unlimited.
func (u *Usage) Remaining() int {
	if u.Limit == plans.Unlimited {
		return plans.Unlimited
	}
	return max(u.Limit-u.Used, 0)
}

// TryConsume atomically records amount generations if the effective plan's
// monthly limit allows it. When it does not, a *QuotaExceededError is returned
// and the counter is unchanged.
func (q *QuotaGate) TryConsume(ctx context.Context, workspaceID uuid.UUID, amount int) (*models.UsageCounter, error) {
	if amount < 1 {
		return nil, ErrInvalidAmount
	}

	var (
		plan    plans.Plan
		cycle   time.Time
		counter *models.UsageCounter
		err     error
	)
	for attempt := 1; ; attempt++ {
		plan, cycle, counter, err = q.consume(ctx, workspaceID, amount)
		if !errors.Is(err, store.ErrSubscriptionChanged) || attempt == maxConsumeAttempts {
			break
		}
		log.Debug().Str("workspace_id", workspaceID.String()).Msg("Subscription changed while consuming, retrying")
	}

	metrics := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("plan_tier", string(plan.Tier)))

	if err != nil {
		if !errors.Is(err, store.ErrQuotaExhausted) {
			return nil, fmt.Errorf("failed to record usage: %w", err)
		}

		metrics.QuotaDeniedTotal.Add(ctx, 1, attrs)

		current, gerr := q.usage.Get(ctx, workspaceID, cycle)
		if gerr != nil {
			return nil, fmt.Errorf("failed to read usage: %w", gerr)
		}

		log.Info().
			Str("workspace_id", workspaceID.String()).
			Str("plan_tier", string(plan.Tier)).
			Int("used", current.GenerationsUsed).
			Int("requested", amount).
			Msg("Quota exceeded")

		return nil, &QuotaExceededError{
			WorkspaceID: workspaceID,
			Tier:        plan.Tier,
			Limit:       plan.MonthlyGenerationLimit,
			Used:        current.GenerationsUsed,
			Requested:   amount,
		}
	}

	metrics.QuotaGrantedTotal.Add(ctx, 1, attrs)
	metrics.GenerationsConsumed.Add(ctx, int64(amount), attrs)

	return counter, nil
}

// consume prices one increment against the subscription as read now. The
// store rejects it with store.ErrSubscriptionChanged if the plan moved since.
func (q *QuotaGate) consume(ctx context.Context, workspaceID uuid.UUID, amount int) (plans.Plan, time.Time, *models.UsageCounter, error) {
	now := q.now()
	sub, err := q.subscriptions.Get(ctx, workspaceID)
	if err != nil {
		return plans.Plan{}, time.Time{}, nil, fmt.Errorf("failed to read subscription: %w", err)
	}

	plan := q.plans.PlanFor(sub.EffectiveTierAt(now))
	cycle := sub.CycleStartAt(now)

	counter, err := q.usage.Increment(ctx, workspaceID, store.BasisOf(sub), cycle, amount, plan.MonthlyGenerationLimit)
	return plan, cycle, counter, err
}

// RequireFeature returns a *FeatureNotAvailableError unless the effective plan
// includes the feature.
func (q *QuotaGate) RequireFeature(ctx context.Context, workspaceID uuid.UUID, feature plans.Feature) error {
	sub, err := q.subscriptions.Get(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to read subscription: %w", err)
	}

	plan := q.plans.PlanFor(sub.EffectiveTierAt(q.now()))
	if plan.HasFeature(feature) {
		return nil
	}

	required, _ := q.plans.MinimumTierFor(feature)
	telemetry.GetMetrics().FeatureDeniedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("feature", string(feature))))

	return &FeatureNotAvailableError{
		WorkspaceID:  workspaceID,
		Feature:      feature,
		Tier:         plan.Tier,
		RequiredTier: required,
	}
}

// Usage reports the current cycle's consumption against the effective plan.
func (q *QuotaGate) Usage(ctx context.Context, workspaceID uuid.UUID) (*Usage, error) {
	now := q.now()
	sub, err := q.subscriptions.Get(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription: %w", err)
	}

	plan := q.plans.PlanFor(sub.EffectiveTierAt(now))
	cycle := sub.CycleStartAt(now)

	counter, err := q.usage.Get(ctx, workspaceID, cycle)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	return &Usage{
		WorkspaceID:  workspaceID,
		Plan:         plan,
		Subscription: sub,
		State:        sub.StateAt(now),
		CycleStart:   cycle,
		Used:         counter.GenerationsUsed,
		Limit:        plan.MonthlyGenerationLimit,
	}, nil
}

// History returns every recorded cycle for a workspace, newest first.
func (q *QuotaGate) History(ctx context.Context, workspaceID uuid.UUID) ([]*models.UsageCounter, error) {
	counters, err := q.usage.List(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	return counters, nil
}
