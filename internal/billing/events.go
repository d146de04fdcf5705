package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/plans"
)

// EventType names a fact reported by the external billing provider.
type EventType string

const (
	EventSubscriptionActivated EventType = "subscription.activated"
	EventSubscriptionRenewed   EventType = "subscription.renewed"
	EventSubscriptionPastDue   EventType = "subscription.past_due"
)

// Event is a billing fact already verified by the billing collaborator.
type Event struct {
	Type        EventType  `json:"type"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	PlanTier    plans.Tier `json:"plan_tier,omitempty"`
	PeriodEnd   time.Time  `json:"period_end,omitzero"`
	ProviderRef *string    `json:"provider_ref,omitempty"`
}

// Apply dispatches a billing event to the matching transition.
func (s *Subscriptions) Apply(ctx context.Context, ev Event) (*models.Subscription, error) {
	if ev.WorkspaceID == uuid.Nil {
		return nil, fmt.Errorf("%w: workspace_id is required", ErrInvalidPlanChange)
	}

	switch ev.Type {
	case EventSubscriptionActivated:
		return s.Upgrade(ctx, ev.WorkspaceID, ev.PlanTier, ev.PeriodEnd, ev.ProviderRef)
	case EventSubscriptionRenewed:
		return s.Renew(ctx, ev.WorkspaceID, ev.PlanTier, ev.PeriodEnd, ev.ProviderRef)
	case EventSubscriptionPastDue:
		return s.MarkPastDue(ctx, ev.WorkspaceID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
}
