package billing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/brandpilot/internal/plans"
)

var (
	// ErrInvalidAmount is returned when a quota request asks for less than one unit.
	ErrInvalidAmount = errors.New("amount must be at least 1")
	// ErrInvalidPlanChange is returned for transitions the state machine does not allow.
	ErrInvalidPlanChange = errors.New("invalid plan change")
	// ErrUnknownEventType is returned for billing events this service does not handle.
	ErrUnknownEventType = errors.New("unknown billing event type")
)

// QuotaExceededError is returned when consuming would take usage past the
// plan's monthly limit. The counter is left unchanged.
type QuotaExceededError struct {
	WorkspaceID uuid.UUID
	Tier        plans.Tier
	Limit       int
	Used        int
	Requested   int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: workspace %s on %s plan has used %d of %d generations, requested %d",
		e.WorkspaceID, e.Tier, e.Used, e.Limit, e.Requested)
}

// FeatureNotAvailableError is returned when the effective plan lacks a feature.
// RequiredTier is the cheapest tier that includes it.
type FeatureNotAvailableError struct {
	WorkspaceID  uuid.UUID
	Feature      plans.Feature
	Tier         plans.Tier
	RequiredTier plans.Tier
}

func (e *FeatureNotAvailableError) Error() string {
	return fmt.Sprintf("feature %s is not available on the %s plan (requires %s)", e.Feature, e.Tier, e.RequiredTier)
}
