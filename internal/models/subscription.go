package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/brandpilot/internal/plans"
)

// SubscriptionStatus is the persisted billing status of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusPastDue SubscriptionStatus = "past_due"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// ParseSubscriptionStatus validates a stored status value.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch st := SubscriptionStatus(s); st {
	case SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown subscription status %q", s)
}

// SubscriptionState is the lifecycle state derived from the stored fields and the clock.
type SubscriptionState string

const (
	// StateFree is the permanent resting state for workspaces without a paid plan.
	StateFree SubscriptionState = "free"
	// StateActive is a paid plan inside its current period.
	StateActive SubscriptionState = "active"
	// StatePastDue is a paid plan with a failed renewal whose period has not elapsed.
	StatePastDue SubscriptionState = "past_due"
	// StateExpired is a paid plan whose period elapsed and has not yet been reconciled.
	StateExpired SubscriptionState = "expired"
)

// Subscription is the plan a workspace is on. Every workspace has exactly one.
type Subscription struct {
	WorkspaceID         uuid.UUID
	PlanTier            plans.Tier
	Status              SubscriptionStatus
	CurrentPeriodEnd    *time.Time // nil for the free tier
	ExternalProviderRef *string    // opaque billing provider reference

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewFreeSubscription returns the subscription every workspace starts with.
func NewFreeSubscription(workspaceID uuid.UUID, now time.Time) *Subscription {
	return &Subscription{
		WorkspaceID: workspaceID,
		PlanTier:    plans.TierFree,
		Status:      SubscriptionStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// StateAt derives the lifecycle state at the given instant.
func (s *Subscription) StateAt(now time.Time) SubscriptionState {
	if !s.PlanTier.IsPaid() {
		return StateFree
	}
	if s.Status == SubscriptionStatusExpired || s.PeriodElapsedAt(now) {
		return StateExpired
	}
	if s.Status == SubscriptionStatusPastDue {
		return StatePastDue
	}
	return StateActive
}

// PeriodElapsedAt reports whether a paid period has ended at now.
// A paid subscription without a period end is treated as elapsed.
func (s *Subscription) PeriodElapsedAt(now time.Time) bool {
	if s.CurrentPeriodEnd == nil {
		return true
	}
	return s.CurrentPeriodEnd.Before(now)
}

// EffectiveTierAt returns the tier in force at now. An expired paid
// subscription is already treated as free, before the sweep applies the downgrade.
func (s *Subscription) EffectiveTierAt(now time.Time) plans.Tier {
	switch s.StateAt(now) {
	case StateActive, StatePastDue:
		return s.PlanTier
	default:
		return plans.TierFree
	}
}

// CycleStartAt returns the start of the quota cycle in force at now.
// Paid plans count in monthly steps back from the period end, taking the
// latest step not after now; free and expired plans use the calendar month in UTC.
func (s *Subscription) CycleStartAt(now time.Time) time.Time {
	if !s.EffectiveTierAt(now).IsPaid() {
		return CalendarMonthStart(now)
	}

	end := s.CurrentPeriodEnd.UTC()
	start := monthsBefore(end, 1)
	for months := 2; start.After(now); months++ {
		start = monthsBefore(end, months)
	}
	return start
}

// monthsBefore steps t back n calendar months, clamping the day to the
// length of the target month so Mar 31 minus one month is Feb 28, not Mar 3.
func monthsBefore(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()-time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(t.Day(), lastDay)-1)
}

// CalendarMonthStart returns midnight UTC on the first day of the month containing t.
func CalendarMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
