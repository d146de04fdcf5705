package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/plans"
	"github.com/wolfeidau/brandpilot/internal/store"
)

// SubscriptionStore implements store.SubscriptionStore using PostgreSQL.
//
// Every transition is a single UPDATE whose WHERE clause re-checks the
// precondition, so the guard is evaluated against the row as it is when the
// write lands rather than when a candidate was read.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewSubscriptionStore creates a new PostgreSQL-backed subscription store.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{
		pool: pool,
	}
}

const subscriptionColumns = `workspace_id, plan_tier, status, current_period_end, external_provider_ref, created_at, updated_at`

// Get retrieves the subscription for a workspace.
func (s *SubscriptionStore) Get(ctx context.Context, workspaceID uuid.UUID) (*models.Subscription, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE workspace_id = $1`, workspaceID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", mapPostgresError(err))
	}

	return sub, nil
}

// ActivatePaid sets a paid tier and period end unless the stored paid period
// is already later than periodEnd.
func (s *SubscriptionStore) ActivatePaid(ctx context.Context, workspaceID uuid.UUID, tier plans.Tier, periodEnd time.Time, providerRef *string) (*models.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET plan_tier = $2,
			status = 'active',
			current_period_end = $3,
			external_provider_ref = COALESCE($4, external_provider_ref),
			updated_at = now()
		WHERE workspace_id = $1
		  AND (plan_tier = 'free' OR current_period_end IS NULL OR current_period_end <= $3)
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, workspaceID, string(tier), periodEnd, providerRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.explainMiss(ctx, workspaceID, store.ErrStaleBillingEvent)
		}
		return nil, fmt.Errorf("failed to activate subscription: %w", mapPostgresError(err))
	}

	log.Info().
		Str("workspace_id", workspaceID.String()).
		Str("plan_tier", string(tier)).
		Time("period_end", periodEnd).
		Msg("Activated paid subscription")

	return sub, nil
}

// MarkPastDue moves an active, unexpired paid subscription to past_due.
func (s *SubscriptionStore) MarkPastDue(ctx context.Context, workspaceID uuid.UUID, now time.Time) (*models.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = 'past_due', updated_at = now()
		WHERE workspace_id = $1
		  AND plan_tier <> 'free'
		  AND status = 'active'
		  AND current_period_end >= $2
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, workspaceID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.explainMiss(ctx, workspaceID, store.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("failed to mark subscription past due: %w", mapPostgresError(err))
	}

	return sub, nil
}

// ListExpired returns workspaces whose paid period ended before now, oldest first.
// A non-positive limit returns every candidate.
func (s *SubscriptionStore) ListExpired(ctx context.Context, now time.Time, after *store.ExpiredSubscription, limit int) ([]store.ExpiredSubscription, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	var (
		afterEnd *time.Time
		afterID  *uuid.UUID
	)
	if after != nil {
		afterEnd, afterID = &after.CurrentPeriodEnd, &after.WorkspaceID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT workspace_id, current_period_end
		FROM subscriptions
		WHERE plan_tier <> 'free'
		  AND status IN ('active', 'past_due')
		  AND current_period_end < $1
		  AND ($2::timestamptz IS NULL OR (current_period_end, workspace_id) > ($2::timestamptz, $3::uuid))
		ORDER BY current_period_end, workspace_id
		LIMIT $4
	`, now, afterEnd, afterID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired subscriptions: %w", mapPostgresError(err))
	}

	expired, err := pgx.CollectRows(rows, pgx.RowToStructByPos[store.ExpiredSubscription])
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired subscriptions: %w", mapPostgresError(err))
	}

	return expired, nil
}

// Downgrade moves a subscription to free if it is still expired when the update runs.
func (s *SubscriptionStore) Downgrade(ctx context.Context, workspaceID uuid.UUID, now time.Time) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET plan_tier = 'free',
			status = 'active',
			current_period_end = NULL,
			updated_at = now()
		WHERE workspace_id = $1
		  AND plan_tier <> 'free'
		  AND status IN ('active', 'past_due')
		  AND current_period_end < $2
	`, workspaceID, now)
	if err != nil {
		return false, fmt.Errorf("failed to downgrade subscription: %w", mapPostgresError(err))
	}

	return result.RowsAffected() == 1, nil
}

// explainMiss distinguishes a missing subscription from a failed guard.
func (s *SubscriptionStore) explainMiss(ctx context.Context, workspaceID uuid.UUID, guardErr error) error {
	if _, err := s.Get(ctx, workspaceID); err != nil {
		return err
	}
	return guardErr
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var sub models.Subscription
	var tier, status string
	if err := row.Scan(
		&sub.WorkspaceID,
		&tier,
		&status,
		&sub.CurrentPeriodEnd,
		&sub.ExternalProviderRef,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}

	// Unknown stored tiers resolve to the Free plan through the registry.
	sub.PlanTier = plans.Tier(tier)

	st, err := models.ParseSubscriptionStatus(status)
	if err != nil {
		return nil, err
	}
	sub.Status = st

	return &sub, nil
}

// UsageStore implements store.UsageStore using PostgreSQL.
type UsageStore struct {
	pool *pgxpool.Pool
}

// NewUsageStore creates a new PostgreSQL-backed usage store.
func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{
		pool: pool,
	}
}

// Increment adds amount to the cycle counter. The subscription row is read
// FOR SHARE first, so a plan change cannot commit between the check and the
// counter write. The upsert's insert arm covers the first use in a cycle; the
// conflict arm re-checks the limit against the current row so concurrent
// callers can never overshoot it.
func (s *UsageStore) Increment(ctx context.Context, workspaceID uuid.UUID, basis store.PlanBasis, cycleStart time.Time, amount, limit int) (*models.UsageCounter, error) {
	var c models.UsageCounter

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			tier      plans.Tier
			periodEnd *time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT plan_tier, current_period_end
			FROM subscriptions
			WHERE workspace_id = $1
			FOR SHARE
		`, workspaceID).Scan(&tier, &periodEnd)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrSubscriptionNotFound
			}
			return fmt.Errorf("failed to lock subscription: %w", mapPostgresError(err))
		}
		if !basis.Matches(tier, periodEnd) {
			return store.ErrSubscriptionChanged
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO usage_counters AS u (workspace_id, cycle_start, generations_used, updated_at)
			SELECT $1::uuid, $2::timestamptz, $3::int, now()
			WHERE $4::int < 0 OR $3::int <= $4::int
			ON CONFLICT (workspace_id, cycle_start) DO UPDATE
			SET generations_used = u.generations_used + EXCLUDED.generations_used,
				updated_at = EXCLUDED.updated_at
			WHERE $4::int < 0 OR u.generations_used + EXCLUDED.generations_used <= $4::int
			RETURNING workspace_id, cycle_start, generations_used, updated_at
		`, workspaceID, cycleStart.UTC(), amount, limit).Scan(
			&c.WorkspaceID,
			&c.CycleStart,
			&c.GenerationsUsed,
			&c.UpdatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrQuotaExhausted
			}
			return fmt.Errorf("failed to increment usage: %w", mapPostgresError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.CycleStart = c.CycleStart.UTC()
	return &c, nil
}

// Get returns the counter for a cycle, zero if none exists.
func (s *UsageStore) Get(ctx context.Context, workspaceID uuid.UUID, cycleStart time.Time) (*models.UsageCounter, error) {
	c := models.UsageCounter{WorkspaceID: workspaceID, CycleStart: cycleStart.UTC()}

	err := s.pool.QueryRow(ctx, `
		SELECT generations_used, updated_at
		FROM usage_counters
		WHERE workspace_id = $1 AND cycle_start = $2
	`, workspaceID, cycleStart.UTC()).Scan(&c.GenerationsUsed, &c.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get usage: %w", mapPostgresError(err))
	}

	return &c, nil
}

// List returns all counters for a workspace, newest cycle first.
func (s *UsageStore) List(ctx context.Context, workspaceID uuid.UUID) ([]*models.UsageCounter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workspace_id, cycle_start, generations_used, updated_at
		FROM usage_counters
		WHERE workspace_id = $1
		ORDER BY cycle_start DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", mapPostgresError(err))
	}

	counters, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.UsageCounter, error) {
		var c models.UsageCounter
		if err := row.Scan(&c.WorkspaceID, &c.CycleStart, &c.GenerationsUsed, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.CycleStart = c.CycleStart.UTC()
		return &c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan usage: %w", mapPostgresError(err))
	}

	return counters, nil
}
