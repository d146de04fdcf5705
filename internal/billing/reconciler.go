package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/store"
	"github.com/wolfeidau/brandpilot/internal/telemetry"
)

// DefaultBatchSize bounds how many candidates each sweep query returns.
const DefaultBatchSize = 500

// Reconciler downgrades paid subscriptions whose period has ended.
//
// Candidates are listed first, then each is downgraded by a conditional update
// that re-checks expiry when it is applied. A renewal that lands between the
// listing and the update therefore wins, and the row is skipped.
type Reconciler struct {
	subscriptions store.SubscriptionStore
	sessions      store.SessionStore
	batchSize     int
	now           Clock
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithClock overrides the clock used to decide expiry.
func WithClock(now Clock) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithSessionCleanup makes Run also delete expired login sessions each tick.
func WithSessionCleanup(sessions store.SessionStore) ReconcilerOption {
	return func(r *Reconciler) {
		r.sessions = sessions
	}
}

// NewReconciler creates a reconciler over the subscription store.
func NewReconciler(subscriptions store.SubscriptionStore, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		subscriptions: subscriptions,
		batchSize:     DefaultBatchSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileExpired downgrades every subscription whose paid period ended
// before now and returns how many were downgraded. Running it again on the
// same state returns 0. A row that fails to downgrade is logged and left for
// the next sweep while the rest are still processed, and the failures are
// returned joined. If ctx is cancelled the sweep stops; rows already
// downgraded stay downgraded.
//
// Concurrent sweeps need no coordination: each downgrade is conditional, so
// a row claimed by one sweep is skipped by the other.
func (r *Reconciler) ReconcileExpired(ctx context.Context) (int, error) {
	start := time.Now()
	now := r.now()
	metrics := telemetry.GetMetrics()
	defer func() {
		metrics.ReconcileRunsTotal.Add(ctx, 1)
		metrics.ReconcileDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	var (
		downgraded int
		skipped    int
		errs       []error
		after      *store.ExpiredSubscription
	)

	// Pages are keyed on (period end, workspace ID) so rows that keep failing
	// never hide the candidates ordered after them.
	for {
		page, err := r.subscriptions.ListExpired(ctx, now, after, r.batchSize)
		if err != nil {
			return downgraded, fmt.Errorf("failed to list expired subscriptions: %w", err)
		}

		for _, c := range page {
			if err := ctx.Err(); err != nil {
				return downgraded, err
			}

			id := c.WorkspaceID
			ok, err := r.subscriptions.Downgrade(ctx, id, now)
			if err != nil {
				log.Error().Err(err).Str("workspace_id", id.String()).Msg("Failed to downgrade subscription")
				errs = append(errs, fmt.Errorf("workspace %s: %w", id, err))
				continue
			}
			if !ok {
				skipped++
				log.Debug().Str("workspace_id", id.String()).Msg("Subscription renewed during sweep, skipping")
				continue
			}

			downgraded++
			metrics.ReconcileDowngradesTotal.Add(ctx, 1)
			log.Info().Str("workspace_id", id.String()).Msg("Downgraded expired subscription to free")
		}

		if len(page) < r.batchSize {
			break
		}
		after = &page[len(page)-1]
	}

	if skipped > 0 {
		metrics.ReconcileSkippedTotal.Add(ctx, int64(skipped))
	}

	log.Info().
		Int("downgraded", downgraded).
		Int("skipped", skipped).
		Int("failed", len(errs)).
		Dur("duration", time.Since(start)).
		Msg("Reconciliation sweep completed")

	return downgraded, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled. It is an in-process
// alternative to an external scheduler calling the trigger endpoint.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Reconciler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconciler stopped")
			return

		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	if _, err := r.ReconcileExpired(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Reconciliation sweep failed")
	}

	if r.sessions == nil {
		return
	}

	n, err := r.sessions.DeleteExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete expired sessions")
		return
	}
	telemetry.GetMetrics().SessionsExpiredTotal.Add(ctx, int64(n))
}
