package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/billing"
	"github.com/wolfeidau/brandpilot/internal/logger"
)

// ReconcileCmd runs one reconciliation sweep directly against the store.
type ReconcileCmd struct {
	BatchSize int  `help:"expired subscriptions fetched per page; the sweep pages through every candidate" default:"500" env:"BRANDPILOT_RECONCILE_BATCH_SIZE"`
	Sessions  bool `help:"also delete expired sessions" default:"true" negatable:""`

	Store StoreFlags `embed:""`
}

func (c *ReconcileCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = logger.Setup(globals.Debug)

	if c.Store.StoreType != "postgres" {
		return errors.New("reconcile needs a persistent store (--store-type=postgres)")
	}

	stores, closeStores, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	reconciler := billing.NewReconciler(stores.Subscriptions, billing.WithBatchSize(c.BatchSize))

	n, err := reconciler.ReconcileExpired(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	if c.Sessions {
		deleted, err := stores.Sessions.DeleteExpired(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete expired sessions: %w", err)
		}
		log.Info().Int("sessions_deleted", deleted).Msg("Expired sessions deleted")
	}

	fmt.Printf("downgraded %d workspace(s)\n", n)
	return nil
}
