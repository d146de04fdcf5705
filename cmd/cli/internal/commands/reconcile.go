package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/brandpilot/internal/client"
)

// ReconcileCmd asks the server to downgrade lapsed subscriptions. It is the
// command a scheduler runs.
type ReconcileCmd struct {
	ClientFlags `embed:""`

	MaxRetries uint `help:"retries on network errors and 5xx responses" default:"5"`
}

func (c *ReconcileCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	cfg.MaxRetries = c.MaxRetries

	n, err := client.New(cfg).TriggerReconcile(ctx)
	if err != nil {
		return fmt.Errorf("failed to trigger reconcile: %w", err)
	}

	fmt.Printf("Downgraded %d workspace(s)\n", n)
	return nil
}
