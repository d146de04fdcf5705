package commands

import (
	"context"
	"fmt"
)

// InitCmd writes the config file from the given flags.
type InitCmd struct {
	ClientFlags `embed:""`

	CacheDir string `help:"directory for the HTTP cache, in memory when empty"`
}

func (c *InitCmd) Run(ctx context.Context, globals *Globals) error {
	path, err := c.configPath()
	if err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if c.CacheDir != "" {
		cfg.CacheDir = c.CacheDir
	}

	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Printf("Wrote config: %s\n", path)
	fmt.Printf("Server: %s\n", cfg.ServerURL)
	if cfg.CronSecret == "" {
		fmt.Println()
		fmt.Println("No cron secret set. The reconcile command will be rejected by servers that require one.")
	}
	return nil
}
