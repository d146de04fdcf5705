package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/store"
)

// Config holds configuration for the PostgreSQL-backed stores.
type Config struct {
	PoolConfig

	// AutoMigrate applies pending migrations when the stores are opened.
	AutoMigrate bool
}

// Open creates the connection pool, optionally runs migrations, and returns
// the full set of stores sharing that pool. Callers own the pool and must close it.
func Open(ctx context.Context, cfg *Config) (store.Stores, *pgxpool.Pool, error) {
	if cfg == nil {
		return store.Stores{}, nil, fmt.Errorf("store config is required")
	}

	pool, err := NewPool(ctx, &cfg.PoolConfig)
	if err != nil {
		return store.Stores{}, nil, err
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			pool.Close()
			return store.Stores{}, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Database migrations completed")
	}

	return NewStores(pool), pool, nil
}

// NewStores returns the PostgreSQL stores over an existing pool.
func NewStores(pool *pgxpool.Pool) store.Stores {
	return store.Stores{
		Users:         NewUserStore(pool),
		Sessions:      NewSessionStore(pool),
		Workspaces:    NewWorkspaceStore(pool),
		Memberships:   NewMembershipStore(pool),
		Subscriptions: NewSubscriptionStore(pool),
		Usage:         NewUsageStore(pool),
	}
}
