package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/store"
	memorystore "github.com/wolfeidau/brandpilot/internal/store/memory"
	postgresstore "github.com/wolfeidau/brandpilot/internal/store/postgres"
)

type Globals struct {
	Debug   bool
	Version string
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

// StoreFlags selects and configures the persistence backend.
type StoreFlags struct {
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"BRANDPILOT_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"BRANDPILOT_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

// open returns the configured stores and a function releasing them.
func (f *StoreFlags) open(ctx context.Context) (store.Stores, func(), error) {
	switch f.StoreType {
	case "postgres":
		if err := f.PostgresStore.validate(); err != nil {
			return store.Stores{}, nil, err
		}

		stores, pool, err := postgresstore.Open(ctx, &postgresstore.Config{
			PoolConfig: postgresstore.PoolConfig{
				ConnString:      f.PostgresStore.ConnString,
				MaxConns:        f.PostgresStore.MaxConns,
				MinConns:        f.PostgresStore.MinConns,
				MaxConnLifetime: f.PostgresStore.MaxConnLifetime,
				MaxConnIdleTime: f.PostgresStore.MaxConnIdleTime,
			},
			AutoMigrate: f.PostgresStore.AutoMigrate,
		})
		if err != nil {
			return store.Stores{}, nil, fmt.Errorf("failed to open postgres stores: %w", err)
		}

		log.Info().Msg("Using PostgreSQL stores with shared connection pool")
		return stores, pool.Close, nil

	default:
		log.Info().Msg("Using in-memory stores")
		return memorystore.NewStores(), func() {}, nil
	}
}
