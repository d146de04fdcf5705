package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolConfig_ApplyDefaults(t *testing.T) {
	cfg := &PoolConfig{ConnString: "postgres://localhost/brandpilot"}
	cfg.ApplyDefaults()

	require.Equal(t, "brandpilot", cfg.ApplicationName)
	require.Equal(t, int32(20), cfg.MaxConns)
	require.Equal(t, int32(2), cfg.MinConns)
	require.Equal(t, time.Hour, cfg.MaxConnLifetime)
	require.Equal(t, 30*time.Minute, cfg.MaxConnIdleTime)
	require.Equal(t, time.Minute, cfg.HealthCheckPeriod)
	require.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	require.NoError(t, cfg.Validate())
}

func TestPoolConfig_ApplyDefaultsKeepsSmallPools(t *testing.T) {
	cfg := &PoolConfig{ConnString: "postgres://localhost/brandpilot", MaxConns: 1}
	cfg.ApplyDefaults()

	require.Equal(t, int32(1), cfg.MinConns)
	require.NoError(t, cfg.Validate())
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PoolConfig
		wantErr string
	}{
		{name: "missing conn string", cfg: PoolConfig{MaxConns: 5}, wantErr: "connection string is required"},
		{name: "min above max", cfg: PoolConfig{ConnString: "postgres://x", MaxConns: 2, MinConns: 3}, wantErr: "exceeds max conns"},
		{name: "ok", cfg: PoolConfig{ConnString: "postgres://x", MaxConns: 3, MinConns: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewPool_nilConfig(t *testing.T) {
	_, err := NewPool(t.Context(), nil)
	require.ErrorContains(t, err, "pool config is required")
}
