package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/finsync")
	t.Setenv("PLUGGY_CLIENT_ID", "client-id")
	t.Setenv("PLUGGY_CLIENT_SECRET", "client-secret")
}

func TestLoad(t *testing.T) {
	t.Run("loads with defaults", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, ":8080", cfg.HTTPAddr)
		require.Equal(t, 6*time.Hour, cfg.SyncInterval)
		require.Equal(t, 30, cfg.SyncLookbackDays)
		require.Equal(t, 10, cfg.PollAttempts)
		require.Equal(t, 5*time.Second, cfg.PollInterval)
		require.Equal(t, 30*time.Second, cfg.ProviderHTTPTimeout)
		require.True(t, cfg.PluggyEnabled())
		require.False(t, cfg.BelvoEnabled())
	})

	t.Run("overrides from environment", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("HTTP_ADDR", ":9090")
		t.Setenv("SYNC_INTERVAL", "1h")
		t.Setenv("SYNC_LOOKBACK_DAYS", "60")
		t.Setenv("POLL_ATTEMPTS", "5")
		t.Setenv("POLL_INTERVAL", "2s")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, ":9090", cfg.HTTPAddr)
		require.Equal(t, time.Hour, cfg.SyncInterval)
		require.Equal(t, 60, cfg.SyncLookbackDays)
		require.Equal(t, 5, cfg.PollAttempts)
		require.Equal(t, 2*time.Second, cfg.PollInterval)
	})

	t.Run("lookback is capped at 90 days", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("SYNC_LOOKBACK_DAYS", "365")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, 30, cfg.SyncLookbackDays)
	})

	t.Run("invalid durations fall back to defaults", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("SYNC_INTERVAL", "every tuesday")
		t.Setenv("POLL_INTERVAL", "-5s")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, 6*time.Hour, cfg.SyncInterval)
		require.Equal(t, 5*time.Second, cfg.PollInterval)
	})

	t.Run("requires a database URL", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("DATABASE_URL", "")

		_, err := Load()
		require.Error(t, err)
		require.Contains(t, err.Error(), "DATABASE_URL")
	})

	t.Run("requires at least one provider credential pair", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost:5432/finsync")
		t.Setenv("PLUGGY_CLIENT_ID", "")
		t.Setenv("PLUGGY_CLIENT_SECRET", "")
		t.Setenv("BELVO_SECRET_ID", "")
		t.Setenv("BELVO_SECRET_PASSWORD", "")

		_, err := Load()
		require.Error(t, err)
		require.Contains(t, err.Error(), "provider credential")
	})

	t.Run("belvo credentials alone are enough", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost:5432/finsync")
		t.Setenv("PLUGGY_CLIENT_ID", "")
		t.Setenv("PLUGGY_CLIENT_SECRET", "")
		t.Setenv("BELVO_SECRET_ID", "secret-id")
		t.Setenv("BELVO_SECRET_PASSWORD", "secret-pass")

		cfg, err := Load()
		require.NoError(t, err)
		require.False(t, cfg.PluggyEnabled())
		require.True(t, cfg.BelvoEnabled())
	})

	t.Run("half a credential pair does not enable a provider", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("BELVO_SECRET_ID", "secret-id")

		cfg, err := Load()
		require.NoError(t, err)
		require.False(t, cfg.BelvoEnabled())
	})
}
