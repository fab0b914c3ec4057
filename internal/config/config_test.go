package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "dryrun", cfg.Mode)
	assert.True(t, cfg.Exec.DryRun)
	assert.Equal(t, int64(7), cfg.Fees.Kalshi.K)
	assert.True(t, cfg.Fees.Kalshi.Convex)
	assert.False(t, cfg.Fees.Polymarket.Convex)
	assert.Equal(t, int64(0), cfg.Fees.Polymarket.FlatCents)
	assert.Equal(t, int64(2), cfg.Detect.MinNetCents)
	assert.Equal(t, 5*time.Minute, cfg.Risk.Cooldown.Duration)
	assert.Equal(t, 137, cfg.Polymarket.ChainID)

	require.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
mode = "monitor"
log_level = "debug"

[detect]
min_net_cents = 4
sweep_interval = "2s"

[risk]
max_daily_loss_cents = 25000
cooldown = "10m"

[exec]
timeout = "3s"

[server]
enabled = false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int64(4), cfg.Detect.MinNetCents)
	assert.Equal(t, 2*time.Second, cfg.Detect.SweepInterval.Duration)
	assert.Equal(t, int64(25_000), cfg.Risk.MaxDailyLossCents)
	assert.Equal(t, 10*time.Minute, cfg.Risk.Cooldown.Duration)
	assert.Equal(t, 3*time.Second, cfg.Exec.Timeout.Duration)
	assert.False(t, cfg.Server.Enabled)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	assert.Equal(t, 2*time.Hour, cfg.Matcher.TTL.Duration)

	require.NoError(t, cfg.Validate())
}

func TestLoadBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = [broken"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARBOT_MODE", "trade")
	t.Setenv("ARBOT_KALSHI_API_KEY", "key-from-env")
	t.Setenv("ARBOT_POLYMARKET_PRIVATE_KEY", "0xdeadbeef")
	t.Setenv("ARBOT_DETECT_MIN_NET_CENTS", "9")
	t.Setenv("ARBOT_RISK_COOLDOWN", "90s")
	t.Setenv("ARBOT_EXEC_DRY_RUN", "false")
	t.Setenv("ARBOT_SERVER_PORT", "9090")
	t.Setenv("ARBOT_NOTIFY_EVENTS", "breaker_tripped, daily_report")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, "key-from-env", cfg.Kalshi.ApiKey)
	assert.Equal(t, "0xdeadbeef", cfg.Polymarket.PrivateKey)
	assert.Equal(t, int64(9), cfg.Detect.MinNetCents)
	assert.Equal(t, 90*time.Second, cfg.Risk.Cooldown.Duration)
	assert.False(t, cfg.Exec.DryRun)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"breaker_tripped", "daily_report"}, cfg.Notify.Events)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`log_level = "warn"`), 0o600))
	t.Setenv("ARBOT_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	t.Run("bad mode", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "yolo"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown mode "yolo"`)
	})

	t.Run("live trading requires credentials", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "trade"
		cfg.Exec.DryRun = false
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kalshi: api_key is required")
		assert.Contains(t, err.Error(), "kalshi: rsa_private_key_path is required")
		assert.Contains(t, err.Error(), "polymarket: private_key is required")
	})

	t.Run("dryrun trade needs no credentials", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "trade"
		cfg.Exec.DryRun = true
		assert.NoError(t, cfg.Validate())
	})

	t.Run("collects multiple errors", func(t *testing.T) {
		cfg := Defaults()
		cfg.LogLevel = "loud"
		cfg.Detect.MinNetCents = 0
		cfg.Risk.Cooldown.Duration = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown log_level")
		assert.Contains(t, err.Error(), "detect: min_net_cents must be at least 1")
		assert.Contains(t, err.Error(), "risk: cooldown must be positive")
	})

	t.Run("negative fee coefficient", func(t *testing.T) {
		cfg := Defaults()
		cfg.Fees.Kalshi.K = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fees.kalshi: k must not be negative")
	})

	t.Run("server port range", func(t *testing.T) {
		cfg := Defaults()
		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())

		cfg.Server.Enabled = false
		assert.NoError(t, cfg.Validate())
	})
}
