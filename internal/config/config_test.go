package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OVERSEER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8040, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 120000, cfg.Budget.BackgroundHourlyTokens)
	assert.Equal(t, 1200000, cfg.Budget.BackgroundDailyTokens)
	assert.False(t, cfg.Budget.EnforceUserCaps)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 15*time.Second, cfg.Dispatch.UserHold)
	assert.Equal(t, 500, cfg.Journal.MaxEvents)
	assert.True(t, cfg.Sysmon.Enabled)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, 7, cfg.Backup.KeepCount)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OVERSEER_DATA_DIR", t.TempDir())
	t.Setenv("OVERSEER_PORT", "9000")
	t.Setenv("OVERSEER_BG_HOURLY_TOKENS", "50000")
	t.Setenv("OVERSEER_TICK_INTERVAL", "5s")
	t.Setenv("OVERSEER_ENFORCE_USER_CAPS", "true")
	t.Setenv("OVERSEER_USER_DAILY_TOKENS", "80000")
	t.Setenv("OVERSEER_SYSMON_CPU_HIGH", "75.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 50000, cfg.Budget.BackgroundHourlyTokens)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.Interval)
	assert.True(t, cfg.Budget.EnforceUserCaps)
	assert.Equal(t, 80000, cfg.Budget.UserDailyTokens)
	assert.Equal(t, 75.5, cfg.Sysmon.CPUHighPct)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("OVERSEER_DATA_DIR", t.TempDir())
	t.Setenv("OVERSEER_PORT", "not-a-number")
	t.Setenv("OVERSEER_TICK_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8040, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
}

func TestValidate(t *testing.T) {
	valid := &Config{
		Heartbeat: HeartbeatConfig{Interval: time.Second},
	}
	assert.NoError(t, valid.Validate())

	t.Run("negative budget", func(t *testing.T) {
		cfg := *valid
		cfg.Budget.BackgroundHourlyTokens = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero interval", func(t *testing.T) {
		cfg := *valid
		cfg.Heartbeat.Interval = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("backup without bucket", func(t *testing.T) {
		cfg := *valid
		cfg.Backup.Enabled = true
		assert.Error(t, cfg.Validate())
	})
}
