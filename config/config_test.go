package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "SYMBOL", "PRIMARY_TIMEFRAME", "LTF_TIMEFRAME", "SIGNAL_COOLDOWN", "HARD_STOP", "WEEKEND_FILTER")

	cfg := Load()
	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, "M15", cfg.PrimaryTimeframe)
	assert.Equal(t, "M5", cfg.LTFTimeframe)
	assert.Equal(t, 3, cfg.SignalCooldown)
	assert.True(t, cfg.WeekendFilter)
}

func TestLoadHonoursEnvOverrides(t *testing.T) {
	clearEnv(t, "SYMBOL", "SIGNAL_COOLDOWN", "SPREAD_FILTER")
	t.Setenv("SYMBOL", "ETHUSDT")
	t.Setenv("SIGNAL_COOLDOWN", "7")
	t.Setenv("SPREAD_FILTER", "false")

	cfg := Load()
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, 7, cfg.SignalCooldown)
	assert.False(t, cfg.SpreadFilter)
}

func TestLoadFallsBackToDefaultOnUnparsableEnvValue(t *testing.T) {
	clearEnv(t, "SIGNAL_COOLDOWN")
	t.Setenv("SIGNAL_COOLDOWN", "not-a-number")

	cfg := Load()
	require.Equal(t, 3, cfg.SignalCooldown)
}

func TestEveryDetectorFlagDefaultsEnabled(t *testing.T) {
	for _, k := range allSignalKeys {
		clearEnv(t, "ENABLE_"+k)
	}
	cfg := Load()
	for _, k := range allSignalKeys {
		assert.True(t, cfg.EnableSignal[k], "expected %s enabled by default", k)
	}
}

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		v, had := os.LookupEnv(k)
		os.Unsetenv(k)
		if had {
			t.Cleanup(func() { os.Setenv(k, v) })
		}
	}
}
