package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig_ReferenceFile loads the shipped reference config and
// checks it round-trips the documented defaults.
func TestLoadConfig_ReferenceFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "examples", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.TickPeriod.Std())
	assert.Equal(t, 5*time.Millisecond, cfg.MinTickPeriod.Std())
	assert.Equal(t, 2*time.Second, cfg.Estimator.StalenessWindow.Std())
	assert.Equal(t, 1.0, cfg.Estimator.DefaultMargin)
	assert.Equal(t, 0.3, cfg.Reflex.EmergencyMargin)
	assert.Equal(t, []float64{50, 5, 50, 5}, cfg.Reflex.EmergencyLQRQ)
	assert.Equal(t, 3, cfg.Bandit.StaleTickBudget)
	assert.Equal(t, 10*time.Second, cfg.Cooldowns.DurationFor(KeyEmergencyStabilize))
	assert.Equal(t, 5*time.Second, cfg.Cooldowns.DurationFor("bandit_sampling-fast"),
		"unlisted keys fall back to the default cooldown")
	assert.Equal(t, 100, cfg.Recovery.History)
}

// TestLoadConfig_PartialFileOverlaysDefaults verifies that a config
// naming only a few keys inherits everything else from the defaults.
func TestLoadConfig_PartialFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	partial := "tick_period: 250ms\nbandit:\n  alpha: 0.5\n"
	require.NoError(t, os.WriteFile(path, []byte(partial), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.TickPeriod.Std())
	assert.Equal(t, 0.5, cfg.Bandit.Alpha)
	assert.Equal(t, DefaultBanditConfig().Lambda, cfg.Bandit.Lambda)
	assert.Equal(t, DefaultReflexConfig().EmergencyMargin, cfg.Reflex.EmergencyMargin)
}

func TestLoadConfig_BadDurationRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_period: sometimes\n"), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "parsing")
}

func TestLoadConfig_MissingFileIsAnError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate_RejectsOutOfRangeValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick period", func(c *Config) { c.TickPeriod = 0 }},
		{"inverted tick bounds", func(c *Config) { c.MaxTickPeriod = c.MinTickPeriod / 2 }},
		{"zero staleness window", func(c *Config) { c.Estimator.StalenessWindow = 0 }},
		{"negative default margin", func(c *Config) { c.Estimator.DefaultMargin = -1 }},
		{"negative reflex margin", func(c *Config) { c.Reflex.EmergencyMargin = -0.1 }},
		{"zero bandit lambda", func(c *Config) { c.Bandit.Lambda = 0 }},
		{"zero stale budget", func(c *Config) { c.Bandit.StaleTickBudget = 0 }},
		{"recovery below onset", func(c *Config) { c.Recovery.RecoveryThreshold = 0.1 }},
		{"zero default cooldown", func(c *Config) { c.Cooldowns.Default = 0 }},
		{"zero dispatch timeout", func(c *Config) { c.Sinks.DispatchTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", out)
}
