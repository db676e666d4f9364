package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SCANNER_CONFIG", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", cfg.Scan.Timezone)
	assert.Equal(t, 0.5, cfg.Scan.MinGapPercent)
	assert.Equal(t, 3, cfg.Scan.RetentionDays)
	assert.Equal(t, 5*time.Minute, cfg.Scan.RescanInterval)
	assert.Equal(t, time.Minute, cfg.Scan.TickInterval)
	assert.Equal(t, 12*time.Minute, cfg.Scan.OpeningRange)
	assert.Equal(t, 20, cfg.Scan.BatchSize)
	assert.Equal(t, "file", cfg.History.Backend)
}

func TestLoadConfig_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	yamlDoc := `
universe_file: sp500.csv
scan:
  min_gap_percent: 1.25
  window_start: "09:45"
  retention_days: 5
  rescan_interval: 10m
  gap_mode: simple
history:
  backend: sqlite
  sqlite_path: /tmp/gaps.db
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0644))
	t.Setenv("SCANNER_CONFIG", path)
	t.Setenv("RETENTION_DAYS", "7")
	t.Setenv("HISTORY_BACKEND", "Redis")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1.25, cfg.Scan.MinGapPercent)
	assert.Equal(t, "09:45", cfg.Scan.WindowStart)
	assert.Equal(t, "16:00", cfg.Scan.WindowEnd, "unset yaml keys keep defaults")
	assert.Equal(t, 10*time.Minute, cfg.Scan.RescanInterval)
	assert.Equal(t, "simple", cfg.Scan.GapMode)
	assert.Equal(t, 7, cfg.Scan.RetentionDays, "env wins over yaml")
	assert.Equal(t, "redis", cfg.History.Backend)
	assert.Equal(t, "/tmp/gaps.db", cfg.History.SQLitePath)
	assert.Equal(t, "sp500.csv", cfg.UniverseFile)
}

func TestLoadConfig_ProviderAndSchedulerEnv(t *testing.T) {
	t.Setenv("SCANNER_CONFIG", "")
	t.Setenv("BREAKER_FAILURES", "9")
	t.Setenv("BREAKER_COOLDOWN", "90s")
	t.Setenv("SCHEDULER_TICK", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, uint32(9), cfg.Provider.BreakerFailures)
	assert.Equal(t, 90*time.Second, cfg.Provider.BreakerCooldown)
	assert.Equal(t, 30*time.Second, cfg.Scan.TickInterval)

	t.Setenv("BREAKER_FAILURES", "-1")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), cfg.Provider.BreakerFailures, "negative values keep the default")
}

func TestLoadConfig_MissingYAML(t *testing.T) {
	t.Setenv("SCANNER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"negative gap", func(c *Config) { c.Scan.MinGapPercent = -1 }},
		{"zero tick", func(c *Config) { c.Scan.TickSize = 0 }},
		{"zero batch", func(c *Config) { c.Scan.BatchSize = 0 }},
		{"zero workers", func(c *Config) { c.Scan.MaxWorkers = 0 }},
		{"zero retention", func(c *Config) { c.Scan.RetentionDays = 0 }},
		{"zero lookback", func(c *Config) { c.Scan.LookbackDays = 0 }},
		{"zero scheduler tick", func(c *Config) { c.Scan.TickInterval = 0 }},
		{"zero breaker cooldown", func(c *Config) { c.Provider.BreakerCooldown = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, Defaults().Validate())
}

func TestMaskHost(t *testing.T) {
	assert.Equal(t, "***", maskHost("db"))
	assert.Equal(t, "loc***", maskHost("localhost"))
	assert.Equal(t, "db.inter***xample.com", maskHost("db.internal.corp.example.com"))
}
