package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, 0.25, cfg.Rules.MinCompletionRate)
	assert.Equal(t, 7, cfg.Rules.MinRecentCheckins)
	assert.Equal(t, 14, cfg.Rules.RecentWindowDays)
	assert.Equal(t, 1, cfg.Rules.BackfillDays)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"DATABASE_URL=postgres://pe:pe@localhost:5432/pe\n"+
			"APP_TIMEZONE=Europe/Lisbon\n"+
			"AUTH_SERVICE_KEYS='grader:$2a$10$abc, ops:$2a$10$def'\n"+
			"RULES_MIN_RECENT_CHECKINS=5\n",
	), 0o600))
	t.Setenv("RULES_MIN_RECENT_CHECKINS", "9")
	// godotenv does not overwrite, so register cleanups for what it sets.
	for _, k := range []string{"DATABASE_URL", "APP_TIMEZONE", "AUTH_SERVICE_KEYS"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "Europe/Lisbon", cfg.App.Location.String())
	assert.Equal(t, []string{"grader:$2a$10$abc", "ops:$2a$10$def"}, cfg.HTTP.ServiceKeys)
	assert.Equal(t, 9, cfg.Rules.MinRecentCheckins)
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("RULES_MIN_COMPLETION_RATE", "1.5")
	t.Setenv("SCHEDULER_RECONCILE_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{"APP_TIMEZONE", "DB_DRIVER", "RULES_MIN_COMPLETION_RATE", "SCHEDULER_RECONCILE_WORKERS"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestMemoryDriverRejectedInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DB_DRIVER", "memory")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory driver")
}
