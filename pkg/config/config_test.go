package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "relay_outbox", cfg.Outbox.NotifyChannel)
}

func TestConnectionStringPrefersDSN(t *testing.T) {
	cfg := DatabaseConfig{DSN: "postgres://x", Host: "ignored"}
	assert.Equal(t, "postgres://x", cfg.ConnectionString())
}

func TestConnectionStringBuildsFromParts(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Contains(t, cfg.ConnectionString(), "host=db")
}

func TestLoadAppliesDatabaseURLOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override")
	os.Unsetenv("CONFIG_FILE")
	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "postgres://override", cfg.Database.DSN)
}
