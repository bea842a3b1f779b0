package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, 100, cfg.Leaderboard.MaxLimit)
	assert.False(t, cfg.Sessions.SingleActivePerPlayer)
	assert.True(t, cfg.Refresh.Enabled)
	assert.Equal(t, "range-shots", cfg.Kafka.ShotsTopic)
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
storage:
  driver: memory
sessions:
  single_active_per_player: true
leaderboard:
  default_limit: 25
kafka:
  brokers: ["k1:9092", "k2:9092"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.True(t, cfg.Sessions.SingleActivePerPlayer)
	assert.Equal(t, 25, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, 100, cfg.Leaderboard.MaxLimit)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_ExpandsAndOverridesFromEnv(t *testing.T) {
	t.Setenv("RANGE_DB_PASSWORD", "from-expand")
	t.Setenv("SHOTS_POSTGRES_HOST", "db.internal")
	t.Setenv("SHOTS_SESSIONS_SINGLE_ACTIVE_PER_PLAYER", "true")
	t.Setenv("SHOTS_KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("SHOTS_REFRESH_INTERVAL", "15s")

	path := writeConfig(t, `
postgres:
  host: localhost
  password: ${RANGE_DB_PASSWORD}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-expand", cfg.Postgres.Password)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.True(t, cfg.Sessions.SingleActivePerPlayer)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Second, cfg.Refresh.Interval)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	_, err = Load(writeConfig(t, "server: [unterminated"))
	assert.ErrorContains(t, err, "parsing config file")

	t.Setenv("SHOTS_SERVER_PORT", "not-a-number")
	_, err = Load(writeConfig(t, "server:\n  port: 1\n"))
	assert.ErrorContains(t, err, "parsing environment")
}

func TestDefaultLimitClampedToMax(t *testing.T) {
	cfg := &Config{Leaderboard: LeaderboardConfig{DefaultLimit: 500, MaxLimit: 50}}
	cfg.applyDefaults()
	assert.Equal(t, 50, cfg.Leaderboard.DefaultLimit)
}

func TestPostgresConnectionString(t *testing.T) {
	cfg := PostgresConfig{User: "u", Password: "p", Host: "h", Port: 5432, Database: "d"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", cfg.ConnectionString())

	cfg.SSLMode = "require"
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=require", cfg.ConnectionString())
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warn"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LogConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: ""}.SlogLevel())
}
