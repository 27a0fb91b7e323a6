package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Minute, cfg.Engine.StaleCallDeadline)
	assert.Equal(t, 30*time.Second, cfg.Engine.ReaperInterval)
	assert.Equal(t, 500, cfg.Engine.MaxLedgerEntriesPerCall)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
nats:
  url: nats://bus:4222
db:
  host: db.internal
  name: radio
engine:
  stale_call_deadline: 2m
  reaper_interval: 15s
  max_ledger_entries_per_call: 50
watch_dir: /var/lib/recordings
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 2*time.Minute, cfg.Engine.StaleCallDeadline)
	assert.Equal(t, 15*time.Second, cfg.Engine.ReaperInterval)
	assert.Equal(t, 50, cfg.Engine.MaxLedgerEntriesPerCall)
	assert.Equal(t, "/var/lib/recordings", cfg.WatchDir)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9090\"\n"), 0o644))

	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("STALE_CALL_DEADLINE", "10m")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Minute, cfg.Engine.StaleCallDeadline)
	assert.Equal(t, "secret", cfg.DB.Password)
}

func TestLoad_RejectsBadDurations(t *testing.T) {
	t.Setenv("STALE_CALL_DEADLINE", "-1m")
	_, err := Load("")
	assert.Error(t, err)
}

func TestConnString(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.DB.User = "radio"
	cfg.DB.Password = "pw"
	cfg.DB.Name = "calls"

	assert.Equal(t, "postgres://radio:pw@localhost:5432/calls?sslmode=disable", cfg.ConnString())
}
