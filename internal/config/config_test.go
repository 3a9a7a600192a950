package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[general]
log_level = "debug"

[watcher]
backend = "poll"
max_attempts = 3
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, BackendPoll, cfg.Watcher.Backend)
	assert.Equal(t, 3, cfg.Watcher.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Watcher.MaxBackoff())
	assert.Equal(t, 30*time.Second, cfg.Transcript.CacheTTL())
}

func TestLoadFromInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[general\n"), 0o600))
	_, err := LoadFrom(path)
	require.Error(t, err)
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.General.ClaudeDir = "/tmp/claude"
	cfg.Daemon.Addr = "127.0.0.1:9999"

	require.NoError(t, SaveTo(path, cfg))
	got, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestActivityLogPathPrecedence(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")
	t.Setenv(ActivityLogEnv, "")

	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("/state", "cbuddy", "activity.log"), ActivityLogPath(cfg))

	cfg.General.ActivityLog = "/configured.log"
	assert.Equal(t, "/configured.log", ActivityLogPath(cfg))

	t.Setenv(ActivityLogEnv, "/env.log")
	assert.Equal(t, "/env.log", ActivityLogPath(cfg))
}

func TestXDGDirs(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_STATE_HOME", "/state")

	assert.Equal(t, filepath.Join("/cfg", "cbuddy", "config.toml"), ConfigPath())
	assert.Equal(t, filepath.Join("/state", "cbuddy", "state.db"), StateDBPath(DefaultConfig()))
}
