// Package config loads and saves cbuddy's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ActivityLogEnv overrides the configured activity log path.
const ActivityLogEnv = "CBUDDY_ACTIVITY_LOG"

// Config holds all cbuddy configuration.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Transcript TranscriptConfig `toml:"transcript"`
	Watcher    WatcherConfig    `toml:"watcher"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Friendship FriendshipConfig `toml:"friendship"`
}

// GeneralConfig holds paths and logging preferences.
type GeneralConfig struct {
	ClaudeDir   string `toml:"claude_dir,omitempty"`
	ActivityLog string `toml:"activity_log,omitempty"`
	StateDB     string `toml:"state_db,omitempty"`
	LogLevel    string `toml:"log_level"`
}

// TranscriptConfig tunes the transcript cache and resolution budget.
type TranscriptConfig struct {
	CacheTTLSecs       int `toml:"cache_ttl_secs"`
	MaxFiles           int `toml:"max_files"`
	ResolveTimeoutSecs int `toml:"resolve_timeout_secs"`
}

// WatcherConfig tunes reply watching.
type WatcherConfig struct {
	Backend           string `toml:"backend"` // "fsnotify" or "poll"
	MaxAttempts       int    `toml:"max_attempts"`
	BaseBackoffSecs   int    `toml:"base_backoff_secs"`
	MaxBackoffSecs    int    `toml:"max_backoff_secs"`
	StaleAfterSecs    int    `toml:"stale_after_secs"`
	SweepIntervalSecs int    `toml:"sweep_interval_secs"`
	PollIntervalMs    int    `toml:"poll_interval_ms"`
	DebounceMs        int    `toml:"debounce_ms"`
}

// DaemonConfig holds daemon settings.
type DaemonConfig struct {
	Addr         string `toml:"addr"`
	BackfillMins int    `toml:"backfill_mins"`
	EventsBuffer int    `toml:"events_buffer"`
}

// FriendshipConfig assigns points to companion events.
type FriendshipConfig struct {
	PromptPoints int `toml:"prompt_points"`
	ReplyPoints  int `toml:"reply_points"`
}

// Backend names.
const (
	BackendFSNotify = "fsnotify"
	BackendPoll     = "poll"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Transcript: TranscriptConfig{
			CacheTTLSecs:       30,
			MaxFiles:           32,
			ResolveTimeoutSecs: 5,
		},
		Watcher: WatcherConfig{
			Backend:           BackendFSNotify,
			MaxAttempts:       8,
			BaseBackoffSecs:   1,
			MaxBackoffSecs:    60,
			StaleAfterSecs:    300,
			SweepIntervalSecs: 30,
			PollIntervalMs:    1000,
			DebounceMs:        100,
		},
		Daemon: DaemonConfig{
			Addr:         "127.0.0.1:8788",
			BackfillMins: 10,
			EventsBuffer: 200,
		},
		Friendship: FriendshipConfig{
			PromptPoints: 1,
			ReplyPoints:  2,
		},
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func (t TranscriptConfig) CacheTTL() time.Duration       { return secs(t.CacheTTLSecs) }
func (t TranscriptConfig) ResolveTimeout() time.Duration { return secs(t.ResolveTimeoutSecs) }

func (w WatcherConfig) BaseBackoff() time.Duration   { return secs(w.BaseBackoffSecs) }
func (w WatcherConfig) MaxBackoff() time.Duration    { return secs(w.MaxBackoffSecs) }
func (w WatcherConfig) StaleAfter() time.Duration    { return secs(w.StaleAfterSecs) }
func (w WatcherConfig) SweepInterval() time.Duration { return secs(w.SweepIntervalSecs) }
func (w WatcherConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}
func (w WatcherConfig) Debounce() time.Duration { return time.Duration(w.DebounceMs) * time.Millisecond }

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cbuddy")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cbuddy")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// StateDir returns the XDG-compliant state directory, home of the state
// database, daemon pid file and the default activity log.
func StateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "cbuddy")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "cbuddy")
}

// ActivityLogPath returns the activity log to read: the environment
// override, then the configured path, then the default under StateDir.
func ActivityLogPath(cfg Config) string {
	if p := os.Getenv(ActivityLogEnv); p != "" {
		return p
	}
	if cfg.General.ActivityLog != "" {
		return cfg.General.ActivityLog
	}
	return filepath.Join(StateDir(), "activity.log")
}

// StateDBPath returns the SQLite state database path.
func StateDBPath(cfg Config) string {
	if cfg.General.StateDB != "" {
		return cfg.General.StateDB
	}
	return filepath.Join(StateDir(), "state.db")
}

// ClaudeDir returns the Claude Code data directory.
func ClaudeDir(cfg Config) string {
	if cfg.General.ClaudeDir != "" {
		return cfg.General.ClaudeDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config at path. Keys absent from the file keep their defaults.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // config path is chosen by the local user
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo writes the config to path, creating its directory.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // see LoadFrom
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}
