// Package cmd implements the cbuddy CLI commands.
package cmd

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cbuddy/internal/config"
	"github.com/theirongolddev/cbuddy/internal/engine"
	"github.com/theirongolddev/cbuddy/internal/notify"
	"github.com/theirongolddev/cbuddy/internal/transcript"
	"github.com/theirongolddev/cbuddy/internal/watcher"
)

var (
	flagConfig      string
	flagClaudeDir   string
	flagActivityLog string
	flagLogLevel    string
	flagQuiet       bool

	// appConfig is loaded once before any command runs.
	appConfig   = config.DefaultConfig()
	appLogLevel = "info"
)

var rootCmd = &cobra.Command{
	Use:   "cbuddy",
	Short: "Claude Code reply companion",
	Long:  "Follow your Claude Code prompts and surface the assistant's replies as they land in session transcripts.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		level := cfg.General.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = flagLogLevel
		}
		if flagQuiet {
			level = "error"
		}
		setupLogging(level, os.Stderr, false)
		appConfig, appLogLevel = cfg, level
		return nil
	},
	SilenceUsage: true,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().StringVarP(&flagClaudeDir, "claude-dir", "d", "", "Claude data directory (default ~/.claude)")
	rootCmd.PersistentFlags().StringVar(&flagActivityLog, "activity-log", "", "Activity log path (env "+config.ActivityLogEnv+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log errors")
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (config.Config, error) {
	path := flagConfig
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return cfg, err
	}
	if flagClaudeDir != "" {
		cfg.General.ClaudeDir = flagClaudeDir
	}
	if flagActivityLog != "" {
		cfg.General.ActivityLog = flagActivityLog
	}
	return cfg, nil
}

func setupLogging(level string, w io.Writer, json bool) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if json {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// closingNotifier is a notify backend that owns resources.
type closingNotifier interface {
	notify.Notifier
	Close() error
}

// newNotifier builds the configured change-notification backend, falling
// back to polling when fsnotify is unavailable.
func newNotifier(cfg config.Config) closingNotifier {
	if cfg.Watcher.Backend != config.BackendPoll {
		n, err := notify.NewFSNotifier(cfg.Watcher.Debounce(), slog.Default())
		if err == nil {
			return n
		}
		slog.Warn("fsnotify unavailable, polling instead", "error", err)
	}
	return notify.NewPoller(cfg.Watcher.PollInterval(), nil)
}

// engineConfig maps the file config onto the engine.
func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		ClaudeDir:      config.ClaudeDir(cfg),
		ResolveTimeout: cfg.Transcript.ResolveTimeout(),
		Transcript: transcript.Config{
			TTL:      cfg.Transcript.CacheTTL(),
			MaxFiles: cfg.Transcript.MaxFiles,
		},
		Watcher: watcher.Config{
			MaxAttempts:   cfg.Watcher.MaxAttempts,
			BaseBackoff:   cfg.Watcher.BaseBackoff(),
			MaxBackoff:    cfg.Watcher.MaxBackoff(),
			StaleAfter:    cfg.Watcher.StaleAfter(),
			SweepInterval: cfg.Watcher.SweepInterval(),
		},
		Logger: slog.Default(),
	}
}
