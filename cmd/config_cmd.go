package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cbuddy/internal/cli"
	"github.com/theirongolddev/cbuddy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.ConfigPath()
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg := appConfig

	fmt.Printf("  Config file: %s\n", configPath())
	if config.Exists() || flagConfig != "" {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println(cli.RenderTitle("General"))
	fmt.Println(cli.RenderLabel("Claude directory", config.ClaudeDir(cfg)))
	fmt.Println(cli.RenderLabel("Activity log", config.ActivityLogPath(cfg)))
	fmt.Println(cli.RenderLabel("State database", config.StateDBPath(cfg)))
	fmt.Println(cli.RenderLabel("Log level", appLogLevel))
	fmt.Println()

	fmt.Println(cli.RenderTitle("Transcripts"))
	fmt.Println(cli.RenderLabel("Cache TTL", cfg.Transcript.CacheTTL().String()))
	fmt.Println(cli.RenderLabel("Cached files", fmt.Sprintf("%d", cfg.Transcript.MaxFiles)))
	fmt.Println(cli.RenderLabel("Resolve timeout", cfg.Transcript.ResolveTimeout().String()))
	fmt.Println()

	fmt.Println(cli.RenderTitle("Watcher"))
	fmt.Println(cli.RenderLabel("Backend", cfg.Watcher.Backend))
	fmt.Println(cli.RenderLabel("Attempts", fmt.Sprintf("%d", cfg.Watcher.MaxAttempts)))
	fmt.Println(cli.RenderLabel("Backoff", fmt.Sprintf("%s up to %s", cfg.Watcher.BaseBackoff(), cfg.Watcher.MaxBackoff())))
	fmt.Println(cli.RenderLabel("Stale after", cfg.Watcher.StaleAfter().String()))
	if cfg.Watcher.Backend == config.BackendPoll {
		fmt.Println(cli.RenderLabel("Poll interval", cfg.Watcher.PollInterval().String()))
	}
	fmt.Println()

	fmt.Println(cli.RenderTitle("Daemon"))
	fmt.Println(cli.RenderLabel("Address", cfg.Daemon.Addr))
	fmt.Println(cli.RenderLabel("Backfill", fmt.Sprintf("%d min", cfg.Daemon.BackfillMins)))
	fmt.Println(cli.RenderLabel("Events kept", fmt.Sprintf("%d", cfg.Daemon.EventsBuffer)))
	fmt.Println()

	fmt.Println(cli.RenderTitle("Friendship"))
	fmt.Println(cli.RenderLabel("Per prompt", fmt.Sprintf("+%d", cfg.Friendship.PromptPoints)))
	fmt.Println(cli.RenderLabel("Per reply", fmt.Sprintf("+%d", cfg.Friendship.ReplyPoints)))
	fmt.Println()

	fmt.Println("  Run `cbuddy setup` to reconfigure.")
	return nil
}
