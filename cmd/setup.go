package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/theirongolddev/cbuddy/internal/cli"
	"github.com/theirongolddev/cbuddy/internal/config"
	"github.com/theirongolddev/cbuddy/internal/source"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "First-time setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := appConfig
	claudeDir := config.ClaudeDir(cfg)

	files, _ := source.ScanDir(claudeDir)

	fmt.Println()
	fmt.Println("  Welcome to cbuddy!")
	fmt.Println()
	if len(files) > 0 {
		fmt.Printf("  Found %s transcripts in %s (%d projects)\n\n",
			cli.FormatNumber(int64(len(files))), claudeDir, source.CountProjects(files))
	}

	cfg, err := runSetupForm(os.Stdin, os.Stdout, cfg)
	if err != nil {
		return err
	}

	path := configPath()
	if err := config.SaveTo(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", path)
	fmt.Println("  Run `cbuddy setup` anytime to reconfigure.")
	fmt.Println()
	return nil
}

// runSetupForm asks for the settings most people change and returns cfg
// with the answers applied.
func runSetupForm(in io.Reader, out io.Writer, cfg config.Config) (config.Config, error) {
	var (
		claudeDir   = cfg.General.ClaudeDir
		activityLog = cfg.General.ActivityLog
		backend     = cfg.Watcher.Backend
		logLevel    = cfg.General.LogLevel
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Claude directory").
				Description("Where Claude Code keeps projects/ (blank for ~/.claude)").
				Placeholder(config.ClaudeDir(config.DefaultConfig())).
				Value(&claudeDir),
			huh.NewInput().
				Title("Activity log").
				Description("File your prompt hook appends to (blank for the default)").
				Placeholder(config.ActivityLogPath(config.DefaultConfig())).
				Value(&activityLog),
			huh.NewSelect[string]().
				Title("Change detection").
				Options(
					huh.NewOption("File system events (fsnotify)", config.BackendFSNotify),
					huh.NewOption("Polling", config.BackendPoll),
				).
				Value(&backend),
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("debug", "debug"),
					huh.NewOption("info", "info"),
					huh.NewOption("warn", "warn"),
					huh.NewOption("error", "error"),
				).
				Value(&logLevel),
		),
	).
		WithInput(in).
		WithOutput(out)

	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		form = form.WithAccessible(true)
	}

	if err := form.Run(); err != nil {
		return cfg, fmt.Errorf("setup form: %w", err)
	}

	cfg.General.ClaudeDir = strings.TrimSpace(claudeDir)
	cfg.General.ActivityLog = strings.TrimSpace(activityLog)
	cfg.Watcher.Backend = backend
	cfg.General.LogLevel = logLevel
	return cfg, nil
}
