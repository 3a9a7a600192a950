package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cbuddy/internal/cli"
	"github.com/theirongolddev/cbuddy/internal/config"
	"github.com/theirongolddev/cbuddy/internal/engine"
	"github.com/theirongolddev/cbuddy/internal/pipeline"
	"github.com/theirongolddev/cbuddy/internal/source"
)

var (
	flagResolveLast int
	flagResolveWait time.Duration
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show the replies to your most recent prompts",
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().IntVarP(&flagResolveLast, "last", "n", 5, "Number of recent prompts to resolve (0 for all)")
	resolveCmd.Flags().DurationVarP(&flagResolveWait, "wait", "w", 0, "Wait this long for replies that are still being written")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(_ *cobra.Command, _ []string) error {
	logPath := config.ActivityLogPath(appConfig)
	prompts, err := source.ReadPromptLog(logPath)
	if err != nil {
		return fmt.Errorf("reading activity log: %w", err)
	}
	prompts = pipeline.Last(prompts, flagResolveLast)
	if len(prompts) == 0 {
		fmt.Printf("  No prompts in %s yet.\n", logPath)
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	resolved := make(chan string, len(prompts))
	ecfg := engineConfig(appConfig)
	ecfg.OnReplyResolved = func(r engine.Resolution) {
		select {
		case resolved <- r.Fingerprint:
		default:
		}
	}

	var notifier closingNotifier
	if flagResolveWait > 0 {
		notifier = newNotifier(appConfig)
		defer func() { _ = notifier.Close() }()
		ecfg.Notifier = notifier
	}

	eng := engine.New(ecfg)
	defer func() { _ = eng.Close() }()

	progressFn := func(current, total int) {
		if flagQuiet {
			return
		}
		fmt.Fprintf(os.Stderr, "\r  Resolving [%d/%d]", current, total)
	}
	items := pipeline.Resolve(ctx, eng, prompts, progressFn)
	if !flagQuiet {
		fmt.Fprint(os.Stderr, "\r                              \r")
	}

	if waiting := pendingFingerprints(items); len(waiting) > 0 && flagResolveWait > 0 {
		if !flagQuiet {
			fmt.Fprintf(os.Stderr, "  Waiting up to %s for %d replies...\n", flagResolveWait, len(waiting))
		}
		waitForReplies(ctx, resolved, waiting, flagResolveWait)
	}

	pipeline.Settle(items, eng)

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		status, reply := describeItem(it)
		rows = append(rows, []string{
			it.Prompt.Time().Local().Format("15:04:05"),
			cli.ShortSession(it.Prompt.SessionID),
			cli.OneLine(it.Prompt.PromptText),
			cli.OneLine(reply),
			status,
		})
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Recent Replies",
		Headers: []string{"Time", "Session", "Prompt", "Reply", "Status"},
		Rows:    rows,
		Widths:  []int{8, 8, 28, 48, 18},
	}))
	c := pipeline.Tally(items)
	fmt.Printf("\n  %d of %d prompts answered, %d pending, %d failed\n", c.Resolved, len(items), c.Pending, c.Failed)
	return nil
}

func pendingFingerprints(items []pipeline.Item) map[string]bool {
	out := make(map[string]bool)
	for _, it := range items {
		if it.Err == nil && it.Result.Outcome == engine.Pending {
			out[it.Result.Fingerprint] = true
		}
	}
	return out
}

// waitForReplies returns once every pending fingerprint has resolved, the
// wait elapses, or ctx ends.
func waitForReplies(ctx context.Context, resolved <-chan string, pending map[string]bool, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for len(pending) > 0 {
		select {
		case fp := <-resolved:
			delete(pending, fp)
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// describeItem returns a status label and the reply text, if any, for one prompt.
func describeItem(it pipeline.Item) (string, string) {
	if it.Err != nil {
		return cli.RenderState("err", "error"), ""
	}
	switch it.Result.Outcome {
	case engine.Resolved, engine.Cached:
		return cli.RenderState("ok", it.Result.Reply.DisplayTimestamp), it.Result.Reply.Text
	case engine.Pending:
		return cli.RenderState("warn", "pending"), ""
	default:
		return cli.RenderState("err", it.Result.Outcome.String()), ""
	}
}
