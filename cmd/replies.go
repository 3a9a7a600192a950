package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/cbuddy/internal/cli"
	"github.com/theirongolddev/cbuddy/internal/config"
	"github.com/theirongolddev/cbuddy/internal/friendship"
	"github.com/theirongolddev/cbuddy/internal/store"
)

var flagRepliesLimit int

var repliesCmd = &cobra.Command{
	Use:   "replies",
	Short: "Show reply history recorded by the daemon",
	RunE:  runReplies,
}

func init() {
	repliesCmd.Flags().IntVarP(&flagRepliesLimit, "limit", "n", 20, "Number of replies to show")
	rootCmd.AddCommand(repliesCmd)
}

func runReplies(_ *cobra.Command, _ []string) error {
	db, err := store.Open(config.StateDBPath(appConfig))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	replies, err := db.RecentReplies(flagRepliesLimit)
	if err != nil {
		return err
	}
	total, err := db.ReplyCount()
	if err != nil {
		return err
	}
	friends, err := friendship.Load(db, friendship.Points{})
	if err != nil {
		return err
	}

	if len(replies) == 0 {
		fmt.Println("  No replies recorded yet. Start the daemon with `cbuddy daemon --detach`.")
		return nil
	}

	now := time.Now()
	rows := make([][]string, 0, len(replies))
	for _, r := range replies {
		rows = append(rows, []string{
			humanize.RelTime(r.ResolvedAt, now, "ago", "from now"),
			cli.ShortSession(r.SessionID),
			cli.OneLine(r.Prompt),
			cli.OneLine(r.Text),
		})
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Reply History",
		Headers: []string{"Resolved", "Session", "Prompt", "Reply"},
		Rows:    rows,
		Widths:  []int{14, 8, 30, 56},
	}))
	fmt.Println()
	fmt.Println(cli.RenderLabel("Replies recorded", cli.FormatNumber(int64(total))))
	lvl := friends.Level()
	fmt.Printf("  Friendship: %s %d/%d %s\n",
		cli.RenderProgressBar(lvl, friendship.Max, 20), lvl, friendship.Max,
		cli.RenderState("ok", friendship.Tier(lvl)))
	return nil
}
