package model

import (
	"time"

	"github.com/dustin/go-humanize"
)

// ResolvedReply is the assistant reply found for one prompt. It is never mutated.
type ResolvedReply struct {
	Text             string
	Timestamp        string
	DisplayTimestamp string // human-relative rendering of Timestamp
	SourceEntryID    string
}

// DisplayTime renders a transcript timestamp relative to now ("3 minutes ago").
func DisplayTime(ts string, now time.Time) string {
	t := ParseTimestamp(ts)
	if t.IsZero() {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
