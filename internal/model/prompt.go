// Package model defines domain types for prompts, transcripts and resolved replies.
package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// UnknownSession is the session id assigned to prompt records that carry none.
const UnknownSession = "unknown"

// PromptRecord is one user submission read from the activity log.
type PromptRecord struct {
	Timestamp      string // as reported by the origin, e.g. "2025-06-01T10:00:00.000Z"
	PromptText     string
	SessionID      string
	TranscriptPath string // optional
}

// Time parses Timestamp. The zero time is returned when it cannot be parsed.
func (p PromptRecord) Time() time.Time {
	return ParseTimestamp(p.Timestamp)
}

// localLayouts carry no zone; hooks that write them use local wall-clock time.
var localLayouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// ParseTimestamp parses the timestamp formats seen in activity logs and transcripts.
// Timestamps without a zone are read in time.Local.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// TruncateRunes returns at most n runes of s.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
