// Package match correlates a prompt with its transcript entry and walks the
// reply chain that follows it.
package match

import (
	"strings"
	"time"

	"github.com/theirongolddev/cbuddy/internal/model"
)

const (
	// prefixRunes is how much of a prompt has to appear in a truncated transcript copy.
	prefixRunes = 50

	// hintWindow is how far past the prompt's own timestamp a transcript entry
	// may be stamped and still belong to that prompt.
	hintWindow = 2 * time.Minute
)

// FindUserEntry returns the user entry that records the submission of prompt.
//
// A string-content user entry matches when any of these holds:
//   - it contains the first 50 characters of the prompt
//   - it contains the whole prompt
//   - the prompt contains it
//   - either contains the other after lower-casing and collapsing whitespace
//
// Among matches the one with the latest timestamp wins. A non-zero hint narrows
// that rule: matches stamped later than hint+2m are set aside unless nothing
// else matched, so an older prompt does not claim the entry of a newer
// resubmission. Pass a zero hint for the plain latest-wins result.
//
// Short, generic prompts ("ok", "thanks") can match unrelated entries through
// the normalized containment rule.
func FindUserEntry(entries []model.TranscriptEntry, prompt string, hint time.Time) (model.TranscriptEntry, bool) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return model.TranscriptEntry{}, false
	}

	p := newPattern(prompt)

	var (
		best, late       model.TranscriptEntry
		bestAt, lateAt   time.Time
		found, foundLate bool
	)
	for _, e := range entries {
		if e.Role != model.RoleUser || !e.Content.IsPlain() {
			continue
		}
		if !p.matches(e.Content.Plain()) {
			continue
		}

		at := e.Time()
		if !hint.IsZero() && !at.IsZero() && at.After(hint.Add(hintWindow)) {
			if !foundLate || !at.Before(lateAt) {
				late, lateAt, foundLate = e, at, true
			}
			continue
		}
		if !found || newer(e, at, best, bestAt) {
			best, bestAt, found = e, at, true
		}
	}

	if found {
		return best, true
	}
	return late, foundLate
}

// newer reports whether candidate a should replace b as the latest match.
// Later entries in file order win ties, including unparseable timestamps.
func newer(a model.TranscriptEntry, aAt time.Time, b model.TranscriptEntry, bAt time.Time) bool {
	if !aAt.IsZero() && !bAt.IsZero() {
		return !aAt.Before(bAt)
	}
	if aAt.IsZero() && bAt.IsZero() {
		return a.Timestamp >= b.Timestamp
	}
	return !aAt.IsZero()
}

type pattern struct {
	full       string
	prefix     string
	normalized string
}

func newPattern(prompt string) pattern {
	return pattern{
		full:       prompt,
		prefix:     model.TruncateRunes(prompt, prefixRunes),
		normalized: normalize(prompt),
	}
}

func (p pattern) matches(content string) bool {
	if content == "" {
		return false
	}
	if strings.Contains(content, p.prefix) || strings.Contains(content, p.full) {
		return true
	}
	if strings.Contains(p.full, content) {
		return true
	}

	nc := normalize(content)
	if nc == "" || p.normalized == "" {
		return false
	}
	return strings.Contains(nc, p.normalized) || strings.Contains(p.normalized, nc)
}

// normalize lower-cases s and collapses runs of whitespace to one space.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
