package match

import (
	"strings"

	"github.com/theirongolddev/cbuddy/internal/model"
)

// MaxDepth bounds the number of hops a chain walk takes.
const MaxDepth = 20

// Walk follows parent→child links forward from the entry fromID and returns the
// text-bearing assistant entries along the path, in encounter order.
//
// At each hop every assistant entry whose parent is the current frontier is
// considered in file order: text-bearing ones are recorded, and the frontier
// advances through all of them, so tool-use hops are crossed without being
// recorded. The walk stops when nothing references the frontier, after
// MaxDepth hops, or when an id comes around a second time.
//
// An empty result for an existing user entry means the reply is not written yet.
func Walk(entries []model.TranscriptEntry, fromID string) []model.TranscriptEntry {
	if fromID == "" {
		return nil
	}

	children := make(map[string][]int)
	for i, e := range entries {
		if e.Role == model.RoleAssistant && e.ParentID != "" {
			children[e.ParentID] = append(children[e.ParentID], i)
		}
	}

	var found []model.TranscriptEntry
	visited := map[string]bool{fromID: true}
	frontier := fromID

	for depth := 0; depth < MaxDepth; depth++ {
		kids := children[frontier]
		if len(kids) == 0 {
			break
		}

		next := ""
		for _, idx := range kids {
			e := entries[idx]
			if visited[e.ID] {
				continue
			}
			visited[e.ID] = true
			if e.Content.HasText() {
				found = append(found, e)
			}
			next = e.ID
		}
		if next == "" {
			break // every child was already visited: a cycle
		}
		frontier = next
	}

	return found
}

// ExtractReply joins the text blocks of e with a paragraph break.
func ExtractReply(e model.TranscriptEntry) string {
	return strings.Join(e.Content.TextBlocks(), "\n\n")
}

// Last returns the terminal entry of a walk.
func Last(found []model.TranscriptEntry) (model.TranscriptEntry, bool) {
	if len(found) == 0 {
		return model.TranscriptEntry{}, false
	}
	return found[len(found)-1], true
}
