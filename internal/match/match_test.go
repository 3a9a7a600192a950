package match

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/cbuddy/internal/model"
)

func user(id, ts, text string) model.TranscriptEntry {
	return model.TranscriptEntry{ID: id, Role: model.RoleUser, Timestamp: ts, Content: model.PlainText(text)}
}

func assistantText(id, parent string, texts ...string) model.TranscriptEntry {
	blocks := make([]model.Block, 0, len(texts))
	for _, t := range texts {
		blocks = append(blocks, model.Block{Kind: model.BlockText, Text: t})
	}
	return model.TranscriptEntry{ID: id, ParentID: parent, Role: model.RoleAssistant, Content: model.Blocks(blocks...)}
}

func assistantTool(id, parent string) model.TranscriptEntry {
	return model.TranscriptEntry{
		ID:       id,
		ParentID: parent,
		Role:     model.RoleAssistant,
		Content:  model.Blocks(model.Block{Kind: "tool_use"}),
	}
}

func TestFindUserEntry_Heuristics(t *testing.T) {
	long := strings.Repeat("refactor the transcript parser ", 5)

	tests := []struct {
		name    string
		content string
		prompt  string
		want    bool
	}{
		{"exact", "fix the bug in parser.ts", "fix the bug in parser.ts", true},
		{"content contains prompt", "<context/> fix the bug in parser.ts", "fix the bug in parser.ts", true},
		{"prompt contains content", "fix the bug", "please fix the bug now", true},
		{"truncated transcript copy", long[:60], long, true},
		{"case and whitespace", "Fix  the\nBUG", "fix the bug", true},
		{"unrelated", "write docs", "fix the bug", false},
		{"empty content", "", "fix the bug", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := []model.TranscriptEntry{user("u1", "2025-06-01T10:00:00Z", tt.content)}
			_, ok := FindUserEntry(entries, tt.prompt, time.Time{})
			if ok != tt.want {
				t.Errorf("match = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestFindUserEntry_TruncatedPrefix(t *testing.T) {
	prompt := "Please go through every file in internal/ and make sure errors are wrapped with context"
	// The transcript kept only the first 50 characters plus an ellipsis marker.
	truncated := model.TruncateRunes(prompt, 50) + " [truncated]"
	entries := []model.TranscriptEntry{user("u1", "2025-06-01T10:00:00Z", truncated)}

	got, ok := FindUserEntry(entries, prompt, time.Time{})
	if !ok || got.ID != "u1" {
		t.Fatalf("FindUserEntry = %+v, %v; want u1", got, ok)
	}
}

func TestFindUserEntry_SkipsNonCandidates(t *testing.T) {
	entries := []model.TranscriptEntry{
		{ID: "a", Role: model.RoleAssistant, Content: model.PlainText("fix the bug")},
		{ID: "b", Role: model.RoleUser, Content: model.Blocks(model.Block{Kind: "tool_result"})},
	}
	if _, ok := FindUserEntry(entries, "fix the bug", time.Time{}); ok {
		t.Fatal("matched a non-user or block-content entry")
	}
}

func TestFindUserEntry_LatestWins(t *testing.T) {
	entries := []model.TranscriptEntry{
		user("u2", "2025-06-01T10:05:00Z", "run the tests"),
		user("u3", "2025-06-01T10:10:00Z", "run the tests"),
		user("u1", "2025-06-01T10:00:00Z", "run the tests"),
	}

	got, ok := FindUserEntry(entries, "run the tests", time.Time{})
	if !ok || got.ID != "u3" {
		t.Fatalf("FindUserEntry = %q, want u3 (latest timestamp)", got.ID)
	}
}

func TestFindUserEntry_HintExcludesLaterResubmission(t *testing.T) {
	entries := []model.TranscriptEntry{
		user("u1", "2025-06-01T10:00:00Z", "run the tests"),
		user("u2", "2025-06-01T10:10:00Z", "run the tests"),
	}

	first := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	got, _ := FindUserEntry(entries, "run the tests", first)
	if got.ID != "u1" {
		t.Errorf("hint %v matched %q, want u1", first, got.ID)
	}

	second := first.Add(10 * time.Minute)
	got, _ = FindUserEntry(entries, "run the tests", second)
	if got.ID != "u2" {
		t.Errorf("hint %v matched %q, want u2", second, got.ID)
	}
}

func TestFindUserEntry_HintFallsBackToLater(t *testing.T) {
	entries := []model.TranscriptEntry{user("u9", "2025-06-01T12:00:00Z", "deploy")}
	hint := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if got, ok := FindUserEntry(entries, "deploy", hint); !ok || got.ID != "u9" {
		t.Fatalf("FindUserEntry = %q, %v; want u9 fallback", got.ID, ok)
	}
}

func TestWalk_DirectReply(t *testing.T) {
	entries := []model.TranscriptEntry{
		user("u1", "", "fix the bug in parser.ts"),
		assistantText("a1", "u1", "Fixed!"),
	}
	found := Walk(entries, "u1")
	last, ok := Last(found)
	if !ok || last.ID != "a1" {
		t.Fatalf("Walk = %+v, want a1", found)
	}
	if got := ExtractReply(last); got != "Fixed!" {
		t.Errorf("ExtractReply = %q, want Fixed!", got)
	}
}

func TestWalk_ThroughToolUse(t *testing.T) {
	entries := []model.TranscriptEntry{
		user("u1", "", "fix it"),
		assistantTool("t1", "u1"),
		assistantText("a1", "t1", "Done, the parser handles empty input now."),
	}
	found := Walk(entries, "u1")
	if len(found) != 1 || found[0].ID != "a1" {
		t.Fatalf("Walk = %+v, want only a1", found)
	}
}

func TestWalk_RecordsEveryTextHop(t *testing.T) {
	entries := []model.TranscriptEntry{
		user("u1", "", "go"),
		assistantText("a1", "u1", "Looking at it."),
		assistantTool("t1", "a1"),
		assistantText("a2", "t1", "All done.", "Tests pass."),
	}
	found := Walk(entries, "u1")
	if len(found) != 2 || found[0].ID != "a1" || found[1].ID != "a2" {
		t.Fatalf("Walk = %+v, want [a1 a2]", found)
	}
	if got := ExtractReply(found[1]); got != "All done.\n\nTests pass." {
		t.Errorf("ExtractReply = %q", got)
	}
}

func TestWalk_NoReplyYet(t *testing.T) {
	entries := []model.TranscriptEntry{user("u1", "", "hello")}
	if found := Walk(entries, "u1"); len(found) != 0 {
		t.Fatalf("Walk = %+v, want empty", found)
	}
}

func TestWalk_StopsAtUserEntries(t *testing.T) {
	entries := []model.TranscriptEntry{
		user("u1", "", "hello"),
		assistantTool("t1", "u1"),
		{ID: "r1", ParentID: "t1", Role: model.RoleUser, Content: model.Blocks(model.Block{Kind: "tool_result"})},
		assistantText("a1", "r1", "hi"),
	}
	if found := Walk(entries, "u1"); len(found) != 0 {
		t.Fatalf("Walk = %+v, want empty (user hops are not followed)", found)
	}
}

func TestWalk_Cycle(t *testing.T) {
	entries := []model.TranscriptEntry{
		user("u1", "", "loop"),
		assistantText("a1", "u1", "one"),
		assistantText("a2", "a1", "two"),
		assistantText("a1", "a2", "one again"),
		assistantText("u1", "a2", "back to start"),
	}
	found := Walk(entries, "u1")
	seen := map[string]bool{}
	for _, e := range found {
		if seen[e.ID] {
			t.Fatalf("Walk revisited %q: %+v", e.ID, found)
		}
		seen[e.ID] = true
	}
	if len(found) != 2 {
		t.Errorf("Walk = %d entries, want 2", len(found))
	}
}

func TestWalk_MaxDepth(t *testing.T) {
	entries := []model.TranscriptEntry{user("n0", "", "deep")}
	for i := 1; i <= 50; i++ {
		entries = append(entries, assistantText(fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i-1), "step"))
	}

	found := Walk(entries, "n0")
	if len(found) != MaxDepth {
		t.Fatalf("Walk = %d entries, want %d", len(found), MaxDepth)
	}
	if last, _ := Last(found); last.ID != "n20" {
		t.Errorf("last = %q, want n20", last.ID)
	}
}
