package source

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestScanDir(t *testing.T) {
	claudeDir := t.TempDir()
	projects := filepath.Join(claudeDir, "projects")
	touch(t, filepath.Join(projects, "-Users-me-projects-gitlore", "s1.jsonl"))
	touch(t, filepath.Join(projects, "-Users-me-projects-gitlore", "s1", "subagents", "agent-a.jsonl"))
	touch(t, filepath.Join(projects, "-Users-me-projects-gitlore", "sessions-index.json"))

	files, err := ScanDir(claudeDir)
	if err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}

	var main, sub int
	for _, f := range files {
		if f.Project != "gitlore" {
			t.Errorf("Project = %q, want gitlore", f.Project)
		}
		if f.IsSubagent {
			sub++
			if f.ParentSession != "s1" {
				t.Errorf("ParentSession = %q, want s1", f.ParentSession)
			}
		} else {
			main++
		}
	}
	if main != 1 || sub != 1 {
		t.Errorf("main=%d sub=%d, want 1/1", main, sub)
	}
}

func TestScanDir_NoProjects(t *testing.T) {
	files, err := ScanDir(t.TempDir())
	if err != nil || files != nil {
		t.Fatalf("ScanDir on empty dir = %v, %v; want nil, nil", files, err)
	}
}

func TestFindTranscript(t *testing.T) {
	claudeDir := t.TempDir()
	want := filepath.Join(claudeDir, "projects", "-home-me-code-app", "abc-123.jsonl")
	touch(t, want)
	touch(t, filepath.Join(claudeDir, "projects", "-home-me-code-app", "other.jsonl"))

	if got := FindTranscript(claudeDir, "abc-123"); got != want {
		t.Errorf("FindTranscript = %q, want %q", got, want)
	}
	if got := FindTranscript(claudeDir, "unknown"); got != "" {
		t.Errorf("FindTranscript(unknown) = %q, want empty", got)
	}
	if got := FindTranscript(claudeDir, "missing"); got != "" {
		t.Errorf("FindTranscript(missing) = %q, want empty", got)
	}
}

func TestDecodeProjectName(t *testing.T) {
	tests := map[string]string{
		"-Users-me-projects-gitlore":         "gitlore",
		"-Users-me-projects-my-cool-project": "my-cool-project",
		"-opt-service":                       "service",
	}
	for in, want := range tests {
		if got := decodeProjectName(in); got != want {
			t.Errorf("decodeProjectName(%q) = %q, want %q", in, got, want)
		}
	}
}
