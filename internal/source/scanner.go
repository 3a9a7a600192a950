package source

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/theirongolddev/cbuddy/internal/model"
)

// ScanDir lists the transcript files under <claudeDir>/projects. A missing
// projects directory yields no files.
func ScanDir(claudeDir string) ([]DiscoveredFile, error) {
	projectsDir := filepath.Join(claudeDir, "projects")

	info, err := os.Stat(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []DiscoveredFile
	err = filepath.WalkDir(projectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}

		rel, _ := filepath.Rel(projectsDir, path)
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) < 2 {
			return nil
		}

		session := strings.TrimSuffix(d.Name(), ".jsonl")
		df := DiscoveredFile{
			Path:       path,
			Project:    decodeProjectName(parts[0]),
			ProjectDir: parts[0],
			SessionID:  session,
		}
		// <project>/<session>/subagents/agent-<id>.jsonl
		if len(parts) >= 4 && parts[2] == "subagents" {
			df.IsSubagent = true
			df.ParentSession = parts[1]
			df.SessionID = parts[1] + "/" + session
		}

		files = append(files, df)
		return nil
	})

	return files, err
}

var projectParents = map[string]bool{
	"projects": true, "repos": true, "src": true,
	"code": true, "workspace": true, "dev": true,
}

// decodeProjectName turns Claude Code's encoded project directory
// ("-home-dev-repos-my-tool") into a display name ("my-tool"): everything after
// the last common parent directory name, else the last segment.
func decodeProjectName(dirName string) string {
	parts := strings.Split(dirName, "-")

	for i := len(parts) - 2; i >= 0; i-- {
		if projectParents[strings.ToLower(parts[i])] {
			if name := strings.Join(parts[i+1:], "-"); name != "" {
				return name
			}
		}
	}

	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return dirName
}

// FindTranscript locates the main transcript of a session under claudeDir.
// When several projects hold a file for the session, the most recently
// modified one wins. Returns "" when nothing matches.
func FindTranscript(claudeDir, sessionID string) string {
	if sessionID == "" || sessionID == model.UnknownSession {
		return ""
	}

	files, err := ScanDir(claudeDir)
	if err != nil {
		return ""
	}

	var (
		best     string
		bestTime int64
	)
	for _, f := range files {
		if f.IsSubagent || f.SessionID != sessionID {
			continue
		}
		info, err := os.Stat(f.Path)
		if err != nil {
			continue
		}
		if mt := info.ModTime().UnixNano(); best == "" || mt > bestTime {
			best, bestTime = f.Path, mt
		}
	}
	return best
}

// CountProjects returns how many distinct projects files span.
func CountProjects(files []DiscoveredFile) int {
	seen := make(map[string]struct{})
	for _, f := range files {
		seen[f.Project] = struct{}{}
	}
	return len(seen)
}
