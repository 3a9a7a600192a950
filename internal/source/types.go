package source

import "encoding/json"

// RawEntry represents a single line in a transcript JSONL file.
//
// Claude Code writes uuid/parentUuid and nests role and content in message.
// The flat id/parentId/role/content shape is accepted as well.
type RawEntry struct {
	Type       string      `json:"type"`
	UUID       string      `json:"uuid,omitempty"`
	ParentUUID *string     `json:"parentUuid,omitempty"`
	Timestamp  string      `json:"timestamp,omitempty"`
	SessionID  string      `json:"sessionId,omitempty"`
	Message    *RawMessage `json:"message,omitempty"`

	ID       string          `json:"id,omitempty"`
	ParentID *string         `json:"parentId,omitempty"`
	Role     string          `json:"role,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// RawMessage is the message envelope of a transcript entry.
type RawMessage struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// RawBlock is one element of block-sequence content.
type RawBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// RawPrompt is the JSON payload of one activity log line.
type RawPrompt struct {
	Prompt         string `json:"prompt"`
	SessionID      string `json:"session_id,omitempty"`
	SessionIDAlt   string `json:"sessionId,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	TranscriptAlt  string `json:"transcriptPath,omitempty"`
}

// DiscoveredFile represents a transcript JSONL file found during directory scanning.
type DiscoveredFile struct {
	Path          string
	Project       string // decoded display name (e.g., "gitlore")
	ProjectDir    string // raw directory name
	SessionID     string // extracted from filename
	IsSubagent    bool
	ParentSession string // for subagents: parent session UUID
}
