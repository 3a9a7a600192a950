package model

import "time"

// Role identifies who wrote a transcript entry.
type Role int

const (
	RoleOther Role = iota
	RoleUser
	RoleAssistant
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return "other"
	}
}

// ParseRole maps a transcript role string to a Role.
func ParseRole(s string) Role {
	switch s {
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	default:
		return RoleOther
	}
}

// BlockText is the kind of content block that carries renderable text.
const BlockText = "text"

// Block is one typed element of block-sequence content.
// Only blocks of kind "text" carry a payload; tool_use, tool_result and
// thinking blocks are kept for their kind alone.
type Block struct {
	Kind string
	Text string
}

// Content is either plain text or an ordered sequence of blocks.
type Content struct {
	plain    string
	blocks   []Block
	isBlocks bool
}

// PlainText returns string-typed content.
func PlainText(s string) Content {
	return Content{plain: s}
}

// Blocks returns block-sequence content.
func Blocks(blocks ...Block) Content {
	return Content{blocks: blocks, isBlocks: true}
}

// IsPlain reports whether the content is a flat string.
func (c Content) IsPlain() bool { return !c.isBlocks }

// Plain returns the flat string, or "" for block content.
func (c Content) Plain() string { return c.plain }

// TextBlocks returns the non-empty text payloads in encounter order.
// Plain content counts as a single text payload.
func (c Content) TextBlocks() []string {
	if !c.isBlocks {
		if c.plain == "" {
			return nil
		}
		return []string{c.plain}
	}
	var out []string
	for _, b := range c.blocks {
		if b.Kind == BlockText && b.Text != "" {
			out = append(out, b.Text)
		}
	}
	return out
}

// HasText reports whether the content carries any renderable text.
func (c Content) HasText() bool {
	return len(c.TextBlocks()) > 0
}

// TranscriptEntry is one record of a transcript file.
type TranscriptEntry struct {
	ID        string
	ParentID  string // empty for roots
	Role      Role
	Timestamp string
	Content   Content
}

// Time parses Timestamp. The zero time is returned when it cannot be parsed.
func (e TranscriptEntry) Time() time.Time {
	return ParseTimestamp(e.Timestamp)
}
