// Package source discovers and parses transcript files and the prompt activity log.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/theirongolddev/cbuddy/internal/model"
)

// ParseResult holds the output of parsing a single transcript file.
type ParseResult struct {
	Entries     []model.TranscriptEntry
	ParseErrors int
	Err         error
}

// nonMessageTypes are top-level record types that never carry a conversation turn.
var nonMessageTypes = map[string]bool{
	"summary":               true,
	"file-history-snapshot": true,
	"progress":              true,
	"queue-operation":       true,
}

// ParseFile reads a transcript file and returns its entries in file order.
// Lines that fail to parse are counted and dropped. A read that is cut short by
// ctx returns the entries parsed so far together with the context error.
func ParseFile(ctx context.Context, path string) ParseResult {
	f, err := os.Open(path) //nolint:gosec // transcript paths come from the local activity log
	if err != nil {
		return ParseResult{Err: err}
	}
	defer func() { _ = f.Close() }()

	return Parse(ctx, f)
}

// Parse reads line-delimited transcript records from r.
//
// Entry routing by top-level "type" field:
//   - summary, file-history-snapshot, ... → skipped without a JSON decode
//   - anything else (or absent)           → full JSON parse
func Parse(ctx context.Context, r io.Reader) ParseResult {
	var res ParseResult

	br := bufio.NewReaderSize(r, 256*1024)
	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		// ReadBytes has no line length limit; tool results can be megabytes.
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if entry, ok, bad := parseLine(line); ok {
				res.Entries = append(res.Entries, entry)
			} else if bad {
				res.ParseErrors++
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				res.Err = err
			}
			return res
		}
	}
}

// parseLine decodes one transcript line. bad reports a line that looked like a
// record but failed to decode.
func parseLine(line []byte) (entry model.TranscriptEntry, ok, bad bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return entry, false, false
	}
	if nonMessageTypes[extractTopLevelType(line)] {
		return entry, false, false
	}

	var raw RawEntry
	if err := json.Unmarshal(line, &raw); err != nil {
		return entry, false, true
	}

	entry = model.TranscriptEntry{
		ID:        raw.UUID,
		Timestamp: raw.Timestamp,
	}
	if entry.ID == "" {
		entry.ID = raw.ID
	}
	if entry.ID == "" {
		return entry, false, true
	}

	switch {
	case raw.ParentUUID != nil:
		entry.ParentID = *raw.ParentUUID
	case raw.ParentID != nil:
		entry.ParentID = *raw.ParentID
	}

	role := raw.Role
	content := raw.Content
	if raw.Message != nil {
		if raw.Message.Role != "" {
			role = raw.Message.Role
		}
		if len(raw.Message.Content) > 0 {
			content = raw.Message.Content
		}
	}
	if role == "" {
		role = raw.Type
	}
	entry.Role = model.ParseRole(role)
	entry.Content = decodeContent(content)

	return entry, true, false
}

// decodeContent turns a string-or-array content field into a model.Content.
// Anything else decodes to empty plain text.
func decodeContent(raw json.RawMessage) model.Content {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return model.PlainText("")
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return model.PlainText("")
		}
		return model.PlainText(s)
	case '[':
		var rawBlocks []RawBlock
		if err := json.Unmarshal(raw, &rawBlocks); err != nil {
			return model.Blocks()
		}
		blocks := make([]model.Block, 0, len(rawBlocks))
		for _, rb := range rawBlocks {
			b := model.Block{Kind: rb.Type}
			if rb.Type == model.BlockText {
				b.Text = rb.Text
			}
			blocks = append(blocks, b)
		}
		return model.Blocks(blocks...)
	default:
		return model.PlainText("")
	}
}

// typeKey is the byte sequence for a JSON key named "type" (with quotes).
var typeKey = []byte(`"type"`)

// extractTopLevelType finds the top-level "type" field in a JSONL line.
// Tracks brace depth and string boundaries so nested "type" keys (content
// blocks carry their own) are ignored.
func extractTopLevelType(line []byte) string {
	depth := 0
	for i := 0; i < len(line); {
		switch line[i] {
		case '"':
			if depth == 1 && bytes.HasPrefix(line[i:], typeKey) {
				val, isKey := classifyType(line, i+len(typeKey))
				if isKey {
					return val
				}
				// "type" appeared as a value, not a key. Continue scanning.
			}
			i = skipJSONString(line, i)
		case '{', '[':
			depth++
			i++
		case '}', ']':
			depth--
			i++
		default:
			i++
		}
	}
	return ""
}

// classifyType checks whether pos follows a JSON key (expects : then value).
// Returns the type value and whether this was a valid key:value pair.
func classifyType(line []byte, pos int) (val string, isKey bool) {
	i := skipSpaces(line, pos)
	if i >= len(line) || line[i] != ':' {
		return "", false
	}
	i = skipSpaces(line, i+1)
	if i >= len(line) || line[i] != '"' {
		return "", true // key with non-string value (null, number, etc.)
	}
	i++

	end := bytes.IndexByte(line[i:], '"')
	if end < 0 || end > 40 {
		return "", true
	}
	return string(line[i : i+end]), true
}

// skipJSONString advances past a JSON string starting at the opening quote.
//
//nolint:gosec // manual bounds checking throughout
func skipJSONString(line []byte, i int) int {
	i++ // skip opening quote
	for i < len(line) {
		switch line[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1
		default:
			i++
		}
	}
	return i
}

func skipSpaces(line []byte, i int) int {
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	return i
}
