package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/theirongolddev/cbuddy/internal/model"
)

// ReadPromptLog reads the activity log and returns its prompt records in file order.
// A missing log is not an error; it simply has no prompts yet.
func ReadPromptLog(path string) ([]model.PromptRecord, error) {
	f, err := os.Open(path) //nolint:gosec // log path is configured by the local user
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return ParsePromptLog(f)
}

// ParsePromptLog parses every "[<timestamp>] <json>" line of r. Malformed lines are skipped.
func ParsePromptLog(r io.Reader) ([]model.PromptRecord, error) {
	var records []model.PromptRecord

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if rec, ok := ParsePromptLine(line); ok {
				records = append(records, rec)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, err
		}
	}
}

// ParsePromptLine parses a single activity log line.
func ParsePromptLine(line []byte) (model.PromptRecord, bool) {
	line = bytes.TrimSpace(line)
	if len(line) < 2 || line[0] != '[' {
		return model.PromptRecord{}, false
	}

	end := bytes.IndexByte(line, ']')
	if end < 0 {
		return model.PromptRecord{}, false
	}
	ts := strings.TrimSpace(string(line[1:end]))
	payload := bytes.TrimSpace(line[end+1:])
	if ts == "" || len(payload) == 0 || payload[0] != '{' {
		return model.PromptRecord{}, false
	}

	var raw RawPrompt
	if err := json.Unmarshal(payload, &raw); err != nil {
		return model.PromptRecord{}, false
	}

	text := strings.TrimSpace(raw.Prompt)
	if text == "" {
		return model.PromptRecord{}, false
	}

	rec := model.PromptRecord{
		Timestamp:      ts,
		PromptText:     text,
		SessionID:      firstNonEmpty(raw.SessionID, raw.SessionIDAlt, model.UnknownSession),
		TranscriptPath: firstNonEmpty(raw.TranscriptPath, raw.TranscriptAlt),
	}
	return rec, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
