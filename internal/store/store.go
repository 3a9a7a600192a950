// Package store provides SQLite-backed persistence: an opaque key/value table
// and the history of resolved replies.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

// DB is the cbuddy state database.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db, now: time.Now}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Get returns the value stored under key. ok is false when the key is unset.
func (d *DB) Get(key string) (value string, ok bool, err error) {
	err = d.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (d *DB) Set(key, value string) error {
	_, err := d.db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, d.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an unset key is not an error.
func (d *DB) Delete(key string) error {
	_, err := d.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// Reply is one row of reply history.
type Reply struct {
	Fingerprint   string
	SessionID     string
	Prompt        string
	PromptAt      string
	Text          string
	SourceEntryID string
	RepliedAt     string
	ResolvedAt    time.Time
}

// SaveReply records a resolved reply. It reports false when the fingerprint
// was already recorded, leaving the existing row untouched.
func (d *DB) SaveReply(r Reply) (bool, error) {
	if r.ResolvedAt.IsZero() {
		r.ResolvedAt = d.now()
	}
	res, err := d.db.Exec(`INSERT OR IGNORE INTO replies
		(fingerprint, session_id, prompt, prompt_at, reply, source_entry_id, replied_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Fingerprint, r.SessionID, r.Prompt, r.PromptAt, r.Text, r.SourceEntryID, r.RepliedAt,
		r.ResolvedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("saving reply: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecentReplies returns up to limit replies, newest first.
func (d *DB) RecentReplies(limit int) ([]Reply, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(`SELECT
		fingerprint, session_id, prompt, prompt_at, reply, source_entry_id, replied_at, resolved_at
		FROM replies ORDER BY resolved_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying replies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Reply
	for rows.Next() {
		var r Reply
		var promptAt, repliedAt sql.NullString
		var resolvedAt string
		if err := rows.Scan(&r.Fingerprint, &r.SessionID, &r.Prompt, &promptAt, &r.Text,
			&r.SourceEntryID, &repliedAt, &resolvedAt); err != nil {
			return nil, err
		}
		r.PromptAt = promptAt.String
		r.RepliedAt = repliedAt.String
		r.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolvedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplyCount returns the number of recorded replies.
func (d *DB) ReplyCount() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM replies").Scan(&count)
	return count, err
}
