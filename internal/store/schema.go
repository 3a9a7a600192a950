package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
    key                  TEXT PRIMARY KEY,
    value                TEXT NOT NULL,
    updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS replies (
    fingerprint          TEXT PRIMARY KEY,
    session_id           TEXT NOT NULL,
    prompt               TEXT NOT NULL,
    prompt_at            TEXT,
    reply                TEXT NOT NULL,
    source_entry_id      TEXT NOT NULL,
    replied_at           TEXT,
    resolved_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_replies_resolved ON replies(resolved_at);
CREATE INDEX IF NOT EXISTS idx_replies_session ON replies(session_id);
`
