package database

// schema contains all table definitions. Each statement is idempotent (CREATE IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS task_history (
    task_id          TEXT    PRIMARY KEY,
    url              TEXT    NOT NULL,
    dest_path        TEXT    NOT NULL,
    state            TEXT    NOT NULL,
    downloaded_bytes INTEGER NOT NULL DEFAULT 0,
    total_bytes      INTEGER,
    error            TEXT,
    created_at       INTEGER NOT NULL,
    started_at       INTEGER,
    completed_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_task_history_completed_at
    ON task_history (completed_at);
`
