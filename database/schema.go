package database

// schemaMigrationsTable tracks applied migrations.
const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    description TEXT
);
`

// initialSchema is version 1. Timestamps are unix milliseconds.
const initialSchema = `
-- write_sessions table: one row per finished write session
CREATE TABLE IF NOT EXISTS write_sessions (
    id TEXT PRIMARY KEY,
    iso_name TEXT NOT NULL,
    device_id TEXT NOT NULL,
    device_name TEXT NOT NULL DEFAULT '',
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    final_status TEXT NOT NULL DEFAULT '',
    final_progress INTEGER NOT NULL DEFAULT 0,
    forced BOOLEAN NOT NULL DEFAULT 0,

    CHECK (outcome IN ('completed', 'failed', 'reset')),
    CHECK (final_progress BETWEEN 0 AND 100),
    CHECK (forced IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_write_sessions_started_at ON write_sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_write_sessions_outcome ON write_sessions(outcome);
`

// downloadsSchema is version 2: ISO images fetched from the mirror.
const downloadsSchema = `
CREATE TABLE IF NOT EXISTS downloads (
    s3_key TEXT PRIMARY KEY,
    local_path TEXT NOT NULL,
    checksum TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    downloaded_at INTEGER NOT NULL,

    CHECK (size_bytes >= 0)
);

CREATE INDEX IF NOT EXISTS idx_downloads_downloaded_at ON downloads(downloaded_at);
`
