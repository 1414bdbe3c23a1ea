package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yakeru/usbwriter"
)

const sessionColumns = `id, iso_name, device_id, device_name, started_at, finished_at,
       outcome, final_status, final_progress, forced`

// RecordSession stores a finished write session. Recording the same id again
// replaces the earlier row.
func (d *DB) RecordSession(ctx context.Context, rec usbwriter.SessionRecord) error {
	query := `
		INSERT INTO write_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			outcome = excluded.outcome,
			final_status = excluded.final_status,
			final_progress = excluded.final_progress,
			forced = excluded.forced
	`
	_, err := d.db.ExecContext(ctx, query,
		rec.ID, rec.ISOName, rec.DeviceID, rec.DeviceName,
		unixMilli(rec.StartedAt), unixMilli(rec.FinishedAt),
		rec.Outcome, rec.FinalStatus, usbwriter.ClampProgress(rec.FinalProgress), rec.Forced,
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", rec.ID, err)
	}
	return nil
}

// GetSession returns the session with the given id, or nil if not found.
func (d *DB) GetSession(ctx context.Context, id string) (*usbwriter.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM write_sessions WHERE id = ?`
	rec, err := scanSession(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return rec, nil
}

// ListSessions returns up to limit sessions, newest first. A limit of zero or
// less returns all of them.
func (d *DB) ListSessions(ctx context.Context, limit int) ([]usbwriter.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM write_sessions ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []usbwriter.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

// CountSessions returns the number of sessions per outcome.
func (d *DB) CountSessions(ctx context.Context) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM write_sessions GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*usbwriter.SessionRecord, error) {
	var rec usbwriter.SessionRecord
	var started, finished int64
	err := row.Scan(
		&rec.ID, &rec.ISOName, &rec.DeviceID, &rec.DeviceName,
		&started, &finished,
		&rec.Outcome, &rec.FinalStatus, &rec.FinalProgress, &rec.Forced,
	)
	if err != nil {
		return nil, err
	}
	rec.StartedAt = fromUnixMilli(started)
	rec.FinishedAt = fromUnixMilli(finished)
	return &rec, nil
}
