package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CheckDownloaded returns the recorded download for s3Key, or nil if the key
// was never fetched.
func (d *DB) CheckDownloaded(ctx context.Context, s3Key string) (*Download, error) {
	query := `
		SELECT s3_key, local_path, checksum, size_bytes, downloaded_at
		FROM downloads
		WHERE s3_key = ?
	`
	var dl Download
	var at int64
	err := d.db.QueryRowContext(ctx, query, s3Key).Scan(&dl.S3Key, &dl.LocalPath, &dl.Checksum, &dl.SizeBytes, &at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query download: %w", err)
	}
	dl.DownloadedAt = fromUnixMilli(at)
	return &dl, nil
}

// StoreDownload records a completed mirror download, replacing any earlier
// record for the same key.
func (d *DB) StoreDownload(ctx context.Context, s3Key, localPath, checksum string, sizeBytes int64) error {
	query := `
		INSERT INTO downloads (s3_key, local_path, checksum, size_bytes, downloaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(s3_key) DO UPDATE SET
			local_path = excluded.local_path,
			checksum = excluded.checksum,
			size_bytes = excluded.size_bytes,
			downloaded_at = excluded.downloaded_at
	`
	if _, err := d.db.ExecContext(ctx, query, s3Key, localPath, checksum, sizeBytes, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to store download %s: %w", s3Key, err)
	}
	return nil
}
