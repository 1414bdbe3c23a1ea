package database

import "time"

// Download is an ISO image fetched from the mirror.
type Download struct {
	S3Key        string
	LocalPath    string
	Checksum     string
	SizeBytes    int64
	DownloadedAt time.Time
}
