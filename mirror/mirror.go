// Package mirror lists and fetches ISO images from an S3 bucket into the
// directory the writer backend serves ISOs from.
//
// # Features
//
//   - Streaming downloads with on-the-fly SHA256 checksum
//   - Size limit enforcement (16GB max)
//   - Key validation (path traversal prevention)
//   - Atomic file writes (temp file + rename)
//
// # Authentication
//
// The client uses the AWS SDK default credential chain and falls back to
// anonymous access when no access key is set in the environment, which is
// enough for public mirrors.
package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/yakeru/usbwriter/database"
)

const maxObjectSize = 16 << 30

// API is the subset of the S3 client the mirror uses.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Ledger remembers completed downloads so a fetch of an unchanged object is
// skipped. *database.DB implements it.
type Ledger interface {
	CheckDownloaded(ctx context.Context, s3Key string) (*database.Download, error)
	StoreDownload(ctx context.Context, s3Key, localPath, checksum string, sizeBytes int64) error
}

// ProgressFunc is called periodically during a fetch.
type ProgressFunc func(downloaded, total int64, rate float64)

// Config holds mirror configuration.
type Config struct {
	Region string
	Bucket string
	Prefix string
	// Dest is the local ISO directory.
	Dest string
	// ProgressInterval is how often progress is logged. Defaults to 5s.
	ProgressInterval time.Duration
}

// Mirror wraps an S3 client.
type Mirror struct {
	api      API
	cfg      Config
	logger   logrus.FieldLogger
	ledger   Ledger
	progress ProgressFunc
}

// New builds a mirror on the default AWS configuration.
func New(ctx context.Context, cfg Config, logger logrus.FieldLogger) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("mirror bucket is not configured")
	}
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithAPI(s3.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewWithAPI builds a mirror on an existing client.
func NewWithAPI(api API, cfg Config, logger logrus.FieldLogger) *Mirror {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 5 * time.Second
	}
	return &Mirror{
		api:    api,
		cfg:    cfg,
		logger: logger.WithFields(logrus.Fields{"component": "mirror", "bucket": cfg.Bucket}),
	}
}

// SetLedger enables download bookkeeping.
func (m *Mirror) SetLedger(l Ledger) { m.ledger = l }

// SetProgressFunc sets a callback for fetch progress.
func (m *Mirror) SetProgressFunc(fn ProgressFunc) { m.progress = fn }

// Object is an ISO in the bucket.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Name is the file name the object is stored under locally.
func (o Object) Name() string { return path.Base(o.Key) }

// ListISOs lists the *.iso objects under the configured prefix.
func (m *Mirror) ListISOs(ctx context.Context) ([]Object, error) {
	logger := m.logger.WithField("prefix", m.cfg.Prefix)
	logger.Debug("listing mirror objects")

	var out []Object
	paginator := s3.NewListObjectsV2Paginator(m.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.Bucket),
		Prefix: aws.String(m.cfg.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !strings.HasSuffix(strings.ToLower(*obj.Key), ".iso") {
				continue
			}
			o := Object{Key: *obj.Key}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			out = append(out, o)
		}
	}
	logger.WithField("count", len(out)).Info("listed mirror ISOs")
	return out, nil
}

// Result describes a fetched ISO.
type Result struct {
	LocalPath string
	Checksum  string
	SizeBytes int64
	// Skipped is set when an identical earlier download was reused.
	Skipped bool
}

// Fetch downloads key into the destination directory.
func (m *Mirror) Fetch(ctx context.Context, key string) (*Result, error) {
	if err := validateKey(key); err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	if !strings.HasSuffix(strings.ToLower(key), ".iso") {
		return nil, fmt.Errorf("invalid key: %s is not an ISO image", key)
	}
	if m.cfg.Dest == "" {
		return nil, fmt.Errorf("mirror destination is not configured")
	}
	destPath := filepath.Join(m.cfg.Dest, path.Base(key))
	logger := m.logger.WithFields(logrus.Fields{"key": key, "dest": destPath})

	head, err := m.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}
	var total int64
	if head.ContentLength != nil {
		total = *head.ContentLength
	}
	if total > maxObjectSize {
		return nil, fmt.Errorf("object too large: %s (max %s)", humanize.IBytes(uint64(total)), humanize.IBytes(maxObjectSize))
	}

	if res := m.reuse(ctx, key, destPath, total); res != nil {
		logger.Info("ISO already downloaded, skipping")
		return res, nil
	}

	if err := os.MkdirAll(m.cfg.Dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}
	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		if _, err := os.Stat(tmpPath); err == nil {
			os.Remove(tmpPath)
		}
	}()

	logger.WithField("size", humanize.IBytes(uint64(total))).Info("starting mirror download")
	obj, err := m.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Body.Close()

	hash := sha256.New()
	pr := newProgressReader(io.LimitReader(obj.Body, maxObjectSize+1), logger, m.progress, total, m.cfg.ProgressInterval)
	written, err := io.Copy(io.MultiWriter(tmpFile, hash), pr)
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	if written > maxObjectSize {
		return nil, fmt.Errorf("object exceeded %s while downloading", humanize.IBytes(maxObjectSize))
	}
	if total > 0 && written != total {
		return nil, fmt.Errorf("short download: got %d of %d bytes", written, total)
	}
	if m.progress != nil {
		m.progress(written, total, 0)
	}

	if err := tmpFile.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return nil, fmt.Errorf("failed to move file to destination: %w", err)
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	if m.ledger != nil {
		if err := m.ledger.StoreDownload(ctx, key, destPath, checksum, written); err != nil {
			logger.WithError(err).Warn("failed to record download")
		}
	}
	logger.WithFields(logrus.Fields{
		"size":     humanize.IBytes(uint64(written)),
		"checksum": checksum,
	}).Info("mirror download completed")

	return &Result{LocalPath: destPath, Checksum: checksum, SizeBytes: written}, nil
}

// reuse returns the recorded download when the file is still on disk with the
// expected size.
func (m *Mirror) reuse(ctx context.Context, key, destPath string, size int64) *Result {
	if m.ledger == nil {
		return nil
	}
	dl, err := m.ledger.CheckDownloaded(ctx, key)
	if err != nil {
		m.logger.WithError(err).Warn("failed to check download ledger")
		return nil
	}
	if dl == nil || dl.LocalPath != destPath || dl.SizeBytes != size {
		return nil
	}
	st, err := os.Stat(destPath)
	if err != nil || st.Size() != size {
		return nil
	}
	return &Result{LocalPath: destPath, Checksum: dl.Checksum, SizeBytes: size, Skipped: true}
}

// validateKey rejects keys that could escape the destination directory.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if len(key) > 1024 {
		return fmt.Errorf("key too long: %d characters (max 1024)", len(key))
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key contains path traversal: %s", key)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("key should not start with /: %s", key)
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("key contains null byte")
	}
	return nil
}
