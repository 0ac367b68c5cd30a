// Package backup takes encrypted snapshots of the SQLite database and keeps
// them in S3-compatible object storage. Claims and witness records are the
// only copy of an adjudication, so they are shipped off the host.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonboulle/clockwork"
)

const keyTimeFormat = "20060102T150405Z"

// ObjectStore is the subset of the S3 API a Manager needs.
type ObjectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Prefix     string
	Passphrase string
	Retention  time.Duration
}

// Enabled reports whether enough is configured to take snapshots.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

// NewS3Client builds a path-style client, which also works against MinIO
// and other S3-compatible endpoints.
func NewS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

type Manager struct {
	db     *sql.DB
	store  ObjectStore
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewManager(db *sql.DB, store ObjectStore, cfg Config, clock clockwork.Clock, logger *slog.Logger) *Manager {
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Manager{db: db, store: store, cfg: cfg, clock: clock, logger: logger.With("component", "backup")}
}

// Run snapshots the database with VACUUM INTO, encrypts it and uploads it.
// It returns the object key.
func (m *Manager) Run(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "fairway-backup-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	snap := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", snap); err != nil {
		return "", fmt.Errorf("snapshot database: %w", err)
	}
	plain, err := os.ReadFile(snap)
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}
	sealed, err := Seal(plain, m.cfg.Passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt snapshot: %w", err)
	}

	key := m.key(m.clock.Now().UTC())
	_, err = m.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	m.logger.Info("snapshot uploaded", "key", key, "bytes", len(sealed))
	return key, nil
}

// Prune deletes snapshots older than the retention period and returns how
// many were removed. A zero retention keeps everything.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	if m.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := m.clock.Now().Add(-m.cfg.Retention)

	var (
		removed int
		token   *string
	)
	for {
		out, err := m.store.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(m.cfg.Bucket),
			Prefix:            aws.String(m.keyPrefix()),
			ContinuationToken: token,
		})
		if err != nil {
			return removed, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			if _, err := m.store.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(m.cfg.Bucket),
				Key:    obj.Key,
			}); err != nil {
				return removed, fmt.Errorf("delete snapshot %s: %w", aws.ToString(obj.Key), err)
			}
			removed++
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	if removed > 0 {
		m.logger.Info("old snapshots pruned", "count", removed)
	}
	return removed, nil
}

func (m *Manager) keyPrefix() string {
	if m.cfg.Prefix == "" {
		return "fairway-"
	}
	return m.cfg.Prefix + "/fairway-"
}

func (m *Manager) key(t time.Time) string {
	return m.keyPrefix() + t.Format(keyTimeFormat) + ".db.enc"
}
