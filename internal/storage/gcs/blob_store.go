// Package gcs publishes the finished citation report to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/snp-citation-crawler/internal/hash/sha256"
)

// ReportContentType is the content type stored with uploaded reports.
const ReportContentType = "text/tab-separated-values; charset=utf-8"

// DigestMetadataKey holds the hex SHA-256 of the uploaded report.
const DigestMetadataKey = "sha256"

// Config captures the destination of the report.
type Config struct {
	Bucket string
	Object string
}

// ReportStore copies local report files into a configured GCS object.
type ReportStore struct {
	client *storage.Client
	hasher *sha256.Hasher
	bucket string
	object string
}

// New creates a GCS-backed report store.
func New(client *storage.Client, cfg Config) (*ReportStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, errors.New("object name is required")
	}
	return &ReportStore{
		client: client,
		hasher: sha256.New(),
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

// Upload copies the file at path to the configured object and returns its
// gs:// URI.
func (s *ReportStore) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	digest, _, err := s.hasher.Digest(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind report: %w", err)
	}
	return s.put(ctx, f, digest)
}

func (s *ReportStore) put(ctx context.Context, r io.Reader, digest string) (string, error) {
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = ReportContentType
	writer.Metadata = map[string]string{DigestMetadataKey: digest}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy report: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy report: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object), nil
}
