// Package gcs provides a snapshot store backed by one Google Cloud Storage
// object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/snapshot"
)

const backendName = "gcs"

// Config captures the bucket and object holding the snapshot.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// SnapshotStore reads and overwrites the snapshot object.
type SnapshotStore struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &SnapshotStore{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

// URI returns the gs:// location of the snapshot.
func (s *SnapshotStore) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Load downloads and decodes the snapshot. A missing object is an empty
// snapshot.
func (s *SnapshotStore) Load(ctx context.Context) ([]crawler.Record, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "load", Backend: backendName, Err: fmt.Errorf("open object: %w", err)}
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "load", Backend: backendName, Err: fmt.Errorf("read object: %w", err)}
	}
	records, err := snapshot.Decode(data)
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "load", Backend: backendName, Err: err}
	}
	return records, nil
}

// Save uploads the encoded snapshot. GCS replaces the object only once the
// upload completes.
func (s *SnapshotStore) Save(ctx context.Context, records []crawler.Record) error {
	data, err := snapshot.Encode(records)
	if err != nil {
		return &crawler.PersistenceError{Op: "save", Backend: backendName, Err: err}
	}
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return &crawler.PersistenceError{Op: "save", Backend: backendName,
				Err: fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)}
		}
		return &crawler.PersistenceError{Op: "save", Backend: backendName, Err: fmt.Errorf("write object: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return &crawler.PersistenceError{Op: "save", Backend: backendName, Err: fmt.Errorf("close writer: %w", err)}
	}
	return nil
}
