// Package local implements a snapshot store on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/snapshot"
)

const backendName = "file"

// Config captures the parameters for the file-backed snapshot store.
type Config struct {
	// Path is the snapshot file location.
	Path string `mapstructure:"path" yaml:"path"`
}

// SnapshotStore reads and atomically rewrites one JSON snapshot file.
type SnapshotStore struct {
	path string
}

// New creates a file-backed snapshot store, creating the parent directory
// when missing.
func New(cfg Config) (*SnapshotStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	dir := filepath.Dir(cfg.Path)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat snapshot directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("snapshot directory path is not a directory")
	}
	return &SnapshotStore{path: cfg.Path}, nil
}

// Path returns the snapshot file location.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file is an empty snapshot.
func (s *SnapshotStore) Load(_ context.Context) ([]crawler.Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "load", Backend: backendName, Err: err}
	}
	records, err := snapshot.Decode(data)
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "load", Backend: backendName, Err: err}
	}
	return records, nil
}

// Save overwrites the snapshot through a temp file and rename, so readers
// never observe a partial document.
func (s *SnapshotStore) Save(_ context.Context, records []crawler.Record) error {
	data, err := snapshot.Encode(records)
	if err != nil {
		return &crawler.PersistenceError{Op: "save", Backend: backendName, Err: err}
	}
	if err := WriteFileAtomic(s.path, data); err != nil {
		return &crawler.PersistenceError{Op: "save", Backend: backendName, Err: err}
	}
	return nil
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// over path, creating the parent directory when needed.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
