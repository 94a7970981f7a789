// Package csvexport writes the reconciled table to a CSV file.
package csvexport

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/JakeFAU/listing-harvester/internal/storage/local"
)

// Config captures the CSV output location.
type Config struct {
	Path string `mapstructure:"path"`
}

// Sink implements crawler.ExportSink for CSV files.
type Sink struct {
	path string
}

// New creates a CSV sink.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("csv path is required")
	}
	return &Sink{path: cfg.Path}, nil
}

// Name identifies the sink in logs.
func (s *Sink) Name() string {
	return "csv"
}

// Export overwrites the file with the header and rows.
func (s *Sink) Export(_ context.Context, header []string, rows [][]string) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	if err := local.WriteFileAtomic(s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("write csv file: %w", err)
	}
	return nil
}
