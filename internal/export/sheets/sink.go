// Package sheetsexport publishes the reconciled table to a Google Sheet.
package sheetsexport

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Config identifies the target spreadsheet.
type Config struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	Range           string `mapstructure:"range"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// Sink implements crawler.ExportSink for Google Sheets.
type Sink struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetRange    string
}

// New builds a Sheets client. Without a credentials file the default
// application credentials are used.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Sink, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, option.WithScopes(sheets.SpreadsheetsScope))
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg)
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *sheets.Service, cfg Config) (*Sink, error) {
	if svc == nil {
		return nil, fmt.Errorf("sheets service is required")
	}
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	r := cfg.Range
	if r == "" {
		r = "Sheet1"
	}
	return &Sink{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheetRange: r}, nil
}

// Name identifies the sink in logs.
func (s *Sink) Name() string {
	return "sheets"
}

// Export clears the range, then writes the header and rows from its first
// cell.
func (s *Sink) Export(ctx context.Context, header []string, rows [][]string) error {
	values := make([][]any, 0, len(rows)+1)
	values = append(values, toCells(header))
	for _, row := range rows {
		values = append(values, toCells(row))
	}

	if _, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, s.sheetRange, &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet: %w", err)
	}

	target := s.anchor()
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, target, &sheets.ValueRange{
		Range:  target,
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update sheet: %w", err)
	}
	return nil
}

// anchor returns the A1 cell of the configured sheet.
func (s *Sink) anchor() string {
	sheet := s.sheetRange
	if i := strings.Index(sheet, "!"); i >= 0 {
		sheet = sheet[:i]
	}
	return sheet + "!A1"
}

func toCells(row []string) []any {
	cells := make([]any, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}
