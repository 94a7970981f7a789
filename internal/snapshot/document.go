package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	hashsha256 "github.com/JakeFAU/listing-harvester/internal/hash/sha256"
)

// Version is the current document format version.
const Version = 1

// Document is the JSON form of a persisted snapshot.
type Document struct {
	Version int        `json:"version"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// NewDocument builds a document from records in the order given.
func NewDocument(records []crawler.Record) Document {
	header, rows := Table(records)
	return Document{Version: Version, Columns: header, Rows: rows}
}

// Encode renders records as an indented JSON document.
func Encode(records []crawler.Record) ([]byte, error) {
	data, err := json.MarshalIndent(NewDocument(records), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a JSON document. Cells are matched by column name, so
// documents with reordered or missing columns still load. Empty input is an
// empty snapshot.
func Decode(data []byte) ([]crawler.Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Version > Version {
		return nil, fmt.Errorf("decode snapshot: unsupported version %d", doc.Version)
	}
	header := doc.Columns
	if len(header) == 0 {
		header = Columns
	}
	return Records(header, doc.Rows), nil
}

// Digest returns the hex SHA-256 of the encoded records. Equal digests mean
// byte-identical snapshots.
func Digest(records []crawler.Record) (string, error) {
	data, err := Encode(records)
	if err != nil {
		return "", err
	}
	return hashsha256.New().Hash(data), nil
}
