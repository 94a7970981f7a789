// Package postgres provides a Postgres-backed snapshot store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/snapshot"
)

const (
	backendName  = "postgres"
	defaultTable = "harvest_snapshot"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the snapshot table.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// SnapshotStore keeps the snapshot as one table with a TEXT column per
// schema column, keyed by (id, link).
type SnapshotStore struct {
	pool  pool
	table string
}

// New connects to Postgres and returns a SnapshotStore.
func New(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("snapshot.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*SnapshotStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SnapshotStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the snapshot table when it does not exist.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	defs := make([]string, 0, len(snapshot.Columns)+1)
	for _, col := range snapshot.Columns {
		defs = append(defs, fmt.Sprintf("%s TEXT NOT NULL", col))
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s, %s)", snapshot.ColID, snapshot.ColLink))
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", s.table, strings.Join(defs, ",\n\t"))
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return &crawler.PersistenceError{Op: "ensure schema", Backend: backendName, Err: err}
	}
	return nil
}

// Load reads every row of the snapshot table.
func (s *SnapshotStore) Load(ctx context.Context) ([]crawler.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(snapshot.Columns, ", "), s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "load", Backend: backendName, Err: err}
	}
	defer rows.Close()

	var table [][]string
	for rows.Next() {
		cells := make([]string, len(snapshot.Columns))
		dest := make([]any, len(cells))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &crawler.PersistenceError{Op: "load", Backend: backendName, Err: fmt.Errorf("scan row: %w", err)}
		}
		table = append(table, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, &crawler.PersistenceError{Op: "load", Backend: backendName, Err: err}
	}
	return snapshot.Records(snapshot.Columns, table), nil
}

// Save replaces the table contents with records in one transaction.
func (s *SnapshotStore) Save(ctx context.Context, records []crawler.Record) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &crawler.PersistenceError{Op: "save", Backend: backendName, Err: fmt.Errorf("begin: %w", err)}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return &crawler.PersistenceError{Op: "save", Backend: backendName, Err: fmt.Errorf("clear table: %w", err)}
	}

	_, rows := snapshot.Table(records)
	values := make([][]any, 0, len(rows))
	for _, row := range rows {
		vals := make([]any, len(row))
		for i, cell := range row {
			vals[i] = cell
		}
		values = append(values, vals)
	}
	if _, err = tx.CopyFrom(ctx, pgx.Identifier{s.table}, snapshot.Header(), pgx.CopyFromRows(values)); err != nil {
		return &crawler.PersistenceError{Op: "save", Backend: backendName, Err: fmt.Errorf("copy rows: %w", err)}
	}
	if err = tx.Commit(ctx); err != nil {
		return &crawler.PersistenceError{Op: "save", Backend: backendName, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}
