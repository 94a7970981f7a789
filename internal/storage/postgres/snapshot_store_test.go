package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/snapshot"
)

func sampleRecords() []crawler.Record {
	a := crawler.NewRecord(crawler.ListingRecord{ID: "1", Title: "One", Link: "https://site.test/v/1", Page: 1})
	b := crawler.NewRecord(crawler.ListingRecord{ID: "2", Title: "Two", Link: "https://site.test/v/2", Page: 1})
	b.Views = crawler.Count(1200)
	b.DetailStatus = crawler.DetailFetched
	b.LastDetailFetch = 1_700_000_000
	return []crawler.Record{a, b}
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-name;")
	require.Error(t, err)

	s, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, defaultTable, s.table)

	_, err = NewWithPool(nil, "x")
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "listing")
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS listing`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReplacesRowsInTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "harvest_snapshot")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM harvest_snapshot").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"harvest_snapshot"}, snapshot.Columns).
		WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), sampleRecords()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnCopyFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "harvest_snapshot")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM harvest_snapshot").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"harvest_snapshot"}, snapshot.Columns).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = s.Save(context.Background(), sampleRecords())
	require.Error(t, err)
	require.True(t, crawler.IsPersistence(err))
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadReadsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "harvest_snapshot")
	require.NoError(t, err)

	want := sampleRecords()
	rows := pgxmock.NewRows(snapshot.Columns)
	for _, r := range want {
		row := snapshot.ToRow(r)
		vals := make([]any, len(row))
		for i, cell := range row {
			vals[i] = cell
		}
		rows.AddRow(vals...)
	}
	mock.ExpectQuery("SELECT page, id, title").WillReturnRows(rows)

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadWrapsQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "harvest_snapshot")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))
	_, err = s.Load(context.Background())
	require.True(t, crawler.IsPersistence(err))
}
