package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

func TestSnapshotStoreCopiesRecords(t *testing.T) {
	t.Parallel()

	rec := crawler.NewRecord(crawler.ListingRecord{ID: "1", Link: "/v/1"})
	rec.Categories = []string{"a"}
	s := NewSnapshotStore()

	require.NoError(t, s.Save(context.Background(), []crawler.Record{rec}))
	rec.Categories[0] = "mutated"

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got[0].Categories)
	require.Equal(t, 1, s.Saves())
}

func TestSnapshotStoreFailures(t *testing.T) {
	t.Parallel()

	s := NewSnapshotStore()
	s.FailLoad(errors.New("unreachable"))
	s.FailSave(errors.New("read only"))

	_, err := s.Load(context.Background())
	require.True(t, crawler.IsPersistence(err))
	err = s.Save(context.Background(), nil)
	require.True(t, crawler.IsPersistence(err))
	require.Zero(t, s.Saves())
}
