// Package local_test tests the file-backed snapshot store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesParentDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "snapshot.json")
		store, err := local.New(local.Config{Path: path})
		require.NoError(t, err)
		assert.Equal(t, path, store.Path())
		info, err := os.Stat(filepath.Dir(path))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("ParentIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Path: filepath.Join(file, "snapshot.json")})
		assert.Error(t, err)
	})
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store, err := local.New(local.Config{Path: filepath.Join(t.TempDir(), "snapshot.json")})
	require.NoError(t, err)

	records, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{Path: filepath.Join(dir, "snapshot.json")})
	require.NoError(t, err)

	rec := crawler.NewRecord(crawler.ListingRecord{ID: "42", Link: "https://site.test/v/42", Page: 3})
	rec.Views = crawler.Count(1200)
	rec.DetailStatus = crawler.DetailFetched
	rec.LastDetailFetch = 1000

	require.NoError(t, store.Save(context.Background(), []crawler.Record{rec}))
	// Overwrite, not append.
	require.NoError(t, store.Save(context.Background(), []crawler.Record{rec}))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []crawler.Record{rec}, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	store, err := local.New(local.Config{Path: path})
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, crawler.IsPersistence(err))
}
