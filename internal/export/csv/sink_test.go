package csvexport

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExportWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	sink, err := New(Config{Path: path})
	require.NoError(t, err)
	require.Equal(t, "csv", sink.Name())

	header := []string{"page", "id", "title"}
	rows := [][]string{{"1", "42", "Comma, quoted"}, {"2", "7", "N/A"}}
	require.NoError(t, sink.Export(context.Background(), header, rows))
	// Second export overwrites.
	require.NoError(t, sink.Export(context.Background(), header, rows[:1]))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	got, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{header, rows[0]}, got)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestExportCreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "nested", "records.csv")
	sink, err := New(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, sink.Export(context.Background(), []string{"a"}, [][]string{{"1"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a\n1\n", string(data))
}

func TestExportPathBlockedByFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	sink, err := New(Config{Path: filepath.Join(blocker, "records.csv")})
	require.NoError(t, err)
	require.Error(t, sink.Export(context.Background(), []string{"a"}, nil))
}
