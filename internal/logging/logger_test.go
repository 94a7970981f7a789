package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Development: true})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(-1), "development logs debug")
}

func TestNewProductionLoggerWritesJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.log")
	logger, err := New(Options{Level: "warn", OutputPaths: []string{path}})
	require.NoError(t, err)

	ForRun(logger, "run-1").Info("dropped")
	ForRun(logger, "run-1").Warn("kept")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "kept", entry["msg"])
	require.Equal(t, "run-1", entry["run_id"])
	require.Contains(t, entry, "ts")
}

func TestNewRejectsBadLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Level: "loud"})
	require.Error(t, err)
}
