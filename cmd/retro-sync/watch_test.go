package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/alexjbarnes/retro-sync/internal/reconcile"
	"github.com/alexjbarnes/retro-sync/internal/remote/sqlite"
	"github.com/alexjbarnes/retro-sync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatchSyncer(t *testing.T) (*reconcile.Syncer, *sqlite.Store) {
	t.Helper()

	dir := t.TempDir()

	st, err := state.LoadAt(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	remote, err := sqlite.Open(context.Background(), filepath.Join(dir, "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })

	s, err := reconcile.NewSyncer(st, remote, reconcile.Options{Concurrency: 2, CallTimeout: 5 * time.Second}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return s, remote
}

func TestImportAndPush(t *testing.T) {
	s, remote := newWatchSyncer(t)

	path := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, os.WriteFile(path, []byte(snapshotDoc), 0o600))

	require.NoError(t, importAndPush(context.Background(), s, path, slog.New(slog.DiscardHandler)))

	places, err := remote.ListAll(context.Background(), models.EntityPlace)
	require.NoError(t, err)
	assert.Len(t, places, 1)

	plan, err := s.Plan(context.Background())
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestImportAndPush_InvalidSnapshot(t *testing.T) {
	s, remote := newWatchSyncer(t)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"1.0.0"`), 0o600))

	require.Error(t, importAndPush(context.Background(), s, path, slog.New(slog.DiscardHandler)))

	places, err := remote.ListAll(context.Background(), models.EntityPlace)
	require.NoError(t, err)
	assert.Empty(t, places)
}
