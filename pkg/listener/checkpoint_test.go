package listener_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/claimbridge/claimbridge/pkg/listener"
)

func TestFileCheckpointStoreRoundTrip(t *testing.T) {
	path := listener.DefaultCheckpointPath(t.TempDir())
	store := listener.NewFileCheckpointStore(path)

	block, err := store.ReadCheckpoint(t.Context())
	require.NoError(t, err)
	require.Zero(t, block, "missing file reads as zero")

	require.NoError(t, store.WriteCheckpoint(t.Context(), 12345))

	block, err = store.ReadCheckpoint(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(12345), block)

	// Overwrite survives.
	require.NoError(t, store.WriteCheckpoint(t.Context(), 12400))
	block, err = store.ReadCheckpoint(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(12400), block)
}

func TestFileCheckpointStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := listener.NewFileCheckpointStore(path)

	require.NoError(t, store.WriteCheckpoint(t.Context(), 7))

	// New store over the same path sees the persisted value.
	reopened := listener.NewFileCheckpointStore(path)
	block, err := reopened.ReadCheckpoint(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(7), block)
}
