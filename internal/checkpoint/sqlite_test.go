package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	written := newCheckpoint("sess-1", "cp-1", `{"messages":[],"meta":{"locale":"en"}}`)
	require.NoError(t, store.Put(ctx, written))

	got, err := store.Get(ctx, "sess-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, written.State, got.State)
	assert.Equal(t, "test", got.Metadata["source"])
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLiteStoreLatestAndLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-1", "one")))
	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-2", "two")))

	latest, err := store.Get(ctx, "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, "cp-2", latest.CheckpointID)

	// Overwrite keeps a single row per (session, checkpoint).
	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-2", "two-rewritten")))
	got, err := store.Get(ctx, "sess-1", "cp-2")
	require.NoError(t, err)
	assert.Equal(t, []byte("two-rewritten"), got.State)

	summaries, err := store.List(ctx, "sess-1", 0)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}

func TestSQLiteStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	_, err := store.Get(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	require.NoError(t, store.Put(ctx, newCheckpoint("a", "cp-1", "x")))
	require.NoError(t, store.Put(ctx, newCheckpoint("a", "cp-2", "xy")))
	require.NoError(t, store.Put(ctx, newCheckpoint("b", "cp-3", "xyz")))

	all, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := store.List(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 2, limited[0].Size)

	removed, err := store.Delete(ctx, "a", "cp-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Delete(ctx, "a", "")
	require.NoError(t, err)
	assert.True(t, removed)

	remaining, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b", remaining[0].SessionID)
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-1", "persisted")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got.State)
	assert.True(t, reopened.Healthy(ctx))
}
