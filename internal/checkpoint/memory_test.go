package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckpoint(sessionID, checkpointID string, payload string) *Checkpoint {
	return &Checkpoint{
		SessionID:    sessionID,
		CheckpointID: checkpointID,
		State:        []byte(payload),
		Metadata:     map[string]string{"source": "test"},
		CreatedAt:    time.Now(),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	written := newCheckpoint("sess-1", "cp-1", `{"messages":[]}`)
	require.NoError(t, store.Put(ctx, written))

	got, err := store.Get(ctx, "sess-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, written.State, got.State)
	assert.Equal(t, "test", got.Metadata["source"])
}

func TestMemoryStoreGetDetachesStoredCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-1", "original")))

	got, err := store.Get(ctx, "sess-1", "cp-1")
	require.NoError(t, err)
	got.State[0] = 'X'
	got.Metadata["source"] = "mutated"

	again, err := store.Get(ctx, "sess-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again.State)
	assert.Equal(t, "test", again.Metadata["source"])
}

func TestMemoryStoreLatest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-1", "one")))
	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-2", "two")))

	got, err := store.Get(ctx, "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, "cp-2", got.CheckpointID)
}

func TestMemoryStoreLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-1", "old")))
	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-2", "middle")))
	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-1", "new")))

	got, err := store.Get(ctx, "sess-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got.State)

	// Rewriting cp-1 makes it the latest for the session.
	latest, err := store.Get(ctx, "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", latest.CheckpointID)

	summaries, err := store.List(ctx, "sess-1", 0)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-1", "x")))
	_, err = store.Get(ctx, "sess-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-1", "x")))
	require.NoError(t, store.Put(ctx, newCheckpoint("sess-1", "cp-2", "y")))

	removed, err := store.Delete(ctx, "sess-1", "cp-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Delete(ctx, "sess-1", "cp-1")
	require.NoError(t, err)
	assert.False(t, removed)

	// Empty checkpoint id removes the whole session.
	removed, err = store.Delete(ctx, "sess-1", "")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = store.Get(ctx, "sess-1", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, newCheckpoint("a", "cp-1", "x")))
	require.NoError(t, store.Put(ctx, newCheckpoint("a", "cp-2", "yy")))
	require.NoError(t, store.Put(ctx, newCheckpoint("b", "cp-3", "zzz")))

	all, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := store.List(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	// Newest first.
	assert.Equal(t, "cp-2", onlyA[0].CheckpointID)
	assert.Equal(t, 2, onlyA[0].Size)

	limited, err := store.List(ctx, "a", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStoreClosed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	assert.False(t, store.Healthy(ctx))
	assert.ErrorIs(t, store.Put(ctx, newCheckpoint("s", "c", "x")), ErrClosed)
	_, err := store.Get(ctx, "s", "")
	assert.ErrorIs(t, err, ErrClosed)
}
