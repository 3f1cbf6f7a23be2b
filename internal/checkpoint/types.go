package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Errors for checkpoint operations.
var (
	// ErrNotFound indicates no checkpoint exists for the requested keys.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("checkpoint store closed")

	// ErrPersistence indicates a write failed on every backend,
	// including the in-memory fallback.
	ErrPersistence = errors.New("checkpoint persistence failed on all backends")
)

// Metadata keys written by the Manager.
const (
	// MetaDegraded marks checkpoints written after falling back from a
	// durable backend to memory.
	MetaDegraded = "degraded"

	// MetaCoercedFields lists state fragments that were not serializable
	// and were coerced to their string form.
	MetaCoercedFields = "coerced_fields"

	// MetaBackend records the backend that accepted the write.
	MetaBackend = "backend"
)

// Checkpoint is one persisted workflow state snapshot.
type Checkpoint struct {
	SessionID    string            `json:"session_id"`
	CheckpointID string            `json:"checkpoint_id"`
	State        []byte            `json:"state_blob"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Summary is a checkpoint listing entry without the state blob.
type Summary struct {
	SessionID    string    `json:"session_id"`
	CheckpointID string    `json:"checkpoint_id"`
	CreatedAt    time.Time `json:"created_at"`
	Size         int       `json:"size"`
}

// Store is one checkpoint persistence backend. All implementations must be
// safe for concurrent use by multiple sessions.
type Store interface {
	// Name identifies the backend ("postgres", "sqlite", "memory").
	Name() string

	// Put writes a checkpoint, replacing any existing checkpoint with the
	// same (sessionID, checkpointID) pair.
	Put(ctx context.Context, cp *Checkpoint) error

	// Get reads a checkpoint. An empty checkpointID selects the latest
	// checkpoint for the session. Returns ErrNotFound when absent.
	Get(ctx context.Context, sessionID, checkpointID string) (*Checkpoint, error)

	// List returns summaries, newest first. An empty sessionID lists all
	// sessions; limit <= 0 means no limit.
	List(ctx context.Context, sessionID string, limit int) ([]Summary, error)

	// Delete removes one checkpoint, or every checkpoint of the session
	// when checkpointID is empty. Reports whether anything was removed.
	Delete(ctx context.Context, sessionID, checkpointID string) (bool, error)

	// Healthy reports whether the backend can currently serve requests.
	Healthy(ctx context.Context) bool

	// Close releases backend resources.
	Close() error
}
