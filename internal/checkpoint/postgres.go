package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgHealthTimeout = 2 * time.Second

// PostgresStore is the primary durable checkpoint backend, built on a pgx
// connection pool shared by all sessions. Schema management happens once
// at open as an explicit migration, never at request time.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the checkpoint schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	state BYTEA NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, checkpoint_id)
)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_session_created ON checkpoints (session_id, created_at DESC)`)
	return err
}

// Name implements Store.
func (s *PostgresStore) Name() string { return "postgres" }

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, cp *Checkpoint) error {
	meta, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO checkpoints (session_id, checkpoint_id, state, metadata, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, checkpoint_id)
DO UPDATE SET state = EXCLUDED.state, metadata = EXCLUDED.metadata, created_at = EXCLUDED.created_at`,
		cp.SessionID, cp.CheckpointID, cp.State, meta, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, sessionID, checkpointID string) (*Checkpoint, error) {
	query := `SELECT session_id, checkpoint_id, state, metadata, created_at FROM checkpoints WHERE session_id = $1`
	args := []any{sessionID}
	if checkpointID != "" {
		query += ` AND checkpoint_id = $2`
		args = append(args, checkpointID)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var (
		cp   Checkpoint
		meta []byte
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(&cp.SessionID, &cp.CheckpointID, &cp.State, &meta, &cp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint metadata: %w", err)
		}
	}
	return &cp, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, sessionID string, limit int) ([]Summary, error) {
	query := `SELECT session_id, checkpoint_id, length(state), created_at FROM checkpoints`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = $1`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.SessionID, &sum.CheckpointID, &sum.Size, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, sessionID, checkpointID string) (bool, error) {
	query := `DELETE FROM checkpoints WHERE session_id = $1`
	args := []any{sessionID}
	if checkpointID != "" {
		query += ` AND checkpoint_id = $2`
		args = append(args, checkpointID)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Healthy implements Store. The probe is bounded so a hung backend cannot
// stall a stage transition.
func (s *PostgresStore) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pgHealthTimeout)
	defer cancel()
	return s.pool.Ping(ctx) == nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
