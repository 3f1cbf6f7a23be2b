package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchemaVersion = 1

// SQLiteStore is the file-backed durable checkpoint backend. It uses the
// pure-Go modernc driver, so it works without cgo.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the checkpoint database under dataDir
// and applies schema migrations.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "spectrad.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	s := &SQLiteStore{conn: conn, path: dbPath}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}

	version, err := readSchemaVersion(tx)
	if err != nil {
		return err
	}
	if version > sqliteSchemaVersion {
		return fmt.Errorf("db schema version %d is newer than runtime version %d", version, sqliteSchemaVersion)
	}

	if version < 1 {
		create := `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	state BLOB NOT NULL,
	metadata TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, checkpoint_id)
);`
		if _, err := tx.Exec(create); err != nil {
			return fmt.Errorf("migrate schema 0 -> 1: %w", err)
		}
		if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_checkpoints_session_created ON checkpoints(session_id, created_at DESC)`); err != nil {
			return fmt.Errorf("migrate schema 0 -> 1: %w", err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_meta (key, value) VALUES ('schema_version', ?)`, strconv.Itoa(sqliteSchemaVersion)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func readSchemaVersion(tx *sql.Tx) (int, error) {
	var versionText string
	err := tx.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&versionText)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	version, parseErr := strconv.Atoi(versionText)
	if parseErr != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", versionText, parseErr)
	}
	return version, nil
}

// Name implements Store.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, cp *Checkpoint) error {
	meta, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (session_id, checkpoint_id, state, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		cp.SessionID, cp.CheckpointID, cp.State, string(meta), cp.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, sessionID, checkpointID string) (*Checkpoint, error) {
	query := `SELECT session_id, checkpoint_id, state, metadata, created_at FROM checkpoints WHERE session_id = ?`
	args := []any{sessionID}
	if checkpointID != "" {
		query += ` AND checkpoint_id = ?`
		args = append(args, checkpointID)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	row := s.conn.QueryRowContext(ctx, query, args...)
	return scanCheckpoint(row)
}

func scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		metaText  sql.NullString
		createdAt int64
	)
	err := row.Scan(&cp.SessionID, &cp.CheckpointID, &cp.State, &metaText, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if metaText.Valid && metaText.String != "" {
		if err := json.Unmarshal([]byte(metaText.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint metadata: %w", err)
		}
	}
	cp.CreatedAt = time.UnixMilli(createdAt)
	return &cp, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]Summary, error) {
	query := `SELECT session_id, checkpoint_id, length(state), created_at FROM checkpoints`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			createdAt int64
		)
		if err := rows.Scan(&sum.SessionID, &sum.CheckpointID, &sum.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint summary: %w", err)
		}
		sum.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID, checkpointID string) (bool, error) {
	query := `DELETE FROM checkpoints WHERE session_id = ?`
	args := []any{sessionID}
	if checkpointID != "" {
		query += ` AND checkpoint_id = ?`
		args = append(args, checkpointID)
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Healthy implements Store.
func (s *SQLiteStore) Healthy(ctx context.Context) bool {
	return s.conn.PingContext(ctx) == nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
