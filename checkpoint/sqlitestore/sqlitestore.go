// Package sqlitestore is a modernc.org/sqlite-backed checkpoint.Store
// tier: single-file, Queryable, survives process restarts. Adapted
// from the teacher's graph/store/sqlite.go SQLiteStore[S], generalized
// from a single JSON state column to the checkpoint package's
// multi-channel payload map.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hollow-sw/hsw/checkpoint"
)

// Store is a SQLite-backed checkpoint.Store.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) a SQLite database at path and
// ensures the checkpoint schema exists. path may be ":memory:" for an
// ephemeral database useful in tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS hsw_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			step_id INTEGER NOT NULL,
			payload TEXT NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE,
			label TEXT DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(thread_id, step_id)
		);
		CREATE INDEX IF NOT EXISTS idx_hsw_checkpoints_thread ON hsw_checkpoints(thread_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return nil
}

func (s *Store) Capability() checkpoint.Capability { return checkpoint.Queryable }

func (s *Store) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hsw_checkpoints (thread_id, run_id, step_id, payload, idempotency_key, label)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, step_id) DO UPDATE SET
			payload = excluded.payload,
			idempotency_key = excluded.idempotency_key,
			label = excluded.label
	`, cp.ThreadID, cp.RunID, cp.StepID, payload, cp.IdempotencyKey, cp.Label)
	if err != nil {
		return fmt.Errorf("sqlitestore: save: %w", err)
	}
	return nil
}

func (s *Store) LoadLatest(ctx context.Context, threadID string) (checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM hsw_checkpoints WHERE thread_id = ? ORDER BY step_id DESC LIMIT 1
	`, threadID)
	return scanCheckpoint(row)
}

func (s *Store) LoadCheckpoint(ctx context.Context, threadID string, stepID int) (checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM hsw_checkpoints WHERE thread_id = ? AND step_id = ?
	`, threadID, stepID)
	return scanCheckpoint(row)
}

func scanCheckpoint(row *sql.Row) (checkpoint.Checkpoint, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("sqlitestore: scan: %w", err)
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("sqlitestore: unmarshal: %w", err)
	}
	return cp, nil
}

func (s *Store) ListCheckpoints(ctx context.Context, threadID string, limit int) ([]checkpoint.Summary, error) {
	query := `SELECT thread_id, run_id, step_id, label, created_at FROM hsw_checkpoints WHERE thread_id = ? ORDER BY step_id ASC`
	args := []interface{}{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	var out []checkpoint.Summary
	for rows.Next() {
		var sum checkpoint.Summary
		var createdAt time.Time
		if err := rows.Scan(&sum.ThreadID, &sum.RunID, &sum.StepID, &sum.Label, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan list row: %w", err)
		}
		sum.Timestamp = createdAt.UnixNano()
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hsw_checkpoints WHERE idempotency_key = ?`, key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlitestore: check idempotency: %w", err)
	}
	return count > 0, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }
