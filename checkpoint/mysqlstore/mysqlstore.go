// Package mysqlstore is a go-sql-driver/mysql-backed checkpoint.Store
// tier: Queryable, suitable for multi-process deployments sharing one
// MySQL instance. Adapted from the teacher's graph/store/mysql.go.
package mysqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/hollow-sw/hsw/checkpoint"
)

// Store is a MySQL-backed checkpoint.Store.
type Store struct {
	db *sql.DB
}

// New opens a MySQL connection using dsn (as accepted by
// go-sql-driver/mysql) and ensures the checkpoint schema exists.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: open: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysqlstore: ping: %w", err)
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
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			run_id VARCHAR(255) NOT NULL,
			step_id INT NOT NULL,
			payload LONGTEXT NOT NULL,
			idempotency_key VARCHAR(255) NOT NULL,
			label VARCHAR(255) DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_thread_step (thread_id, step_id),
			UNIQUE KEY uniq_idempotency (idempotency_key),
			KEY idx_thread (thread_id)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("mysqlstore: create schema: %w", err)
	}
	return nil
}

func (s *Store) Capability() checkpoint.Capability { return checkpoint.Queryable }

func (s *Store) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("mysqlstore: marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hsw_checkpoints (thread_id, run_id, step_id, payload, idempotency_key, label)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload), idempotency_key = VALUES(idempotency_key), label = VALUES(label)
	`, cp.ThreadID, cp.RunID, cp.StepID, payload, cp.IdempotencyKey, cp.Label)
	if err != nil {
		return fmt.Errorf("mysqlstore: save: %w", err)
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
		return checkpoint.Checkpoint{}, fmt.Errorf("mysqlstore: scan: %w", err)
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("mysqlstore: unmarshal: %w", err)
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
		return nil, fmt.Errorf("mysqlstore: list: %w", err)
	}
	defer rows.Close()

	var out []checkpoint.Summary
	for rows.Next() {
		var sum checkpoint.Summary
		var createdAt time.Time
		if err := rows.Scan(&sum.ThreadID, &sum.RunID, &sum.StepID, &sum.Label, &createdAt); err != nil {
			return nil, fmt.Errorf("mysqlstore: scan list row: %w", err)
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
		return false, fmt.Errorf("mysqlstore: check idempotency: %w", err)
	}
	return count > 0, nil
}

// Close releases the underlying database connection pool.
func (s *Store) Close() error { return s.db.Close() }
