package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/qiniu/logmon/internal/monitoring/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS alert_history (
	id         BIGSERIAL PRIMARY KEY,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const pgHistoryLockID = 7428190311

// PgStore keeps the history in the alert_history table. The newest row has the highest id.
type PgStore struct {
	db       *sql.DB
	capacity int
	mu       sync.RWMutex
}

// OpenPgStore connects, pings and ensures the schema exists.
func OpenPgStore(ctx context.Context, dsn string, capacity int) (*PgStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := NewPgStore(db, capacity)
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create alert_history: %w", err)
	}
	return s, nil
}

func NewPgStore(db *sql.DB, capacity int) *PgStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &PgStore{db: db, capacity: capacity}
}

// PushFront inserts and trims in one transaction.
func (s *PgStore) PushFront(ctx context.Context, record []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &model.UpstreamError{Upstream: "postgres", Op: "begin", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	// serialize concurrent push+trim pairs
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, pgHistoryLockID); err != nil {
		return &model.UpstreamError{Upstream: "postgres", Op: "lock", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO alert_history (record) VALUES ($1::jsonb)`, string(record)); err != nil {
		return &model.UpstreamError{Upstream: "postgres", Op: "insert", Err: err}
	}
	const trim = `DELETE FROM alert_history WHERE id <= (
	SELECT id FROM alert_history ORDER BY id DESC OFFSET $1 LIMIT 1)`
	if _, err := tx.ExecContext(ctx, trim, s.capacity); err != nil {
		return &model.UpstreamError{Upstream: "postgres", Op: "trim", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &model.UpstreamError{Upstream: "postgres", Op: "commit", Err: err}
	}
	return nil
}

func (s *PgStore) Range(ctx context.Context, count int) ([][]byte, error) {
	if count <= 0 {
		return [][]byte{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT record::text FROM alert_history ORDER BY id DESC LIMIT $1`, count)
	if err != nil {
		return nil, &model.UpstreamError{Upstream: "postgres", Op: "range", Err: err}
	}
	defer rows.Close()
	out := make([][]byte, 0, count)
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, &model.UpstreamError{Upstream: "postgres", Op: "scan", Err: err}
		}
		out = append(out, []byte(rec))
	}
	if err := rows.Err(); err != nil {
		return nil, &model.UpstreamError{Upstream: "postgres", Op: "range", Err: err}
	}
	return out, nil
}

func (s *PgStore) Len(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_history`).Scan(&n); err != nil {
		return 0, &model.UpstreamError{Upstream: "postgres", Op: "len", Err: err}
	}
	return n, nil
}

func (s *PgStore) Capacity() int { return s.capacity }

// Close closes the database handle.
func (s *PgStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
