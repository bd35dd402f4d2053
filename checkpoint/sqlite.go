package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"deepagent/agent"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threads (
	thread_id  TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQLite keeps one row per thread holding the JSON-encoded state.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path. ":memory:" is allowed.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", path, err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, threadID string) (*agent.ThreadState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM threads WHERE thread_id = ?`, threadID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", agent.ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("query thread %s: %w", threadID, err)
	}
	var st agent.ThreadState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	return &st, nil
}

func (s *SQLite) Put(ctx context.Context, state *agent.ThreadState) error {
	if state.ThreadID == "" {
		return errors.New("put: empty thread id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", state.ThreadID, err)
	}
	created, updated := state.CreatedAt, state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	if created.IsZero() {
		created = updated
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
INSERT INTO threads (thread_id, state, created_at, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		state.ThreadID, string(data), created, updated)
	if err != nil {
		return fmt.Errorf("save thread %s: %w", state.ThreadID, err)
	}
	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", agent.ErrThreadNotFound, threadID)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
