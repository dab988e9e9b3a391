package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// A single-file database with zero setup, suited to local development,
// tests, and single-process deployments that need checkpoints to survive
// restarts. WAL mode keeps readers unblocked while the engine writes.
//
// Schema: one table, checkpoints, with UNIQUE(thread_id, step) enforcing
// the append-only lineage contract at the database level.
//
// Type parameter S is the state type (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and if needed creates) the database at path and
// runs migration. Use ":memory:" for an in-memory database in tests.
//
//	st, err := store.NewSQLiteStore[graph.State]("./threads.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			state TEXT NOT NULL,
			pending TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(thread_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, step)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_thread: %w", err)
	}
	return nil
}

// Append inserts one checkpoint. The UNIQUE constraint turns a step replay
// into ErrDuplicateStep.
func (s *SQLiteStore[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
	stateJSON, pendingJSON, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, step, state, pending, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.Step, stateJSON, pendingJSON, string(cp.Status), createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("thread %q step %d: %w", cp.ThreadID, cp.Step, ErrDuplicateStep)
		}
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

// Latest returns the highest-step checkpoint for a thread.
func (s *SQLiteStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, step, state, pending, status, created_at
		FROM checkpoints WHERE thread_id = ?
		ORDER BY step DESC LIMIT 1`, threadID)
	return scanCheckpoint[S](row)
}

// Load returns the checkpoint at a specific step.
func (s *SQLiteStore[S]) Load(ctx context.Context, threadID string, step int) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, step, state, pending, status, created_at
		FROM checkpoints WHERE thread_id = ? AND step = ?`, threadID, step)
	return scanCheckpoint[S](row)
}

// History returns the full lineage, step ascending.
func (s *SQLiteStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, step, state, pending, status, created_at
		FROM checkpoints WHERE thread_id = ?
		ORDER BY step ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Checkpoint[S]
	for rows.Next() {
		cp, err := scanCheckpoint[S](rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Close releases the database connection.
func (s *SQLiteStore[S]) Close() error {
	return s.db.Close()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint[S any](row rowScanner) (Checkpoint[S], error) {
	var (
		cp          Checkpoint[S]
		stateJSON   string
		pendingJSON string
		status      string
	)
	err := row.Scan(&cp.ThreadID, &cp.Step, &stateJSON, &pendingJSON, &status, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var zero Checkpoint[S]
		return zero, ErrNotFound
	}
	if err != nil {
		var zero Checkpoint[S]
		return zero, fmt.Errorf("failed to scan checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		var zero Checkpoint[S]
		return zero, fmt.Errorf("failed to decode state: %w", err)
	}
	if err := json.Unmarshal([]byte(pendingJSON), &cp.Pending); err != nil {
		var zero Checkpoint[S]
		return zero, fmt.Errorf("failed to decode pending set: %w", err)
	}
	cp.Status = Status(status)
	return cp, nil
}

func encodeCheckpoint[S any](cp Checkpoint[S]) (stateJSON, pendingJSON string, err error) {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode state: %w", err)
	}

	pending := cp.Pending
	if pending == nil {
		pending = []string{}
	}
	pendingData, err := json.Marshal(pending)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode pending set: %w", err)
	}
	return string(state), string(pendingData), nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text;
	// the driver does not export a typed error for them.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
