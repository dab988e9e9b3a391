package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL implementation of Store[S].
//
// Suited to multi-process deployments where several services share one
// checkpoint database. The contract is identical to SQLiteStore: one
// append-only checkpoints table with a UNIQUE(thread_id, step) constraint.
//
// DSN format follows github.com/go-sql-driver/mysql, e.g.
// "user:pass@tcp(localhost:3306)/flowstate?parseTime=true". parseTime=true
// is required so created_at scans into time.Time.
//
// Type parameter S is the state type (must be JSON-serializable).
type MySQLStore[S any] struct {
	db *sql.DB
}

// NewMySQLStore connects to MySQL, verifies the connection, and runs
// migration.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore[S]) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			state JSON NOT NULL,
			pending JSON NOT NULL,
			status VARCHAR(32) NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			UNIQUE KEY uq_thread_step (thread_id, step),
			KEY idx_thread (thread_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

// Append inserts one checkpoint. A duplicate (thread, step) insert maps to
// ErrDuplicateStep via the driver's error number 1062.
func (s *MySQLStore[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
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
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return fmt.Errorf("thread %q step %d: %w", cp.ThreadID, cp.Step, ErrDuplicateStep)
		}
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

// Latest returns the highest-step checkpoint for a thread.
func (s *MySQLStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, step, state, pending, status, created_at
		FROM checkpoints WHERE thread_id = ?
		ORDER BY step DESC LIMIT 1`, threadID)
	return scanMySQLCheckpoint[S](row)
}

// Load returns the checkpoint at a specific step.
func (s *MySQLStore[S]) Load(ctx context.Context, threadID string, step int) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, step, state, pending, status, created_at
		FROM checkpoints WHERE thread_id = ? AND step = ?`, threadID, step)
	return scanMySQLCheckpoint[S](row)
}

// History returns the full lineage, step ascending.
func (s *MySQLStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
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
		cp, err := scanMySQLCheckpoint[S](rows)
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

// Close releases the database connection pool.
func (s *MySQLStore[S]) Close() error {
	return s.db.Close()
}

// scanMySQLCheckpoint mirrors scanCheckpoint but reads JSON columns as raw
// bytes, which the MySQL driver returns for JSON values.
func scanMySQLCheckpoint[S any](row rowScanner) (Checkpoint[S], error) {
	var (
		cp          Checkpoint[S]
		stateJSON   []byte
		pendingJSON []byte
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

	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		var zero Checkpoint[S]
		return zero, fmt.Errorf("failed to decode state: %w", err)
	}
	if err := json.Unmarshal(pendingJSON, &cp.Pending); err != nil {
		var zero Checkpoint[S]
		return zero, fmt.Errorf("failed to decode pending set: %w", err)
	}
	cp.Status = Status(status)
	return cp, nil
}
