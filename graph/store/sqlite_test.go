package store

import (
	"context"
	"errors"
	"testing"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore[testState] {
	t.Helper()
	st, err := NewSQLiteStore[testState](":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteTestStore(t)

	original := Checkpoint[testState]{
		ThreadID: "t1",
		Step:     1,
		State:    testState{"topic": "x", "round": float64(2), "list": []any{"a", "b"}},
		Pending:  []string{"node_b", "node_c"},
		Status:   StatusRunning,
	}
	if err := st.Append(ctx, original); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	loaded, err := st.Load(ctx, "t1", 1)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ThreadID != "t1" || loaded.Step != 1 || loaded.Status != StatusRunning {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.State["topic"] != "x" {
		t.Errorf("state topic = %v", loaded.State["topic"])
	}
	if len(loaded.Pending) != 2 || loaded.Pending[0] != "node_b" {
		t.Errorf("pending = %v", loaded.Pending)
	}
	if loaded.CreatedAt.IsZero() {
		t.Error("CreatedAt not persisted")
	}
}

func TestSQLiteStoreDuplicateStep(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteTestStore(t)

	if err := st.Append(ctx, cp("t1", 1, StatusRunning)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	err := st.Append(ctx, cp("t1", 1, StatusRunning))
	if !errors.Is(err, ErrDuplicateStep) {
		t.Fatalf("expected ErrDuplicateStep, got %v", err)
	}

	// Same step on another thread is fine.
	if err := st.Append(ctx, cp("t2", 1, StatusRunning)); err != nil {
		t.Errorf("Append() on other thread error = %v", err)
	}
}

func TestSQLiteStoreLatestAndHistory(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteTestStore(t)

	for step := 0; step < 4; step++ {
		status := StatusRunning
		if step == 3 {
			status = StatusCompleted
		}
		if err := st.Append(ctx, cp("t1", step, status)); err != nil {
			t.Fatalf("Append(%d) error = %v", step, err)
		}
	}

	latest, err := st.Latest(ctx, "t1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Step != 3 || latest.Status != StatusCompleted {
		t.Errorf("latest = %+v", latest)
	}

	history, err := st.History(ctx, "t1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	for i, got := range history {
		if got.Step != i {
			t.Errorf("history[%d].Step = %d", i, got.Step)
		}
	}
}

func TestSQLiteStoreNotFound(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteTestStore(t)

	if _, err := st.Latest(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest() = %v, want ErrNotFound", err)
	}
	if _, err := st.Load(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() = %v, want ErrNotFound", err)
	}
	if _, err := st.History(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("History() = %v, want ErrNotFound", err)
	}
}
