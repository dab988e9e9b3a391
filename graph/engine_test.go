package graph

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mhollis/flowstate/graph/emit"
	"github.com/mhollis/flowstate/graph/store"
)

// appender returns a node that appends its name to the "log" field, with
// an optional artificial delay to shake out ordering assumptions.
func appender(name string, delay time.Duration) Node {
	return NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return Delta{"log": []any{name}}, nil
	})
}

func logReducers() Reducers {
	return Reducers{
		"log":      AppendSequence,
		FieldRound: MaxScalar,
	}
}

func logOf(t *testing.T, s State) []string {
	t.Helper()
	var names []string
	for _, v := range s.Seq("log") {
		name, ok := v.(string)
		if !ok {
			t.Fatalf("log entry %v is %T, want string", v, v)
		}
		names = append(names, name)
	}
	return names
}

func newTestEngine(t *testing.T, g *Graph, opts ...Option) (*Engine, *store.MemStore[State]) {
	t.Helper()
	st := store.NewMemStore[State]()
	eng, err := NewEngine(g, st, emit.NewNullEmitter(), opts...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return eng, st
}

func TestRunLinearGraphCompletes(t *testing.T) {
	b := NewBuilder(logReducers())
	b.AddNode("first", appender("first", 0), "log")
	b.AddNode("second", appender("second", 0), "log")
	b.SetEntry("first")
	b.AddEdge("first", "second")
	b.AddEdge("second", End)

	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	eng, st := newTestEngine(t, g)
	result, err := eng.Run(context.Background(), "t1", State{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != store.StatusCompleted {
		t.Errorf("status = %v, want completed", result.Status)
	}
	if got := logOf(t, result.State); !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Errorf("log = %v", got)
	}

	history, err := st.History(context.Background(), "t1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	// Step 0 (initial) plus one checkpoint per wave.
	if len(history) != 3 {
		t.Fatalf("checkpoint count = %d, want 3", len(history))
	}
	final := history[len(history)-1]
	if final.Status != store.StatusCompleted || len(final.Pending) != 0 {
		t.Errorf("terminal checkpoint = %+v", final)
	}
	if history[1].Pending[0] != "second" {
		t.Errorf("step 1 pending = %v, want [second]", history[1].Pending)
	}
}

func TestFanOutMergeOrderIsDeterministic(t *testing.T) {
	build := func() *Graph {
		b := NewBuilder(logReducers())
		b.AddNode("seed", appender("seed", 0), "log")
		for _, name := range []string{"left", "mid", "right"} {
			// Random delays so completion order varies between runs.
			b.AddNode(name, appender(name, time.Duration(rand.Intn(10))*time.Millisecond), "log")
		}
		b.SetEntry("seed")
		b.AddEdge("seed", "left")
		b.AddEdge("seed", "mid")
		b.AddEdge("seed", "right")
		for _, name := range []string{"left", "mid", "right"} {
			b.AddEdge(name, End)
		}
		g, err := b.Compile()
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		return g
	}

	want := []string{"seed", "left", "mid", "right"}
	for i := 0; i < 10; i++ {
		eng, _ := newTestEngine(t, build())
		result, err := eng.Run(context.Background(), "t1", State{})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got := logOf(t, result.State); !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: log = %v, want %v (merge order must follow edge declaration)", i, got, want)
		}
	}
}

func TestWaveRetryUsesSameSnapshot(t *testing.T) {
	var okRuns, flakyRuns atomic.Int32
	var mu sync.Mutex
	var seen []string

	ok := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		okRuns.Add(1)
		return Delta{"log": []any{"ok"}}, nil
	})
	flaky := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		mu.Lock()
		seen = append(seen, state.Text("seeded"))
		mu.Unlock()
		if flakyRuns.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return Delta{"log": []any{"flaky"}}, nil
	})

	b := NewBuilder(logReducers())
	b.AddNode("seed", NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		return Delta{"seeded": "v1", "log": []any{"seed"}}, nil
	}), "seeded", "log")
	b.AddNode("ok", ok, "log")
	b.AddNode("flaky", flaky, "log")
	b.SetEntry("seed")
	b.AddEdge("seed", "ok")
	b.AddEdge("seed", "flaky")
	b.AddEdge("ok", End)
	b.AddEdge("flaky", End)

	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	eng, _ := newTestEngine(t, g, WithRetryPolicy(&RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}))

	result, err := eng.Run(context.Background(), "t1", State{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The whole wave retried: the healthy node ran twice.
	if okRuns.Load() != 2 || flakyRuns.Load() != 2 {
		t.Errorf("runs: ok=%d flaky=%d, want 2 and 2", okRuns.Load(), flakyRuns.Load())
	}
	// Both attempts observed the identical pre-wave snapshot.
	if len(seen) != 2 || seen[0] != "v1" || seen[1] != "v1" {
		t.Errorf("flaky snapshots = %v, want [v1 v1]", seen)
	}
	// The failed attempt leaked nothing into the merged state.
	if got := logOf(t, result.State); !reflect.DeepEqual(got, []string{"seed", "ok", "flaky"}) {
		t.Errorf("log = %v", got)
	}
}

func TestRetriesExhaustedFailThread(t *testing.T) {
	var runs atomic.Int32
	failing := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		runs.Add(1)
		return nil, errors.New("persistent")
	})

	b := NewBuilder(logReducers())
	b.AddNode("bad", failing, "log")
	b.SetEntry("bad")
	b.AddEdge("bad", End)

	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	eng, st := newTestEngine(t, g, WithRetryPolicy(&RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	}))

	result, err := eng.Run(context.Background(), "t1", State{})
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) {
		t.Fatalf("expected NodeError, got %v", err)
	}
	if nodeErr.Node != "bad" || nodeErr.Attempts != 2 {
		t.Errorf("NodeError = %+v", nodeErr)
	}
	if runs.Load() != 2 {
		t.Errorf("runs = %d, want 2", runs.Load())
	}
	if result.Status != store.StatusFailed {
		t.Errorf("status = %v, want failed", result.Status)
	}

	// The last good checkpoint is untouched, so the thread is resumable.
	latest, err := st.Latest(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Step != 0 || latest.Status != store.StatusRunning {
		t.Errorf("latest checkpoint = %+v, want step 0 running", latest)
	}
}

func TestNonRetryableErrorFailsFast(t *testing.T) {
	var runs atomic.Int32
	failing := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		runs.Add(1)
		return nil, errors.New("fatal")
	})

	b := NewBuilder(logReducers())
	b.AddNode("bad", failing, "log")
	b.SetEntry("bad")
	b.AddEdge("bad", End)
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	eng, _ := newTestEngine(t, g, WithRetryPolicy(&RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(error) bool { return false },
	}))

	if _, err := eng.Run(context.Background(), "t1", State{}); err == nil {
		t.Fatal("expected error")
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
}

// loopGraph builds: work -> (continue: bump | stop: end), bump loops back
// to work. bump advances the round counter by inc.
func loopGraph(t *testing.T, maxRounds, inc int) *Graph {
	t.Helper()

	work := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		return Delta{"log": []any{"work"}, FieldRound: max(state.Round(), 1)}, nil
	})
	bump := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		return Delta{FieldRound: state.Round() + inc}, nil
	})

	b := NewBuilder(logReducers())
	b.AddNode("work", work, "log", FieldRound)
	b.AddNode("bump", bump, FieldRound)
	b.SetEntry("work")
	b.AddConditional("work", func(s State) string {
		if s.Round() >= maxRounds {
			return "stop"
		}
		return "continue"
	}, map[string]string{"continue": "bump", "stop": End})
	b.AddLoopEdge("bump", "work")

	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return g
}

func TestLoopTerminatesAtRoundBound(t *testing.T) {
	eng, _ := newTestEngine(t, loopGraph(t, 3, 1))

	result, err := eng.Run(context.Background(), "t1", State{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != store.StatusCompleted {
		t.Errorf("status = %v", result.Status)
	}
	if got := logOf(t, result.State); len(got) != 3 {
		t.Errorf("work executions = %d, want 3 (log %v)", len(got), got)
	}
	if result.State.Round() != 3 {
		t.Errorf("round = %d, want 3", result.State.Round())
	}
}

func TestLoopWithoutRoundIncreaseFails(t *testing.T) {
	eng, _ := newTestEngine(t, loopGraph(t, 3, 0))

	result, err := eng.Run(context.Background(), "t1", State{})
	if !errors.Is(err, ErrLoopInvariant) {
		t.Fatalf("expected ErrLoopInvariant, got %v", err)
	}
	if result.Status != store.StatusFailed {
		t.Errorf("status = %v, want failed", result.Status)
	}
}

func TestMaxStepsBoundsRunawayExecution(t *testing.T) {
	// Rounds increase forever, so only MaxSteps stops this loop.
	eng, _ := newTestEngine(t, loopGraph(t, 1<<30, 1), WithMaxSteps(5))

	_, err := eng.Run(context.Background(), "t1", State{})
	if !errors.Is(err, ErrMaxSteps) {
		t.Fatalf("expected ErrMaxSteps, got %v", err)
	}
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	g := loopGraph(t, 3, 1)
	eng, st := newTestEngine(t, g)

	// Uninterrupted baseline on a separate thread.
	baseline, err := eng.Run(context.Background(), "baseline", State{})
	if err != nil {
		t.Fatalf("baseline run: %v", err)
	}

	eng.Suspend("t1")
	result, err := eng.Run(context.Background(), "t1", State{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != store.StatusSuspended {
		t.Fatalf("status = %v, want suspended", result.Status)
	}

	latest, err := st.Latest(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Status != store.StatusSuspended || len(latest.Pending) == 0 {
		t.Fatalf("suspended checkpoint = %+v", latest)
	}

	resumed, err := eng.Resume(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Status != store.StatusCompleted {
		t.Errorf("status after resume = %v", resumed.Status)
	}

	// Suspend plus resume must be observationally equivalent to an
	// uninterrupted run.
	if !reflect.DeepEqual(resumed.State, baseline.State) {
		t.Errorf("resumed state %v differs from baseline %v", resumed.State, baseline.State)
	}
}

func TestResumeCompletedThreadIsNoOp(t *testing.T) {
	var runs atomic.Int32
	counting := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		runs.Add(1)
		return Delta{"log": []any{"x"}}, nil
	})

	b := NewBuilder(logReducers())
	b.AddNode("only", counting, "log")
	b.SetEntry("only")
	b.AddEdge("only", End)
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	eng, _ := newTestEngine(t, g)
	if _, err := eng.Run(context.Background(), "t1", State{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	result, err := eng.Resume(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if result.Status != store.StatusCompleted {
		t.Errorf("status = %v", result.Status)
	}
	if runs.Load() != 1 {
		t.Errorf("node ran %d times, resume must not re-execute", runs.Load())
	}
}

func TestRunRejectsExistingThread(t *testing.T) {
	b := NewBuilder(logReducers())
	b.AddNode("only", appender("only", 0), "log")
	b.SetEntry("only")
	b.AddEdge("only", End)
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	eng, _ := newTestEngine(t, g)
	if _, err := eng.Run(context.Background(), "t1", State{}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	_, err = eng.Run(context.Background(), "t1", State{})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestUndeclaredWriteFailsWithoutRetry(t *testing.T) {
	var runs atomic.Int32
	rogue := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		runs.Add(1)
		return Delta{"sneaky": true}, nil
	})

	b := NewBuilder(logReducers())
	b.AddNode("rogue", rogue, "log")
	b.SetEntry("rogue")
	b.AddEdge("rogue", End)
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	eng, _ := newTestEngine(t, g, WithRetryPolicy(&RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond}))

	_, err = eng.Run(context.Background(), "t1", State{})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, configuration defects must not retry", runs.Load())
	}
}

func TestWaveThatCannotFullyStartRunsNothing(t *testing.T) {
	var runs atomic.Int32
	counting := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		runs.Add(1)
		return Delta{"log": []any{"real"}}, nil
	})

	b := NewBuilder(logReducers())
	b.AddNode("real", counting, "log")
	b.SetEntry("real")
	b.AddEdge("real", End)
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	eng, st := newTestEngine(t, g)

	// A corrupted lineage whose pending set names a node the graph does
	// not have. The registered node is listed first; it must not start,
	// or its goroutine would outlive the wave's failure report.
	cp := store.Checkpoint[State]{
		ThreadID: "t1",
		Step:     0,
		State:    State{},
		Pending:  []string{"real", "ghost"},
		Status:   store.StatusRunning,
	}
	if err := st.Append(context.Background(), cp); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	_, err = eng.Resume(context.Background(), "t1")
	var structErr *StructuralError
	if !errors.As(err, &structErr) {
		t.Fatalf("expected StructuralError, got %v", err)
	}
	if runs.Load() != 0 {
		t.Errorf("registered node ran %d times, want 0", runs.Load())
	}
}

func TestNodeTimeout(t *testing.T) {
	slow := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		select {
		case <-time.After(time.Second):
			return Delta{"log": []any{"slow"}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	b := NewBuilder(logReducers())
	b.AddNode("slow", slow, "log")
	b.SetEntry("slow")
	b.AddEdge("slow", End)
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	eng, _ := newTestEngine(t, g, WithNodeTimeout(20*time.Millisecond))

	_, err = eng.Run(context.Background(), "t1", State{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFailedThreadResumesFromLastGoodCheckpoint(t *testing.T) {
	var healed atomic.Bool
	flaky := NodeFunc(func(ctx context.Context, state State) (Delta, error) {
		if !healed.Load() {
			return nil, errors.New("still broken")
		}
		return Delta{"log": []any{"fixed"}}, nil
	})

	b := NewBuilder(logReducers())
	b.AddNode("seed", appender("seed", 0), "log")
	b.AddNode("flaky", flaky, "log")
	b.SetEntry("seed")
	b.AddEdge("seed", "flaky")
	b.AddEdge("flaky", End)
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	eng, _ := newTestEngine(t, g)
	if _, err := eng.Run(context.Background(), "t1", State{}); err == nil {
		t.Fatal("expected first run to fail")
	}

	healed.Store(true)
	result, err := eng.Resume(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if got := logOf(t, result.State); !reflect.DeepEqual(got, []string{"seed", "fixed"}) {
		t.Errorf("log = %v, want [seed fixed]", got)
	}
}

func TestEngineEmitsLifecycleEvents(t *testing.T) {
	b := NewBuilder(logReducers())
	b.AddNode("only", appender("only", 0), "log")
	b.SetEntry("only")
	b.AddEdge("only", End)
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	buf := emit.NewBufferedEmitter()
	st := store.NewMemStore[State]()
	eng, err := NewEngine(g, st, buf)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if _, err := eng.Run(context.Background(), "t1", State{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, msg := range []string{"run_start", "wave_start", "node_end", "merge", "checkpoint", "completed"} {
		if events := buf.HistoryWithFilter("t1", emit.HistoryFilter{Msg: msg}); len(events) == 0 {
			t.Errorf("no %q event emitted", msg)
		}
	}
}
