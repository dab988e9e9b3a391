package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mhollis/flowstate/graph/emit"
	"github.com/mhollis/flowstate/graph/store"
)

// Engine executes a compiled Graph over per-thread session state.
//
// One Engine serves any number of threads concurrently; within a thread,
// execution is strictly sequential waves. Each wave dispatches the ready
// nodes against private snapshots, waits for all of them (the fan-in
// barrier), merges their deltas through the reducer registry in a fixed
// order, writes a checkpoint, and routes to the next wave.
//
// Determinism: given the same graph, initial state, and node outputs, a
// thread produces the same sequence of merged states and checkpoints
// regardless of how node execution interleaves in time.
type Engine struct {
	graph   *Graph
	store   store.Store[State]
	emitter emit.Emitter
	opts    Options

	mu        sync.Mutex
	suspended map[string]bool
}

// Result reports where a thread stopped.
type Result struct {
	// ThreadID identifies the thread.
	ThreadID string

	// Status is the thread's lifecycle state: running threads never
	// surface here, so this is suspended, completed, or failed.
	Status store.Status

	// State is the session state at the last checkpoint.
	State State

	// Step is the last completed execution step.
	Step int
}

// NewEngine creates an Engine for a compiled graph. The store is required;
// a nil emitter defaults to discarding events.
func NewEngine(g *Graph, st store.Store[State], emitter emit.Emitter, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, &ConfigurationError{Reason: "graph is required"}
	}
	if st == nil {
		return nil, &ConfigurationError{Reason: "store is required"}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	var options Options
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, err
		}
	}
	if options.MaxSteps <= 0 {
		options.MaxSteps = DefaultMaxSteps
	}

	return &Engine{
		graph:     g,
		store:     st,
		emitter:   emitter,
		opts:      options,
		suspended: make(map[string]bool),
	}, nil
}

// Run starts a new thread from the graph's entry node. The thread ID must
// be unused; starting over an existing lineage is refused so history is
// never forked accidentally.
//
// Run blocks until the thread completes, fails, or suspends. The initial
// state is deep-copied, so the caller's map is never touched.
func (e *Engine) Run(ctx context.Context, threadID string, initial State) (*Result, error) {
	if threadID == "" {
		return nil, &ConfigurationError{Reason: "thread ID is required"}
	}

	if _, err := e.store.Latest(ctx, threadID); err == nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("thread %q already exists; use Resume", threadID)}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking thread %q: %w", threadID, err)
	}

	state, err := initial.Clone()
	if err != nil {
		return nil, err
	}

	// Step 0 records the initial state with the entry node pending, so a
	// crash before the first wave still leaves a resumable lineage.
	pending := []string{e.graph.Entry()}
	if err := e.appendCheckpoint(ctx, threadID, 0, state, pending, store.StatusRunning); err != nil {
		return nil, err
	}

	e.emitter.Emit(emit.Event{ThreadID: threadID, Msg: "run_start"})

	return e.execute(ctx, threadID, state, pending, 0)
}

// Resume continues a thread from its latest checkpoint. A terminal thread
// returns its final result without executing anything. A thread whose last
// attempt failed mid-wave resumes from the last good checkpoint, re-running
// the wave that never committed.
func (e *Engine) Resume(ctx context.Context, threadID string) (*Result, error) {
	cp, err := e.store.Latest(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("loading thread %q: %w", threadID, err)
	}

	if cp.Status.Terminal() {
		return &Result{ThreadID: threadID, Status: cp.Status, State: cp.State, Step: cp.Step}, nil
	}

	state, err := cp.State.Clone()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	delete(e.suspended, threadID)
	e.mu.Unlock()

	e.emitter.Emit(emit.Event{ThreadID: threadID, Step: cp.Step, Msg: "resumed", Meta: map[string]any{"pending": cp.Pending}})

	return e.execute(ctx, threadID, state, cp.Pending, cp.Step)
}

// Suspend requests that a thread stop at its next wave boundary. The
// request takes effect after the in-flight wave merges and checkpoints, so
// no work is lost and no partial merge is ever visible. Suspending an idle
// thread is a no-op that affects its next Resume not at all.
func (e *Engine) Suspend(threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suspended[threadID] = true
}

// execute runs waves until a terminal edge, a failure, or a suspension.
// step is the last completed step; pending is the ready set to dispatch.
func (e *Engine) execute(ctx context.Context, threadID string, state State, pending []string, step int) (*Result, error) {
	wave := pending

	for len(wave) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step++
		if step > e.opts.MaxSteps {
			return e.fail(threadID, step, state, ErrMaxSteps)
		}

		started := time.Now()
		e.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, Nodes: wave, Msg: "wave_start"})

		deltas, err := e.runWave(ctx, threadID, step, wave, state)
		if err != nil {
			e.opts.Metrics.observeWave(threadID, time.Since(started), "error")
			return e.fail(threadID, step, state, err)
		}

		roundBefore := state.Round()

		if err := merge(state, e.graph.reducers, deltas); err != nil {
			e.opts.Metrics.observeWave(threadID, time.Since(started), "error")
			return e.fail(threadID, step, state, err)
		}
		e.opts.Metrics.incMerges()
		e.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, Nodes: wave, Msg: "merge", Meta: map[string]any{"round": state.Round()}})

		next, terminal, err := e.graph.successors(wave, state)
		if err != nil {
			e.opts.Metrics.observeWave(threadID, time.Since(started), "error")
			return e.fail(threadID, step, state, err)
		}

		for _, succ := range next {
			if succ.loopBack && state.Round() <= roundBefore {
				e.opts.Metrics.observeWave(threadID, time.Since(started), "error")
				return e.fail(threadID, step, state,
					fmt.Errorf("loop-back to %q at step %d: %w", succ.name, step, ErrLoopInvariant))
			}
		}

		nextNames := make([]string, len(next))
		for i, succ := range next {
			nextNames[i] = succ.name
		}

		status := store.StatusRunning
		if terminal {
			status = store.StatusCompleted
		}

		suspendRequested := false
		if !terminal {
			e.mu.Lock()
			if e.suspended[threadID] {
				suspendRequested = true
				delete(e.suspended, threadID)
			}
			e.mu.Unlock()
		}
		if suspendRequested {
			status = store.StatusSuspended
		}

		if err := e.appendCheckpoint(ctx, threadID, step, state, nextNames, status); err != nil {
			return nil, err
		}
		e.opts.Metrics.observeWave(threadID, time.Since(started), "success")

		if terminal {
			e.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, Msg: "completed"})
			return &Result{ThreadID: threadID, Status: store.StatusCompleted, State: state, Step: step}, nil
		}
		if suspendRequested {
			e.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, Msg: "suspended", Meta: map[string]any{"pending": nextNames}})
			return &Result{ThreadID: threadID, Status: store.StatusSuspended, State: state, Step: step}, nil
		}

		wave = nextNames
	}

	// A non-terminal checkpoint always carries a pending set, so an empty
	// wave here means the lineage was corrupted outside the engine.
	return nil, &ConfigurationError{Reason: fmt.Sprintf("thread %q has no pending nodes and no terminal status", threadID)}
}

// runWave executes one wave, retrying the whole wave on failure per the
// retry policy. Every attempt dispatches all nodes against fresh clones of
// the same pre-wave snapshot, so a retried wave observes exactly what the
// failed attempt observed.
func (e *Engine) runWave(ctx context.Context, threadID string, step int, wave []string, snapshot State) ([]Delta, error) {
	attempts := 1
	if e.opts.Retry != nil {
		attempts = e.opts.Retry.MaxAttempts
	}

	var lastErr error
	used := 0
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			e.opts.Metrics.incRetries(threadID)
			e.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, Nodes: wave, Msg: "wave_retry",
				Meta: map[string]any{"attempt": attempt + 1, "error": lastErr.Error()}})

			delay := computeBackoff(attempt-1, e.opts.Retry.BaseDelay, e.opts.Retry.MaxDelay)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		deltas, err := e.dispatch(ctx, threadID, step, wave, snapshot)
		if err == nil {
			return deltas, nil
		}
		lastErr = err
		used = attempt + 1

		// Defects in configuration or graph shape never heal on retry.
		var cfgErr *ConfigurationError
		var structErr *StructuralError
		if errors.As(err, &cfgErr) || errors.As(err, &structErr) {
			break
		}
		if e.opts.Retry == nil || !e.opts.Retry.retryable(err) {
			break
		}
	}

	var nodeErr *NodeError
	if errors.As(lastErr, &nodeErr) {
		nodeErr.Attempts = used
		return nil, nodeErr
	}
	return nil, &NodeError{Step: step, Attempts: used, Err: lastErr}
}

// dispatch runs every node of the wave concurrently against its own deep
// copy of the snapshot and collects deltas in wave order. The first error
// in wave order wins, so failure reporting is deterministic even when
// several nodes fail in the same attempt.
func (e *Engine) dispatch(ctx context.Context, threadID string, step int, wave []string, snapshot State) ([]Delta, error) {
	type outcome struct {
		delta Delta
		err   error
	}

	// Resolve nodes and clone snapshots before launching anything, so an
	// error here never strands half a wave of running goroutines.
	nodes := make([]Node, len(wave))
	privates := make([]State, len(wave))
	for i, name := range wave {
		node, ok := e.graph.node(name)
		if !ok {
			return nil, &StructuralError{Subject: name, Reason: "pending node not registered"}
		}
		nodes[i] = node

		private, err := snapshot.Clone()
		if err != nil {
			return nil, err
		}
		privates[i] = private
	}

	outcomes := make([]outcome, len(wave))
	e.opts.Metrics.addInflight(len(wave))
	defer e.opts.Metrics.addInflight(-len(wave))

	var wg sync.WaitGroup
	for i, name := range wave {
		wg.Add(1)
		go func(i int, name string, node Node, private State) {
			defer wg.Done()

			nodeStart := time.Now()
			delta, err := runWithTimeout(ctx, node, name, private, e.opts.NodeTimeout)
			outcomes[i] = outcome{delta: delta, err: err}

			meta := map[string]any{"duration_ms": time.Since(nodeStart).Milliseconds()}
			msg := "node_end"
			if err != nil {
				msg = "node_error"
				meta["error"] = err.Error()
			}
			e.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, Nodes: []string{name}, Msg: msg, Meta: meta})
		}(i, name, nodes[i], privates[i])
	}
	wg.Wait()

	deltas := make([]Delta, 0, len(wave))
	for i, name := range wave {
		if outcomes[i].err != nil {
			return nil, &NodeError{Node: name, Step: step, Err: outcomes[i].err}
		}

		delta := outcomes[i].delta
		for field := range delta {
			if !e.graph.allowedWrites(name, field) {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("node %q wrote undeclared field %q", name, field)}
			}
		}
		if delta != nil {
			deltas = append(deltas, delta)
		}
	}
	return deltas, nil
}

// fail emits the failure and surfaces it. No checkpoint is written: the
// last good checkpoint stays authoritative, so Resume retries the wave
// that never committed.
func (e *Engine) fail(threadID string, step int, state State, err error) (*Result, error) {
	e.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, Msg: "failed", Meta: map[string]any{"error": err.Error()}})
	return &Result{ThreadID: threadID, Status: store.StatusFailed, State: state, Step: step}, err
}

func (e *Engine) appendCheckpoint(ctx context.Context, threadID string, step int, state State, pending []string, status store.Status) error {
	snapshot, err := state.Clone()
	if err != nil {
		return err
	}

	cp := store.Checkpoint[State]{
		ThreadID:  threadID,
		Step:      step,
		State:     snapshot,
		Pending:   pending,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Append(ctx, cp); err != nil {
		return fmt.Errorf("writing checkpoint for thread %q step %d: %w", threadID, step, err)
	}

	e.opts.Metrics.incCheckpointWrites()
	e.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, Msg: "checkpoint",
		Meta: map[string]any{"pending": pending, "status": string(status)}})
	return nil
}
