package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/questforge/graph/emit"
	"github.com/dshills/questforge/graph/store"
)

// ErrPaused is returned when a paused thread is continued without a Resume.
var ErrPaused = errors.New("thread is paused; resume it to continue")

// Reducer applies a partial update to the previous state. It must be
// deterministic: the same inputs always yield the same state.
type Reducer[S, U any] func(prev S, update U) S

// UpdateGuard validates a node's update before it is applied. Returning an
// error aborts the turn with UPDATE_REJECTED. Guards do not see resume
// patches.
type UpdateGuard[S, U any] func(nodeID string, prev S, update U) error

// Engine drives a workflow graph for many independent threads.
//
// Each turn runs one node at a time: route, run, reduce, persist, then route
// again. A checkpoint is written after every node before the next routing
// decision, so a crash never loses completed work. Nodes listed in
// WithInterruptAfter pause the turn once their checkpoint is persisted;
// Stream with a Resume picks up exactly at the skipped routing decision.
//
// Type parameters:
//   - S is the state type persisted in checkpoints
//   - U is the partial-update type nodes return
//
// Example:
//
//	engine, err := graph.New(reduce, store.NewMemStore[State](), router,
//	    graph.WithInterruptAfter("planner"))
//	engine.Add("planner", planner)
//	engine.Add("party", party)
//
//	out, err := engine.Run(ctx, "thread-1", &initial, nil)
//	if out.Paused() {
//	    out, err = engine.Run(ctx, "thread-1", nil, graph.Approve[Update]())
//	}
type Engine[S, U any] struct {
	mu       sync.RWMutex
	reducer  Reducer[S, U]
	guard    UpdateGuard[S, U]
	gate     func(nodeID string, state S) bool
	store    store.Store[S]
	router   Router[S]
	nodes    map[string]Node[S, U]
	policies map[string]*NodePolicy

	cfg   engineConfig
	locks *threadLocks
}

// New creates an Engine. reducer, st and router are required.
func New[S, U any](reducer Reducer[S, U], st store.Store[S], router Router[S], opts ...Option) (*Engine[S, U], error) {
	if reducer == nil {
		return nil, &EngineError{Message: "reducer is required", Code: CodeMissingReducer}
	}
	if st == nil {
		return nil, &EngineError{Message: "store is required", Code: CodeMissingStore}
	}
	if router == nil {
		return nil, &EngineError{Message: "router is required", Code: CodeMissingRouter}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("invalid engine option: %w", err)
		}
	}

	return &Engine[S, U]{
		reducer:  reducer,
		store:    st,
		router:   router,
		nodes:    make(map[string]Node[S, U]),
		policies: make(map[string]*NodePolicy),
		cfg:      cfg,
		locks:    newThreadLocks(),
	}, nil
}

// Add registers a node. IDs must be unique and must not collide with the
// StartNode and ResumeNode sentinels.
func (e *Engine[S, U]) Add(nodeID string, node Node[S, U]) error {
	return e.AddWithPolicy(nodeID, node, NodePolicy{})
}

// AddWithPolicy registers a node with its own timeout and retry policy.
func (e *Engine[S, U]) AddWithPolicy(nodeID string, node Node[S, U], policy NodePolicy) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if nodeID == StartNode || nodeID == ResumeNode {
		return &EngineError{Message: "node ID is reserved: " + nodeID}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil", NodeID: nodeID}
	}
	if policy.RetryPolicy != nil {
		if err := policy.RetryPolicy.Validate(); err != nil {
			return &EngineError{Message: "invalid retry policy", NodeID: nodeID, Cause: err}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: CodeDuplicateNode}
	}
	e.nodes[nodeID] = node
	p := policy
	e.policies[nodeID] = &p
	return nil
}

// Guard installs an update guard applied to every node update.
func (e *Engine[S, U]) Guard(guard UpdateGuard[S, U]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guard = guard
}

// InterruptWhen gates the interrupt points: a node listed in
// WithInterruptAfter pauses only when gate returns true for the state after
// its update. A step that loops through a sub-step uses this to pause only
// once the loop has produced its result.
func (e *Engine[S, U]) InterruptWhen(gate func(nodeID string, state S) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = gate
}

// Latest returns the most recent checkpoint of a thread.
func (e *Engine[S, U]) Latest(ctx context.Context, threadID string) (store.Checkpoint[S], error) {
	return e.store.Latest(ctx, threadID)
}

// History returns every checkpoint of a thread in execution order.
func (e *Engine[S, U]) History(ctx context.Context, threadID string) ([]store.Checkpoint[S], error) {
	return e.store.List(ctx, threadID)
}

// turn is the prepared starting point of a turn.
type turn[S any] struct {
	threadID string
	state    S
	seq      int
	last     string
}

// Stream starts a turn and returns its event stream.
//
// The combination of initial and resume selects the entry:
//   - initial only: seed a new thread (or restart an existing one) with a
//     StartNode checkpoint and route from StartNode
//   - resume only: continue a paused thread; ErrNotPaused otherwise
//   - neither: continue an unpaused thread from its latest checkpoint, for
//     recovery after a crash; ErrPaused if the thread is paused
//
// Validation happens before Stream returns: ErrThreadBusy, ErrNotPaused,
// ErrPaused and store.ErrNotFound come back as errors rather than events.
// Everything after that, including orchestration faults, is reported on the
// channel, which is closed after the terminal event. The caller must drain
// the channel or cancel ctx.
func (e *Engine[S, U]) Stream(ctx context.Context, threadID string, initial *S, resume *Resume[U]) (<-chan Event[S, U], error) {
	if threadID == "" {
		return nil, errors.New("thread ID cannot be empty")
	}
	if initial != nil && resume != nil {
		return nil, errors.New("initial state and resume are mutually exclusive")
	}

	release, ok := e.locks.tryAcquire(threadID)
	if !ok {
		return nil, ErrThreadBusy
	}

	t, err := e.prepare(ctx, threadID, initial, resume)
	if err != nil {
		release()
		return nil, err
	}

	events := make(chan Event[S, U], e.cfg.eventBuffer)
	go func() {
		// Release before close so a consumer that saw the stream end can
		// start the next turn immediately.
		defer close(events)
		defer release()
		e.loop(ctx, t, events)
	}()
	return events, nil
}

// Run drives a turn to its terminal event and returns the outcome. An error
// event is returned as its Err.
func (e *Engine[S, U]) Run(ctx context.Context, threadID string, initial *S, resume *Resume[U]) (Outcome[S], error) {
	events, err := e.Stream(ctx, threadID, initial, resume)
	if err != nil {
		return Outcome[S]{}, err
	}

	var out Outcome[S]
	for ev := range events {
		switch ev.Kind {
		case EventStepCompleted:
			out.Steps++
			out.CheckpointID = ev.CheckpointID
		case EventPaused, EventCompleted:
			out.Kind = ev.Kind
			out.State = ev.State
			if ev.CheckpointID != "" {
				out.CheckpointID = ev.CheckpointID
			}
		case EventError:
			out.Kind = ev.Kind
			err = ev.Err
		}
	}
	if out.Kind == "" && err == nil {
		err = &EngineError{Message: "turn ended without a terminal event", Code: CodeCanceled, Cause: ctx.Err()}
	}
	return out, err
}

// UpdateState appends a checkpoint that applies u to the latest state as if
// node asNode had produced it. An empty asNode keeps the latest checkpoint's
// node, so the next turn routes as if the edit never happened. The paused
// flag of the latest checkpoint is carried over, so out-of-band edits never
// resume a thread.
func (e *Engine[S, U]) UpdateState(ctx context.Context, threadID, asNode string, u U) (store.Checkpoint[S], error) {
	release, ok := e.locks.tryAcquire(threadID)
	if !ok {
		return store.Checkpoint[S]{}, ErrThreadBusy
	}
	defer release()

	latest, err := e.store.Latest(ctx, threadID)
	if err != nil {
		return store.Checkpoint[S]{}, err
	}
	if asNode == "" {
		asNode = latest.NodeID
	}

	cp := store.Checkpoint[S]{
		ThreadID:    threadID,
		ID:          store.NewCheckpointID(),
		Seq:         latest.Seq + 1,
		NodeID:      asNode,
		State:       e.reducer(latest.State, u),
		Interrupted: latest.Interrupted,
	}
	if err := e.store.Append(ctx, cp); err != nil {
		return store.Checkpoint[S]{}, storeError("failed to save state update", err)
	}
	return cp, nil
}

// DeleteThread removes a thread and all its checkpoints. It fails with
// ErrThreadBusy while a turn is running.
func (e *Engine[S, U]) DeleteThread(ctx context.Context, threadID string) error {
	release, ok := e.locks.tryAcquire(threadID)
	if !ok {
		return ErrThreadBusy
	}
	defer release()

	if err := e.store.DeleteThread(ctx, threadID); err != nil {
		return storeError("failed to delete thread", err)
	}
	if e.cfg.costTracker != nil {
		e.cfg.costTracker.Forget(threadID)
	}
	return nil
}

func (e *Engine[S, U]) prepare(ctx context.Context, threadID string, initial *S, resume *Resume[U]) (*turn[S], error) {
	latest, err := e.store.Latest(ctx, threadID)
	found := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, storeError("failed to load latest checkpoint", err)
	}

	switch {
	case initial != nil:
		t := &turn[S]{threadID: threadID, state: *initial, last: StartNode}
		if found {
			t.seq = latest.Seq
		}
		if _, err := e.appendCheckpoint(ctx, t, StartNode, false); err != nil {
			return nil, err
		}
		return t, nil

	case resume != nil:
		if !found || !latest.Interrupted {
			return nil, ErrNotPaused
		}
		t := &turn[S]{threadID: threadID, state: latest.State, seq: latest.Seq, last: latest.NodeID}
		if resume.Patch == nil {
			e.cfg.metrics.IncrementResumes("approve")
			return t, nil
		}
		t.state = e.reducer(t.state, *resume.Patch)
		if _, err := e.appendCheckpoint(ctx, t, ResumeNode, false); err != nil {
			return nil, err
		}
		e.cfg.metrics.IncrementResumes("patch")
		return t, nil

	default:
		if !found {
			return nil, fmt.Errorf("thread %s: %w", threadID, store.ErrNotFound)
		}
		if latest.Interrupted {
			return nil, ErrPaused
		}
		last, err := e.routeOrigin(ctx, latest)
		if err != nil {
			return nil, err
		}
		return &turn[S]{threadID: threadID, state: latest.State, seq: latest.Seq, last: last}, nil
	}
}

// routeOrigin returns the node whose routing decision a turn starting at
// latest re-enters. A patch checkpoint stands in for the node it resumed
// from, so a patched turn that stopped before its first step routes exactly
// as the resume would have.
func (e *Engine[S, U]) routeOrigin(ctx context.Context, latest store.Checkpoint[S]) (string, error) {
	if latest.NodeID != ResumeNode {
		return latest.NodeID, nil
	}
	history, err := e.store.List(ctx, latest.ThreadID)
	if err != nil {
		return "", storeError("failed to load checkpoint history", err)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].NodeID != ResumeNode {
			return history[i].NodeID, nil
		}
	}
	return StartNode, nil
}

// appendCheckpoint persists t.state as the next checkpoint of the thread and
// advances t.seq.
func (e *Engine[S, U]) appendCheckpoint(ctx context.Context, t *turn[S], nodeID string, interrupted bool) (string, error) {
	cp := store.Checkpoint[S]{
		ThreadID:    t.threadID,
		ID:          store.NewCheckpointID(),
		Seq:         t.seq + 1,
		NodeID:      nodeID,
		State:       t.state,
		Interrupted: interrupted,
	}
	if err := e.store.Append(ctx, cp); err != nil {
		return "", storeError("failed to save checkpoint", err)
	}
	t.seq = cp.Seq
	return cp.ID, nil
}

func (e *Engine[S, U]) loop(ctx context.Context, t *turn[S], events chan<- Event[S, U]) {
	e.cfg.metrics.turnStarted()
	defer e.cfg.metrics.turnFinished()

	send := func(ev Event[S, U]) bool {
		ev.ThreadID = t.threadID
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(nodeID string, err error) {
		e.cfg.metrics.IncrementTurns("error")
		e.cfg.emitter.Emit(emit.Event{
			ThreadID: t.threadID,
			Step:     t.seq,
			NodeID:   nodeID,
			Msg:      "turn failed",
			Meta:     map[string]interface{}{"error": err.Error()},
		})
		send(Event[S, U]{Kind: EventError, Step: t.seq, NodeID: nodeID, Err: err})
	}

	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			fail(t.last, &EngineError{Message: "turn canceled", Code: CodeCanceled, Cause: err})
			return
		}

		next, err := e.router.Route(e.callContext(ctx, t.threadID, t.last), t.state, t.last)
		if err != nil {
			fail(t.last, &EngineError{Message: "routing failed after " + t.last, Code: CodeRouteError, Cause: err})
			return
		}
		if next.Terminal {
			e.cfg.metrics.IncrementTurns("completed")
			e.cfg.emitter.Emit(emit.Event{ThreadID: t.threadID, Step: t.seq, NodeID: t.last, Msg: "turn completed"})
			send(Event[S, U]{Kind: EventCompleted, Step: t.seq, NodeID: t.last, State: t.state})
			return
		}
		if steps >= e.cfg.maxSteps {
			fail(t.last, &EngineError{
				Message: fmt.Sprintf("turn exceeded %d steps", e.cfg.maxSteps),
				Code:    CodeMaxSteps,
				Cause:   ErrMaxStepsExceeded,
			})
			return
		}

		nodeID := next.To
		e.mu.RLock()
		node, exists := e.nodes[nodeID]
		guard, gate := e.guard, e.gate
		e.mu.RUnlock()
		if !exists {
			fail(nodeID, &EngineError{Message: "router chose unknown node", Code: CodeNodeNotFound, NodeID: nodeID})
			return
		}

		if !send(Event[S, U]{Kind: EventStepStarted, Step: t.seq + 1, NodeID: nodeID}) {
			fail(nodeID, &EngineError{Message: "turn canceled", Code: CodeCanceled, Cause: ctx.Err()})
			return
		}

		start := time.Now()
		update, err := e.execute(ctx, t.threadID, nodeID, node, t.state)
		if err != nil {
			fail(nodeID, err)
			return
		}
		if guard != nil {
			if err := guard(nodeID, t.state, update); err != nil {
				fail(nodeID, &EngineError{Message: "update rejected", Code: CodeUpdateRejected, NodeID: nodeID, Cause: err})
				return
			}
		}

		prev := t.state
		t.state = e.reducer(t.state, update)
		interrupted := e.cfg.interruptAfter[nodeID] && (gate == nil || gate(nodeID, t.state))
		cpID, err := e.appendCheckpoint(ctx, t, nodeID, interrupted)
		if err != nil {
			t.state = prev
			fail(nodeID, err)
			return
		}
		t.last = nodeID
		e.cfg.metrics.IncrementSteps(nodeID)
		e.cfg.emitter.Emit(emit.Event{
			ThreadID: t.threadID,
			Step:     t.seq,
			NodeID:   nodeID,
			Msg:      "node completed",
			Meta: map[string]interface{}{
				"checkpoint_id": cpID,
				"latency_ms":    time.Since(start).Milliseconds(),
				"interrupted":   interrupted,
			},
		})

		if !send(Event[S, U]{Kind: EventStepCompleted, Step: t.seq, NodeID: nodeID, CheckpointID: cpID, Update: update}) {
			return
		}

		if interrupted {
			e.cfg.metrics.IncrementTurns("paused")
			e.cfg.emitter.Emit(emit.Event{ThreadID: t.threadID, Step: t.seq, NodeID: nodeID, Msg: "turn paused"})
			send(Event[S, U]{Kind: EventPaused, Step: t.seq, NodeID: nodeID, CheckpointID: cpID, State: t.state})
			return
		}
	}
}

// callContext scopes ctx to a thread and node so model calls made by nodes
// and routers are attributed to the right cost bucket.
func (e *Engine[S, U]) callContext(ctx context.Context, threadID, nodeID string) context.Context {
	ctx = withNodeID(WithThreadID(ctx, threadID), nodeID)
	if e.cfg.costTracker != nil {
		ctx = ContextWithCostTracker(ctx, e.cfg.costTracker)
	}
	return ctx
}

// execute runs a node on a private copy of state, honoring its timeout and
// retry policy.
func (e *Engine[S, U]) execute(ctx context.Context, threadID, nodeID string, node Node[S, U], state S) (U, error) {
	var zero U

	e.mu.RLock()
	policy := e.policies[nodeID]
	e.mu.RUnlock()
	var retry *RetryPolicy
	if policy != nil {
		retry = policy.RetryPolicy
	}

	nodeCtx := e.callContext(ctx, threadID, nodeID)

	for attempt := 0; ; attempt++ {
		input, err := deepCopy(state)
		if err != nil {
			return zero, &EngineError{Message: "failed to copy state", Code: CodeNodeFailed, NodeID: nodeID, Cause: err}
		}

		start := time.Now()
		result, err := runNodeWithTimeout(nodeCtx, node, nodeID, input, policy, e.cfg.defaultNodeTimeout)
		status := "success"
		switch {
		case err != nil:
			status = "timeout"
		case result.Err != nil:
			status = "error"
			err = result.Err
		}
		e.cfg.metrics.RecordStepLatency(nodeID, time.Since(start), status)

		if err == nil {
			return result.Update, nil
		}
		if !retry.shouldRetry(attempt, err) {
			var engineErr *EngineError
			if errors.As(err, &engineErr) {
				return zero, err
			}
			return zero, &EngineError{Message: "node failed", Code: CodeNodeFailed, NodeID: nodeID, Cause: err}
		}

		e.cfg.metrics.IncrementRetries(nodeID, status)
		timer := time.NewTimer(computeBackoff(attempt, retry.BaseDelay, retry.MaxDelay, nil))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, &EngineError{Message: "turn canceled during retry", Code: CodeCanceled, NodeID: nodeID, Cause: ctx.Err()}
		}
	}
}

func storeError(msg string, err error) error {
	if errors.Is(err, store.ErrConflict) {
		return &EngineError{Message: msg, Code: CodeConflict, Cause: err}
	}
	return &EngineError{Message: msg, Code: CodeStoreError, Cause: err}
}
