package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/questforge/graph/emit"
	"github.com/dshills/questforge/graph/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type testState struct {
	Plan  *string  `json:"plan"`
	Party []string `json:"party"`
	Done  bool     `json:"done"`
	Runs  int      `json:"runs"`
}

type testUpdate struct {
	Plan      *string
	ClearPlan bool
	Party     []string
	Done      *bool
	Runs      int
}

func reduceTest(prev testState, u testUpdate) testState {
	if u.Plan != nil {
		prev.Plan = u.Plan
	}
	if u.ClearPlan {
		prev.Plan = nil
	}
	if u.Party != nil {
		prev.Party = u.Party
	}
	if u.Done != nil {
		prev.Done = *u.Done
	}
	prev.Runs += u.Runs
	return prev
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// pipelineRouter: no plan -> plan, plan -> party, party -> finish, finish -> stop.
func pipelineRouter() Router[testState] {
	return RouterFunc[testState](func(_ context.Context, s testState, last string) (Next, error) {
		if s.Plan == nil {
			return Goto("plan"), nil
		}
		switch last {
		case "plan":
			return Goto("party"), nil
		case "party":
			return Goto("finish"), nil
		default:
			return Stop(), nil
		}
	})
}

type counters struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counters) inc(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[id]++
}

func (c *counters) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func newPipeline(t *testing.T, st store.Store[testState], opts ...Option) (*Engine[testState, testUpdate], *counters) {
	t.Helper()
	engine, err := New[testState, testUpdate](reduceTest, st, pipelineRouter(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := &counters{calls: map[string]int{}}
	add := func(id string, fn func(testState) testUpdate) {
		err := engine.Add(id, NodeFunc[testState, testUpdate](func(_ context.Context, s testState) NodeResult[testUpdate] {
			c.inc(id)
			return NodeResult[testUpdate]{Update: fn(s)}
		}))
		if err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	add("plan", func(testState) testUpdate { return testUpdate{Plan: strPtr("raid the crypt"), Runs: 1} })
	add("party", func(testState) testUpdate { return testUpdate{Party: []string{"Ava", "Bo"}, Runs: 1} })
	add("finish", func(testState) testUpdate { return testUpdate{Done: boolPtr(true), Runs: 1} })
	return engine, c
}

func collect[S, U any](t *testing.T, events <-chan Event[S, U]) []Event[S, U] {
	t.Helper()
	var out []Event[S, U]
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

func kinds[S, U any](events []Event[S, U]) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Kind) + ":" + ev.NodeID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestEngineStreamOrdering verifies the event sequence of an uninterrupted turn.
func TestEngineStreamOrdering(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	engine, _ := newPipeline(t, st)

	events, err := engine.Stream(ctx, "t1", &testState{}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := kinds(collect(t, events))
	want := []string{
		"step-started:plan", "step-completed:plan",
		"step-started:party", "step-completed:party",
		"step-started:finish", "step-completed:finish",
		"completed:finish",
	}
	if !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	cps, err := st.List(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	nodes := make([]string, len(cps))
	for i, cp := range cps {
		nodes[i] = cp.NodeID
		if i > 0 && cp.ID <= cps[i-1].ID {
			t.Errorf("checkpoint ids not increasing at %d", i)
		}
	}
	if !equalStrings(nodes, []string{StartNode, "plan", "party", "finish"}) {
		t.Fatalf("checkpoint nodes = %v", nodes)
	}
	if !cps[3].State.Done || cps[3].State.Runs != 3 {
		t.Fatalf("final state = %+v", cps[3].State)
	}
}

// TestEngineInterruptAndApprove verifies a paused thread continues after the
// interrupt point with its state intact.
func TestEngineInterruptAndApprove(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	engine, calls := newPipeline(t, st, WithInterruptAfter("plan"))

	out, err := engine.Run(ctx, "t1", &testState{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Paused() {
		t.Fatalf("expected paused, got %s", out.Kind)
	}
	if out.State.Plan == nil || *out.State.Plan != "raid the crypt" {
		t.Fatalf("paused state lost plan: %+v", out.State)
	}

	latest, err := engine.Latest(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !latest.Interrupted || latest.NodeID != "plan" {
		t.Fatalf("latest = %+v, want interrupted at plan", latest)
	}

	if _, err := engine.Run(ctx, "t1", nil, nil); !errors.Is(err, ErrPaused) {
		t.Fatalf("continue without resume: err = %v, want ErrPaused", err)
	}

	events, err := engine.Stream(ctx, "t1", nil, Approve[testUpdate]())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	got := collect(t, events)
	if got[0].Kind != EventStepStarted || got[0].NodeID != "party" {
		t.Fatalf("first resumed step = %v, want party", kinds(got))
	}
	final := got[len(got)-1]
	if final.Kind != EventCompleted || !final.State.Done {
		t.Fatalf("final event = %+v", final)
	}
	if calls.get("plan") != 1 {
		t.Fatalf("plan ran %d times, want 1", calls.get("plan"))
	}

	if _, err := engine.Stream(ctx, "t1", nil, Approve[testUpdate]()); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("second approve: err = %v, want ErrNotPaused", err)
	}
}

// TestEngineInterruptWhen verifies a gated interrupt point only pauses when
// the gate accepts the state.
func TestEngineInterruptWhen(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	engine, _ := newPipeline(t, st, WithInterruptAfter("plan", "party"))
	engine.InterruptWhen(func(nodeID string, s testState) bool {
		return nodeID != "plan" || len(s.Party) > 0
	})

	out, err := engine.Run(ctx, "t1", &testState{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Paused() || len(out.State.Party) != 2 {
		t.Fatalf("expected pause after party, got %s with %+v", out.Kind, out.State)
	}
	latest, _ := engine.Latest(ctx, "t1")
	if latest.NodeID != "party" {
		t.Fatalf("paused at %s, want party", latest.NodeID)
	}
}

// TestEnginePatchRegenerates verifies a patch that clears the plan sends the
// next turn back to the planning node.
func TestEnginePatchRegenerates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	engine, calls := newPipeline(t, st, WithInterruptAfter("party"))

	if _, err := engine.Run(ctx, "t1", &testState{}, nil); err != nil {
		t.Fatal(err)
	}

	events, err := engine.Stream(ctx, "t1", nil, Patch(testUpdate{ClearPlan: true}))
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)
	if got[0].NodeID != "plan" {
		t.Fatalf("first step after patch = %s, want plan", got[0].NodeID)
	}
	if calls.get("plan") != 2 {
		t.Fatalf("plan ran %d times, want 2", calls.get("plan"))
	}
	if got[len(got)-1].Kind != EventPaused {
		t.Fatalf("expected the turn to pause at party again, got %v", kinds(got))
	}

	cps, _ := st.List(ctx, "t1")
	var resumeCP *store.Checkpoint[testState]
	for i := range cps {
		if cps[i].NodeID == ResumeNode {
			resumeCP = &cps[i]
		}
	}
	if resumeCP == nil || resumeCP.State.Plan != nil {
		t.Fatalf("patch checkpoint missing or plan not cleared: %+v", resumeCP)
	}
}

// TestEnginePatchThenCancelContinues verifies a patched turn that is
// canceled before its first step continues from the node it resumed, not
// from the patch checkpoint.
func TestEnginePatchThenCancelContinues(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	engine, calls := newPipeline(t, st, WithInterruptAfter("plan"))
	if _, err := engine.Run(ctx, "t1", &testState{}, nil); err != nil {
		t.Fatal(err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	events, err := engine.Stream(canceled, "t1", nil, Patch(testUpdate{Runs: 5}))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	collect(t, events)

	latest, err := st.Latest(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.NodeID != ResumeNode || latest.Interrupted {
		t.Fatalf("latest = %s interrupted=%v, want unpaused patch checkpoint", latest.NodeID, latest.Interrupted)
	}

	out, err := engine.Run(ctx, "t1", nil, nil)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if out.Kind != EventCompleted || out.Steps != 2 {
		t.Fatalf("outcome = %+v, want party and finish to run", out)
	}
	if calls.get("party") != 1 || calls.get("finish") != 1 || calls.get("plan") != 1 {
		t.Fatalf("calls = %v", calls.calls)
	}
	if !out.State.Done || out.State.Runs != 8 {
		t.Fatalf("state = %+v", out.State)
	}
}

// TestEngineConcurrentResume verifies two simultaneous approvals advance the
// thread exactly once.
func TestEngineConcurrentResume(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()

	engine, err := New[testState, testUpdate](reduceTest, st, pipelineRouter(), WithInterruptAfter("plan", "party"))
	if err != nil {
		t.Fatal(err)
	}
	release := make(chan struct{})
	var partyRuns int32
	_ = engine.Add("plan", NodeFunc[testState, testUpdate](func(context.Context, testState) NodeResult[testUpdate] {
		return NodeResult[testUpdate]{Update: testUpdate{Plan: strPtr("p")}}
	}))
	_ = engine.Add("party", NodeFunc[testState, testUpdate](func(context.Context, testState) NodeResult[testUpdate] {
		atomic.AddInt32(&partyRuns, 1)
		<-release
		return NodeResult[testUpdate]{Update: testUpdate{Party: []string{"Ava"}}}
	}))
	_ = engine.Add("finish", NodeFunc[testState, testUpdate](func(context.Context, testState) NodeResult[testUpdate] {
		return NodeResult[testUpdate]{}
	}))

	if _, err := engine.Run(ctx, "t1", &testState{}, nil); err != nil {
		t.Fatal(err)
	}
	before, _ := st.List(ctx, "t1")

	var wg sync.WaitGroup
	results := make([]error, 2)
	streams := make([]<-chan Event[testState, testUpdate], 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			streams[i], results[i] = engine.Stream(ctx, "t1", nil, Approve[testUpdate]())
		}(i)
	}
	wg.Wait()
	close(release)

	wins := 0
	for i, err := range results {
		switch {
		case err == nil:
			wins++
			collect(t, streams[i])
		case errors.Is(err, ErrThreadBusy), errors.Is(err, ErrNotPaused):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d resumes advanced the thread, want 1", wins)
	}
	if n := atomic.LoadInt32(&partyRuns); n != 1 {
		t.Fatalf("party ran %d times, want 1", n)
	}
	after, _ := st.List(ctx, "t1")
	if len(after) != len(before)+1 {
		t.Fatalf("checkpoints grew by %d, want 1", len(after)-len(before))
	}
}

// TestEngineMaxSteps verifies a looping graph is cut off with every step kept.
func TestEngineMaxSteps(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	loop := RouterFunc[testState](func(context.Context, testState, string) (Next, error) {
		return Goto("spin"), nil
	})
	engine, err := New[testState, testUpdate](reduceTest, st, loop, WithMaxSteps(3))
	if err != nil {
		t.Fatal(err)
	}
	_ = engine.Add("spin", NodeFunc[testState, testUpdate](func(context.Context, testState) NodeResult[testUpdate] {
		return NodeResult[testUpdate]{Update: testUpdate{Runs: 1}}
	}))

	_, err = engine.Run(ctx, "t1", &testState{}, nil)
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != CodeMaxSteps {
		t.Fatalf("err = %v, want MAX_STEPS_EXCEEDED", err)
	}
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatal("cause not preserved")
	}
	latest, _ := st.Latest(ctx, "t1")
	if latest.State.Runs != 3 || latest.Seq != 4 {
		t.Fatalf("latest = seq %d runs %d, want seq 4 runs 3", latest.Seq, latest.State.Runs)
	}
}

type failingStore struct {
	store.Store[testState]
	failAfter int
	appends   int
}

func (f *failingStore) Append(ctx context.Context, cp store.Checkpoint[testState]) error {
	f.appends++
	if f.appends > f.failAfter {
		return errors.New("disk full")
	}
	return f.Store.Append(ctx, cp)
}

// TestEngineStoreFailure verifies a store fault ends the turn with an error
// event and leaves the thread resumable from its last good checkpoint.
func TestEngineStoreFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore[testState]()
	fs := &failingStore{Store: mem, failAfter: 2}
	engine, _ := newPipeline(t, fs)

	events, err := engine.Stream(ctx, "t1", &testState{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)
	last := got[len(got)-1]
	if last.Kind != EventError || last.NodeID != "party" {
		t.Fatalf("terminal event = %s at %s, want error at party", last.Kind, last.NodeID)
	}
	var engineErr *EngineError
	if !errors.As(last.Err, &engineErr) || engineErr.Code != CodeStoreError {
		t.Fatalf("err = %v, want STORE_ERROR", last.Err)
	}

	fs.failAfter = 100
	out, err := engine.Run(ctx, "t1", nil, nil)
	if err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	if out.Kind != EventCompleted || !out.State.Done {
		t.Fatalf("recovery outcome = %+v", out)
	}
}

// TestEngineNodeErrors covers node failure, timeout and routing faults.
func TestEngineNodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		node     NodeFunc[testState, testUpdate]
		policy   NodePolicy
		router   Router[testState]
		wantCode string
	}{
		{
			name: "node error",
			node: func(context.Context, testState) NodeResult[testUpdate] {
				return NodeResult[testUpdate]{Err: errors.New("boom")}
			},
			wantCode: CodeNodeFailed,
		},
		{
			name: "timeout",
			node: func(ctx context.Context, _ testState) NodeResult[testUpdate] {
				<-ctx.Done()
				return NodeResult[testUpdate]{Err: ctx.Err()}
			},
			policy:   NodePolicy{Timeout: 20 * time.Millisecond},
			wantCode: CodeNodeTimeout,
		},
		{
			name: "router error",
			node: func(context.Context, testState) NodeResult[testUpdate] { return NodeResult[testUpdate]{} },
			router: RouterFunc[testState](func(context.Context, testState, string) (Next, error) {
				return Next{}, errors.New("no idea")
			}),
			wantCode: CodeRouteError,
		},
		{
			name: "unknown node",
			node: func(context.Context, testState) NodeResult[testUpdate] { return NodeResult[testUpdate]{} },
			router: RouterFunc[testState](func(context.Context, testState, string) (Next, error) {
				return Goto("ghost"), nil
			}),
			wantCode: CodeNodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := tt.router
			if router == nil {
				router = RouterFunc[testState](func(_ context.Context, _ testState, last string) (Next, error) {
					if last == StartNode {
						return Goto("only"), nil
					}
					return Stop(), nil
				})
			}
			engine, err := New[testState, testUpdate](reduceTest, store.NewMemStore[testState](), router)
			if err != nil {
				t.Fatal(err)
			}
			if err := engine.AddWithPolicy("only", tt.node, tt.policy); err != nil {
				t.Fatal(err)
			}

			_, err = engine.Run(context.Background(), "t", &testState{}, nil)
			var engineErr *EngineError
			if !errors.As(err, &engineErr) {
				t.Fatalf("err = %v, want *EngineError", err)
			}
			if engineErr.Code != tt.wantCode {
				t.Fatalf("code = %s, want %s", engineErr.Code, tt.wantCode)
			}
		})
	}
}

// TestEngineRetryPolicy verifies retryable node errors are retried before
// anything is persisted.
func TestEngineRetryPolicy(t *testing.T) {
	st := store.NewMemStore[testState]()
	router := RouterFunc[testState](func(_ context.Context, _ testState, last string) (Next, error) {
		if last == StartNode {
			return Goto("flaky"), nil
		}
		return Stop(), nil
	})
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)
	engine, err := New[testState, testUpdate](reduceTest, st, router, WithMetrics(metrics))
	if err != nil {
		t.Fatal(err)
	}

	transient := errors.New("transient")
	attempts := 0
	err = engine.AddWithPolicy("flaky", NodeFunc[testState, testUpdate](func(context.Context, testState) NodeResult[testUpdate] {
		attempts++
		if attempts < 3 {
			return NodeResult[testUpdate]{Err: transient}
		}
		return NodeResult[testUpdate]{Update: testUpdate{Runs: 1}}
	}), NodePolicy{RetryPolicy: &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, transient) },
	}})
	if err != nil {
		t.Fatal(err)
	}

	out, err := engine.Run(context.Background(), "t", &testState{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 || out.State.Runs != 1 {
		t.Fatalf("attempts = %d runs = %d", attempts, out.State.Runs)
	}
	if got := testutil.ToFloat64(metrics.retries.WithLabelValues("flaky", "error")); got != 2 {
		t.Fatalf("retries_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.turns.WithLabelValues("completed")); got != 1 {
		t.Fatalf("turns_total{completed} = %v, want 1", got)
	}
}

// TestEngineGuard verifies a rejected update aborts the turn without a checkpoint.
func TestEngineGuard(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	engine, _ := newPipeline(t, st)
	engine.Guard(func(nodeID string, _ testState, u testUpdate) error {
		if nodeID == "party" && u.Party != nil {
			return errors.New("party is read-only")
		}
		return nil
	})

	_, err := engine.Run(ctx, "t1", &testState{}, nil)
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != CodeUpdateRejected {
		t.Fatalf("err = %v, want UPDATE_REJECTED", err)
	}
	latest, _ := st.Latest(ctx, "t1")
	if latest.NodeID != "plan" {
		t.Fatalf("latest checkpoint at %s, want plan", latest.NodeID)
	}
}

// TestEngineUpdateStateKeepsPause verifies out-of-band edits do not resume.
func TestEngineUpdateStateKeepsPause(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	engine, _ := newPipeline(t, st, WithInterruptAfter("plan"))
	if _, err := engine.Run(ctx, "t1", &testState{}, nil); err != nil {
		t.Fatal(err)
	}

	cp, err := engine.UpdateState(ctx, "t1", "plan", testUpdate{Runs: 10})
	if err != nil {
		t.Fatal(err)
	}
	if !cp.Interrupted || cp.State.Runs != 11 {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if _, err := engine.Run(ctx, "t1", nil, Approve[testUpdate]()); err != nil {
		t.Fatalf("approve after update: %v", err)
	}

	if _, err := engine.UpdateState(ctx, "missing", "plan", testUpdate{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// TestEngineUpdateStateKeepsNode verifies an edit without a node leaves the
// routing position unchanged.
func TestEngineUpdateStateKeepsNode(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	engine, calls := newPipeline(t, st, WithInterruptAfter("plan"))
	if _, err := engine.Run(ctx, "t1", &testState{}, nil); err != nil {
		t.Fatal(err)
	}

	cp, err := engine.UpdateState(ctx, "t1", "", testUpdate{Runs: 1})
	if err != nil {
		t.Fatal(err)
	}
	if cp.NodeID != "plan" || !cp.Interrupted {
		t.Fatalf("checkpoint = %+v", cp)
	}

	res, err := engine.Run(ctx, "t1", nil, Approve[testUpdate]())
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != EventCompleted || calls.get("party") != 1 || calls.get("finish") != 1 {
		t.Fatalf("result = %+v, party = %d, finish = %d", res, calls.get("party"), calls.get("finish"))
	}
}

// TestEngineCostTrackingContext verifies nodes see thread and node IDs.
func TestEngineCostTrackingContext(t *testing.T) {
	tracker := NewCostTracker()
	router := RouterFunc[testState](func(_ context.Context, _ testState, last string) (Next, error) {
		if last == StartNode {
			return Goto("writer"), nil
		}
		return Stop(), nil
	})
	engine, err := New[testState, testUpdate](reduceTest, store.NewMemStore[testState](), router, WithCostTracker(tracker))
	if err != nil {
		t.Fatal(err)
	}
	_ = engine.Add("writer", NodeFunc[testState, testUpdate](func(ctx context.Context, _ testState) NodeResult[testUpdate] {
		RecordUsage(ctx, "gpt-4o-mini", 1_000_000, 0)
		return NodeResult[testUpdate]{}
	}))

	if _, err := engine.Run(context.Background(), "t-cost", &testState{}, nil); err != nil {
		t.Fatal(err)
	}
	calls := tracker.Calls("t-cost")
	if len(calls) != 1 || calls[0].NodeID != "writer" {
		t.Fatalf("calls = %+v", calls)
	}
	if got := tracker.Thread("t-cost").CostUSD; got != 0.15 {
		t.Fatalf("cost = %v, want 0.15", got)
	}

	if err := engine.DeleteThread(context.Background(), "t-cost"); err != nil {
		t.Fatal(err)
	}
	if tracker.TotalCost() != 0 {
		t.Fatalf("tracker kept cost of a deleted thread")
	}
}

// TestEngineRouterCostContext verifies routing decisions made with a model
// are charged to the thread and the node being routed from.
func TestEngineRouterCostContext(t *testing.T) {
	tracker := NewCostTracker()
	router := RouterFunc[testState](func(ctx context.Context, _ testState, last string) (Next, error) {
		if last == StartNode {
			return Goto("writer"), nil
		}
		RecordUsage(ctx, "gpt-4o-mini", 1_000_000, 0)
		return Stop(), nil
	})
	engine, err := New[testState, testUpdate](reduceTest, store.NewMemStore[testState](), router, WithCostTracker(tracker))
	if err != nil {
		t.Fatal(err)
	}
	_ = engine.Add("writer", NodeFunc[testState, testUpdate](func(context.Context, testState) NodeResult[testUpdate] {
		return NodeResult[testUpdate]{}
	}))

	if _, err := engine.Run(context.Background(), "t-route", &testState{}, nil); err != nil {
		t.Fatal(err)
	}
	calls := tracker.Calls("t-route")
	if len(calls) != 1 || calls[0].NodeID != "writer" {
		t.Fatalf("calls = %+v", calls)
	}
}

// TestEngineEmitter verifies step and terminal events reach the emitter.
func TestEngineEmitter(t *testing.T) {
	buf := emit.NewBufferedEmitter()
	engine, _ := newPipeline(t, store.NewMemStore[testState](), WithEmitter(buf), WithInterruptAfter("party"))
	if _, err := engine.Run(context.Background(), "t1", &testState{}, nil); err != nil {
		t.Fatal(err)
	}

	history := buf.GetHistory("t1")
	var msgs []string
	for _, ev := range history {
		msgs = append(msgs, ev.Msg)
	}
	want := []string{"node completed", "node completed", "turn paused"}
	if !equalStrings(msgs, want) {
		t.Fatalf("emitted %v, want %v", msgs, want)
	}
	if history[1].Meta["interrupted"] != true {
		t.Fatalf("party event not marked interrupted: %+v", history[1].Meta)
	}
}

// TestEngineValidation covers constructor and Stream argument checks.
func TestEngineValidation(t *testing.T) {
	st := store.NewMemStore[testState]()
	if _, err := New[testState, testUpdate](nil, st, pipelineRouter()); err == nil {
		t.Error("expected error for nil reducer")
	}
	if _, err := New[testState, testUpdate](reduceTest, st, pipelineRouter(), WithMaxSteps(0)); err == nil {
		t.Error("expected error for zero max steps")
	}

	engine, _ := newPipeline(t, st)
	if err := engine.Add(StartNode, NodeFunc[testState, testUpdate](nil)); err == nil {
		t.Error("expected error for reserved node ID")
	}
	if err := engine.Add("plan", NodeFunc[testState, testUpdate](func(context.Context, testState) NodeResult[testUpdate] {
		return NodeResult[testUpdate]{}
	})); err == nil {
		t.Error("expected duplicate node error")
	}
	if _, err := engine.Stream(context.Background(), "t", &testState{}, Approve[testUpdate]()); err == nil {
		t.Error("expected error for initial and resume together")
	}
	if _, err := engine.Stream(context.Background(), "missing", nil, nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := engine.Stream(context.Background(), "missing", nil, Approve[testUpdate]()); !errors.Is(err, ErrNotPaused) {
		t.Errorf("err = %v, want ErrNotPaused", err)
	}
}
