package graph

// EventKind identifies an entry of the turn event stream.
type EventKind string

const (
	// EventStepStarted is sent before a node runs.
	EventStepStarted EventKind = "step-started"

	// EventStepCompleted is sent after a node's checkpoint is persisted.
	EventStepCompleted EventKind = "step-completed"

	// EventPaused ends a turn at an interrupt point.
	EventPaused EventKind = "paused"

	// EventCompleted ends a turn when the router terminates.
	EventCompleted EventKind = "completed"

	// EventError ends a turn on an orchestration fault.
	EventError EventKind = "error"
)

// Terminal reports whether k ends a turn.
func (k EventKind) Terminal() bool {
	return k == EventPaused || k == EventCompleted || k == EventError
}

// Event is one entry of the ordered stream returned by Engine.Stream.
//
// A turn yields step-started and step-completed pairs followed by exactly
// one terminal event. Consumers may see the same step twice across a crash
// and resume; applying an Update twice is safe because reducers are
// deterministic.
type Event[S, U any] struct {
	Kind     EventKind
	ThreadID string

	// Step is the Seq of the checkpoint the step produces (or produced).
	Step   int
	NodeID string

	// CheckpointID is set on step-completed and terminal events.
	CheckpointID string

	// Update is the node's partial update on step-completed.
	Update U

	// State is the thread state on paused and completed.
	State S

	// Err is set on error events.
	Err error
}

// Resume is the instruction that continues a paused thread.
//
// A nil Patch approves: the loop re-enters the routing decision skipped at
// the interrupt point with the state untouched. A non-nil Patch is applied
// through the reducer and persisted before routing.
type Resume[U any] struct {
	Patch *U
}

// Approve returns an approval instruction.
func Approve[U any]() *Resume[U] {
	return &Resume[U]{}
}

// Patch returns an instruction that applies u before continuing.
func Patch[U any](u U) *Resume[U] {
	return &Resume[U]{Patch: &u}
}

// Outcome is the result of a turn driven to completion by Run.
type Outcome[S any] struct {
	// Kind is EventPaused or EventCompleted.
	Kind         EventKind
	State        S
	CheckpointID string
	Steps        int
}

// Paused reports whether the turn stopped at an interrupt point.
func (o Outcome[S]) Paused() bool {
	return o.Kind == EventPaused
}
