package graph

import "context"

// Node is a named unit of work in the workflow graph.
//
// A node receives a private copy of the current state and returns a partial
// update. It never mutates shared state: the Engine owns the only mutable
// copy and applies updates through the Reducer. Routing is not a node's
// concern either; the Router decides what runs next.
//
// Type parameters:
//   - S is the state type threaded through the graph
//   - U is the partial-update type nodes return
type Node[S, U any] interface {
	Run(ctx context.Context, state S) NodeResult[U]
}

// NodeResult is the outcome of a node execution.
type NodeResult[U any] struct {
	// Update is the partial state change to apply.
	Update U

	// Err reports an infrastructure failure that should abort the turn.
	// Content-quality problems must be handled inside the node by returning
	// a best-effort Update instead.
	Err error
}

// NodeFunc adapts a function to the Node interface.
//
// Example:
//
//	plan := graph.NodeFunc[State, Update](func(ctx context.Context, s State) graph.NodeResult[Update] {
//	    return graph.NodeResult[Update]{Update: Update{Plan: &p}}
//	})
type NodeFunc[S, U any] func(ctx context.Context, state S) NodeResult[U]

// Run implements Node.
func (f NodeFunc[S, U]) Run(ctx context.Context, state S) NodeResult[U] {
	return f(ctx, state)
}

// NodeError describes a node failure with context for diagnosis.
type NodeError struct {
	// Message is a human-readable description.
	Message string

	// Code is an optional machine-readable category.
	Code string

	// NodeID identifies the node where the error occurred.
	NodeID string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

type ctxKey int

const (
	threadIDKey ctxKey = iota
	nodeIDKey
)

// ThreadID returns the thread a node is running for, or "" outside a turn.
func ThreadID(ctx context.Context) string {
	v, _ := ctx.Value(threadIDKey).(string)
	return v
}

// CurrentNode returns the ID of the node being executed, or "" outside a turn.
func CurrentNode(ctx context.Context) string {
	v, _ := ctx.Value(nodeIDKey).(string)
	return v
}

// WithThreadID attaches a thread ID to ctx. The engine does this for every
// node; callers running steps outside the engine can do the same.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey, threadID)
}

func withNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeIDKey, nodeID)
}
