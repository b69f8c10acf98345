package graph

import "context"

const (
	// StartNode is the sentinel "last step" passed to the Router on a fresh
	// thread, and the NodeID of a thread's seed checkpoint.
	StartNode = "__start__"

	// ResumeNode is the NodeID of a checkpoint written when a resume patch
	// is applied.
	ResumeNode = "__resume__"
)

// Next is a routing decision: a node to run or termination.
type Next struct {
	// To is the node to run next. Ignored when Terminal is set.
	To string

	// Terminal ends the turn with a completed event.
	Terminal bool
}

// Stop returns a terminal routing decision.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a decision to run nodeID next.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// Router decides which node runs after last, given the current state.
//
// last is StartNode on a fresh thread. Routers should be pure with respect
// to the state: the same state and last node yield the same decision. They
// may consult injected capabilities (a classifier, for example), which is
// why they receive a context. A returned error is an orchestration fault.
type Router[S any] interface {
	Route(ctx context.Context, state S, last string) (Next, error)
}

// RouterFunc adapts a function to the Router interface.
type RouterFunc[S any] func(ctx context.Context, state S, last string) (Next, error)

// Route implements Router.
func (f RouterFunc[S]) Route(ctx context.Context, state S, last string) (Next, error) {
	return f(ctx, state, last)
}

// Edge is a conditional transition between nodes.
//
// When is evaluated against the state after From completes; a nil When
// always matches.
type Edge[S any] struct {
	From string
	To   string
	When Predicate[S]
}

// Predicate inspects state to decide whether an edge applies.
type Predicate[S any] func(state S) bool

// EdgeRouter routes by edges first and falls back to another Router.
//
// Edges model small local loops, such as a step alternating between "model
// proposes actions" and "tool executes actions": the predicate, not step
// code, owns the decision to loop or exit. When no edge from last matches
// the fallback decides.
type EdgeRouter[S any] struct {
	edges    []Edge[S]
	fallback Router[S]
}

// NewEdgeRouter creates an EdgeRouter. fallback may be nil, in which case an
// unmatched node terminates the turn.
func NewEdgeRouter[S any](fallback Router[S], edges ...Edge[S]) *EdgeRouter[S] {
	return &EdgeRouter[S]{edges: edges, fallback: fallback}
}

// Connect appends an edge. Edges are evaluated in insertion order.
func (r *EdgeRouter[S]) Connect(from, to string, when Predicate[S]) {
	r.edges = append(r.edges, Edge[S]{From: from, To: to, When: when})
}

// Route implements Router. The first matching edge wins.
func (r *EdgeRouter[S]) Route(ctx context.Context, state S, last string) (Next, error) {
	for _, edge := range r.edges {
		if edge.From != last {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return Goto(edge.To), nil
		}
	}
	if r.fallback == nil {
		return Stop(), nil
	}
	return r.fallback.Route(ctx, state, last)
}
