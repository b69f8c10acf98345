package emit

// Event is an observability record produced by the engine.
//
// Events are fire-and-forget: emitters must not block the turn loop and
// failures to deliver are never surfaced to the workflow. The client-facing
// stream (graph.Event) is a separate, ordered channel; these events feed logs,
// traces and test history.
type Event struct {
	// ThreadID identifies the thread that produced this event.
	ThreadID string

	// Step is the checkpoint sequence number the event relates to.
	// Zero for events emitted before any checkpoint is written.
	Step int

	// NodeID is the step name, or empty for thread-level events.
	NodeID string

	// Msg is a short machine-friendly description, e.g. "node completed".
	Msg string

	// Meta carries additional fields such as checkpoint_id, latency_ms,
	// model, tokens_in, tokens_out or error.
	Meta map[string]interface{}
}
