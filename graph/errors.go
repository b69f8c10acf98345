package graph

import "errors"

var (
	// ErrNotPaused is returned when resuming a thread whose latest checkpoint
	// is not at an interrupt point.
	ErrNotPaused = errors.New("thread is not paused")

	// ErrThreadBusy is returned when a turn is already running for a thread.
	ErrThreadBusy = errors.New("thread has a turn in progress")

	// ErrMaxStepsExceeded is the cause of a MAX_STEPS_EXCEEDED error event.
	ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")
)

// Error codes carried by EngineError.
const (
	CodeMissingReducer = "MISSING_REDUCER"
	CodeMissingStore   = "MISSING_STORE"
	CodeMissingRouter  = "MISSING_ROUTER"
	CodeDuplicateNode  = "DUPLICATE_NODE"
	CodeNodeNotFound   = "NODE_NOT_FOUND"
	CodeStoreError     = "STORE_ERROR"
	CodeRouteError     = "ROUTE_ERROR"
	CodeNodeFailed     = "NODE_FAILED"
	CodeNodeTimeout    = "NODE_TIMEOUT"
	CodeUpdateRejected = "UPDATE_REJECTED"
	CodeMaxSteps       = "MAX_STEPS_EXCEEDED"
	CodeConflict       = "CHECKPOINT_CONFLICT"
	CodeCanceled       = "CANCELED"
)

// EngineError is an orchestration fault. It is fatal to the current turn and
// surfaces as an error event; the thread stays resumable from its last
// persisted checkpoint.
type EngineError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.NodeID != "" {
		msg = "node " + e.NodeID + ": " + msg
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}
