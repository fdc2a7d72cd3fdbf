// Package execution implements the execution tracker (spec.md §4.I): a
// completion listener that captures the terminal result of one
// invocation for later reporting via GetLastCommandResult.
package execution

import (
	"sync"

	"github.com/fleetharness/scheduler/internal/device"
)

// Status is the terminal (or in-flight) state of a tracked invocation.
type Status int

const (
	StatusNoActiveCommand Status = iota
	StatusExecuting
	StatusNotAllocated
	StatusInvocationError
	StatusInvocationSuccess
)

func (s Status) String() string {
	switch s {
	case StatusNoActiveCommand:
		return "NO_ACTIVE_COMMAND"
	case StatusExecuting:
		return "EXECUTING"
	case StatusNotAllocated:
		return "NOT_ALLOCATED"
	case StatusInvocationError:
		return "INVOCATION_ERROR"
	case StatusInvocationSuccess:
		return "INVOCATION_SUCCESS"
	default:
		return "UNKNOWN"
	}
}

// Result is the immutable snapshot returned by Tracker.Result.
type Result struct {
	Status       Status
	ErrorDetails string
	FreeState    device.FreeState
	HasFreeState bool
}

// Tracker subscribes as an invocation-completion listener and records the
// terminal result of one invocation (spec.md §4.I). It implements
// ports.CompletionListener.
type Tracker struct {
	mu     sync.Mutex
	result Result
}

// NewTracker returns a Tracker whose status begins Executing.
func NewTracker() *Tracker {
	return &Tracker{result: Result{Status: StatusExecuting}}
}

// InvocationFailed records a failure; the stack/cause is captured as a
// string since the precise error type is an external collaborator's
// concern.
func (t *Tracker) InvocationFailed(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Status = StatusInvocationError
	if cause != nil {
		t.result.ErrorDetails = cause.Error()
	}
}

// InvocationComplete records successful completion, unless a prior
// failure was already recorded, in which case the error status is kept
// (spec.md §4.I).
func (t *Tracker) InvocationComplete(h device.Handle, free device.FreeState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.FreeState = free
	t.result.HasFreeState = true
	if t.result.Status != StatusInvocationError {
		t.result.Status = StatusInvocationSuccess
	}
}

// Result returns an immutable snapshot of the tracked result.
func (t *Tracker) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}
