package device

import "fmt"

// ErrInvalidTransition is returned when an (state, event) pair has no
// mapped successor state. The state machine treats this as a programming
// error to be reported to the caller, never silently ignored.
type ErrInvalidTransition struct {
	State AllocationState
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("device: no transition from state %s on event %s", e.State, e.Event)
}

type transitionKey struct {
	state AllocationState
	event Event
}

// transitions is the pure transition table for the device allocation
// state machine (spec.md §4.B). It has no I/O and no dependency on wall
// clock or any external collaborator.
var transitions = map[transitionKey]AllocationState{
	{StateUnknown, EventConnectedOnline}: StateCheckingAvailability,
	{StateUnknown, EventForceAvailable}:  StateAvailable,

	{StateCheckingAvailability, EventAvailableCheckPassed}:  StateAvailable,
	{StateCheckingAvailability, EventAvailableCheckFailed}:  StateUnavailable,
	{StateCheckingAvailability, EventAvailableCheckIgnored}: StateIgnored,
	{StateCheckingAvailability, EventDisconnected}:          StateUnknown,

	{StateAvailable, EventAllocateRequest}:      StateAllocated,
	{StateAvailable, EventForceAllocateRequest}: StateAllocated,
	{StateAvailable, EventStateChangeOnline}:    StateCheckingAvailability,
	{StateAvailable, EventDisconnected}:         StateUnknown,

	{StateAllocated, EventFreeAvailable}:    StateAvailable,
	{StateAllocated, EventFreeUnresponsive}: StateUnavailable,
	{StateAllocated, EventFreeUnavailable}:  StateUnavailable,
	{StateAllocated, EventFreeUnknown}:      StateUnknown,
	{StateAllocated, EventDisconnected}:     StateUnknown,

	{StateUnavailable, EventStateChangeOnline}: StateCheckingAvailability,
	{StateUnavailable, EventDisconnected}:      StateUnknown,
	{StateUnavailable, EventForceAvailable}:    StateAvailable,

	{StateIgnored, EventDisconnected}: StateUnknown,
}

// Transition applies event to state and returns the successor state, or
// ErrInvalidTransition if the pair is unmapped.
func Transition(state AllocationState, event Event) (AllocationState, error) {
	next, ok := transitions[transitionKey{state, event}]
	if !ok {
		return state, &ErrInvalidTransition{State: state, Event: event}
	}
	return next, nil
}

// StateMachine wraps Transition with a held current state, for callers
// that want to drive one device's state without re-threading it
// themselves. It is not synchronized; callers that share a StateMachine
// across goroutines must provide their own locking (the device manager,
// an external collaborator, is assumed to do so).
type StateMachine struct {
	state AllocationState
}

// NewStateMachine returns a StateMachine starting in StateUnknown.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateUnknown}
}

// State returns the current state.
func (m *StateMachine) State() AllocationState {
	return m.state
}

// Apply transitions the held state by event, returning the new state. On
// error the held state is left unchanged.
func (m *StateMachine) Apply(event Event) (AllocationState, error) {
	next, err := Transition(m.state, event)
	if err != nil {
		return m.state, err
	}
	m.state = next
	return m.state, nil
}
