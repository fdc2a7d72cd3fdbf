package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/fleetharness/scheduler/internal/device"
	"github.com/fleetharness/scheduler/internal/ports"
)

// CommandTracker is the identity of a command across all its executions
// (spec.md §3). Identity is ID; ExecTime accumulates across every
// execution of this tracker including reschedules and loops, and is the
// scheduling priority key (invariants CT-1, CT-2).
type CommandTracker struct {
	ID   int64
	Args []string

	execTimeNanos atomic.Int64
}

// ExecTime returns the accumulated execution time.
func (t *CommandTracker) ExecTime() time.Duration {
	return time.Duration(t.execTimeNanos.Load())
}

// AddExecTime adds d to the accumulated execution time. d must be >= 0
// (invariant CT-2: monotonic non-decreasing).
func (t *CommandTracker) AddExecTime(d time.Duration) {
	if d <= 0 {
		return
	}
	t.execTimeNanos.Add(int64(d))
}

// CommandState is the lifecycle of one ExecutableCommand (spec.md §3,
// invariant EC-2).
type CommandState int

const (
	CommandWaiting CommandState = iota
	CommandSleeping
	CommandExecuting
)

func (s CommandState) String() string {
	switch s {
	case CommandWaiting:
		return "Waiting"
	case CommandSleeping:
		return "Sleeping"
	case CommandExecuting:
		return "Executing"
	default:
		return "Unknown"
	}
}

// ExecutableCommand is one concrete queued execution of a tracker
// (spec.md §3).
type ExecutableCommand struct {
	Tracker     *CommandTracker
	Config      ports.Config
	Rescheduled bool
	CreatedAt   time.Time
	SleepUntil  time.Time

	state atomic.Int32
}

func (c *ExecutableCommand) setState(s CommandState) { c.state.Store(int32(s)) }

// State returns the command's current lifecycle state.
func (c *ExecutableCommand) State() CommandState { return CommandState(c.state.Load()) }

// InvocationThread is the live record of one running invocation
// (spec.md §3). Lifetime equals the duration of one Invoke call.
type InvocationThread struct {
	Name      string
	Device    device.Handle
	Command   *ExecutableCommand
	StartTime time.Time

	cancel func()
}

// Cancel requests that the invocation's context be cancelled. The
// invocation runner is responsible for honoring cancellation; the
// scheduler never force-kills an invocation thread directly except via
// ShutdownHard, which terminates the device manager bridge instead.
func (t *InvocationThread) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}
