package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// delayTimer migrates Sleeping commands back onto the scheduler queue
// once their sleep elapses (spec.md §4.G, commandTimer). It is a single
// registry of live clockwork.Timer values so that removeAllCommands can
// discard a not-yet-fired sleeping command without it ever reaching the
// queue (spec.md §10, Open Question on timer discard).
type delayTimer struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	timers map[*ExecutableCommand]clockwork.Timer
}

func newDelayTimer(clock clockwork.Clock) *delayTimer {
	return &delayTimer{clock: clock, timers: make(map[*ExecutableCommand]clockwork.Timer)}
}

// Schedule arranges for fn to run after delay, associated with cmd. If
// cmd is already scheduled, the prior timer is stopped first.
func (d *delayTimer) Schedule(cmd *ExecutableCommand, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.timers[cmd]; ok {
		existing.Stop()
	}
	cmd.setState(CommandSleeping)
	cmd.SleepUntil = d.clock.Now().Add(delay)
	d.timers[cmd] = d.clock.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, cmd)
		d.mu.Unlock()
		fn()
	})
}

// Cancel stops cmd's pending timer, if any, discarding it without
// running fn. Returns true if a timer was found and stopped.
func (d *delayTimer) Cancel(cmd *ExecutableCommand) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.timers[cmd]
	if !ok {
		return false
	}
	t.Stop()
	delete(d.timers, cmd)
	return true
}

// CancelAll stops every pending timer and discards them, used by
// removeAllCommands and scheduler shutdown.
func (d *delayTimer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for cmd, t := range d.timers {
		t.Stop()
		delete(d.timers, cmd)
	}
}
