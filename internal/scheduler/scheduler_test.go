package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fleetharness/scheduler/internal/device"
	"github.com/fleetharness/scheduler/internal/fakes"
	"github.com/fleetharness/scheduler/internal/ports"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, dm *fakes.DeviceManager, runner *fakes.InvocationRunner, clock clockwork.Clock) *Scheduler {
	t.Helper()
	if clock == nil {
		// Real time by default: most of these tests exercise the no-device
		// back-off path (clock.Sleep), which would otherwise block forever
		// against a fake clock nothing advances.
		clock = clockwork.NewRealClock()
	}
	s := New(Options{
		DeviceManager:    dm,
		InvocationRunner: runner,
		ConfigFactory:    &fakes.ConfigFactory{},
		Clock:            clock,
		PollInterval:     10 * time.Millisecond,
		NoDeviceBackoff:  time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	return s
}

func TestAddCommandDispatchesToFreeDevice(t *testing.T) {
	dm := fakes.NewDeviceManager("d1")
	runner := &fakes.InvocationRunner{}
	s := newTestScheduler(t, dm, runner, nil)

	require.NoError(t, s.AddCommand([]string{"run", "--serial", "d1"}, 0))

	require.Eventually(t, func() bool { return runner.Calls() == 1 }, time.Second, time.Millisecond)
}

// P1: commands with lower accumulated ExecTime are dispatched first.
func TestPriorityOrderingByExecTime(t *testing.T) {
	dm := fakes.NewDeviceManager("d1")
	var mu sync.Mutex
	var order []string
	block := make(chan struct{})
	first := true

	runner := &fakes.InvocationRunner{
		Fn: func(ctx context.Context, h device.Handle, cfg ports.Config, _ ports.Rescheduler, l ports.CompletionListener) error {
			mu.Lock()
			order = append(order, cfg.Args()[0])
			isFirst := first
			first = false
			mu.Unlock()
			if isFirst {
				<-block // hold the only device so the others queue up
			}
			l.InvocationComplete(h, device.FreeAvailable)
			return nil
		},
	}
	s := newTestScheduler(t, dm, runner, nil)

	require.NoError(t, s.AddCommand([]string{"first", "--serial", "d1"}, 0))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.AddCommand([]string{"slow", "--serial", "d1"}, 50*time.Millisecond))
	require.NoError(t, s.AddCommand([]string{"fast", "--serial", "d1"}, 1*time.Millisecond))
	close(block)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "fast", "slow"}, order)
}

// EC-1: at most one invocation thread runs against a given device serial
// at a time; a second command for a busy device waits its turn.
func TestEC1OneInvocationPerDevice(t *testing.T) {
	dm := fakes.NewDeviceManager("d1")
	release := make(chan struct{})
	var active int
	var mu sync.Mutex
	var maxActive int

	runner := &fakes.InvocationRunner{
		Fn: func(ctx context.Context, h device.Handle, cfg ports.Config, _ ports.Rescheduler, l ports.CompletionListener) error {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			<-release
			mu.Lock()
			active--
			mu.Unlock()
			l.InvocationComplete(h, device.FreeAvailable)
			return nil
		},
	}
	s := newTestScheduler(t, dm, runner, nil)

	require.NoError(t, s.AddCommand([]string{"a", "--serial", "d1"}, 0))
	require.NoError(t, s.AddCommand([]string{"b", "--serial", "d1"}, 0))

	time.Sleep(50 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool { return runner.Calls() == 2 }, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, maxActive)
}

func TestLoopModeReEnqueuesAfterMinLoopTime(t *testing.T) {
	dm := fakes.NewDeviceManager("d1")
	clock := clockwork.NewFakeClock()
	runner := &fakes.InvocationRunner{}
	factory := &fakes.ConfigFactory{
		Fn: func(args []string) (ports.Config, error) {
			return fakes.Config{
				ArgsValue: args,
				Opts:      fakes.CommandOptions{LoopMode: true, MinLoopTime: 100 * time.Millisecond},
				Reqs:      ports.DeviceRequirements{Serial: "d1"},
			}, nil
		},
	}

	s := New(Options{
		DeviceManager:    dm,
		InvocationRunner: runner,
		ConfigFactory:    factory,
		Clock:            clock,
		PollInterval:     5 * time.Millisecond,
		NoDeviceBackoff:  time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.NoError(t, s.AddCommand([]string{"loop", "--serial", "d1"}, 0))

	require.Eventually(t, func() bool { return runner.Calls() == 1 }, time.Second, time.Millisecond)

	// It shouldn't re-run before minLoopTime elapses.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, runner.Calls())

	clock.Advance(150 * time.Millisecond)
	require.Eventually(t, func() bool { return runner.Calls() >= 2 }, time.Second, time.Millisecond)
}

func TestAllDevicesFanOut(t *testing.T) {
	dm := fakes.NewDeviceManager("d1", "d2", "d3")
	runner := &fakes.InvocationRunner{}
	factory := &fakes.ConfigFactory{
		Fn: func(args []string) (ports.Config, error) {
			cfg := fakes.Config{ArgsValue: args}
			for i, a := range args {
				if a == "--all-devices" {
					cfg.Opts.AllDevices = true
				}
				if a == "--serial" && i+1 < len(args) {
					cfg.Reqs.Serial = args[i+1]
				}
			}
			return cfg, nil
		},
	}
	s := New(Options{DeviceManager: dm, InvocationRunner: runner, ConfigFactory: factory, Clock: clockwork.NewFakeClock(), PollInterval: 5 * time.Millisecond, NoDeviceBackoff: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.NoError(t, s.AddCommand([]string{"run", "--all-devices"}, 0))
	require.Eventually(t, func() bool { return runner.Calls() == 3 }, time.Second, time.Millisecond)
}

func TestHelpAndDryRunNeverEnqueue(t *testing.T) {
	dm := fakes.NewDeviceManager("d1")
	runner := &fakes.InvocationRunner{}
	factory := &fakes.ConfigFactory{
		Fn: func(args []string) (ports.Config, error) {
			return fakes.Config{ArgsValue: args, Opts: fakes.CommandOptions{HelpMode: true}}, nil
		},
	}
	s := New(Options{DeviceManager: dm, InvocationRunner: runner, ConfigFactory: factory, Clock: clockwork.NewFakeClock(), PollInterval: 5 * time.Millisecond, NoDeviceBackoff: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.NoError(t, s.AddCommand([]string{"--help"}, 0))
	// Invoked synchronously with a nil device, never touching the queue.
	require.Equal(t, 1, runner.Calls())
	require.Equal(t, 0, dm.Calls)
}

func TestRemoveAllCommandsDropsQueued(t *testing.T) {
	// Main loop deliberately not started: this exercises AddCommand and
	// RemoveAllCommands as pure queue operations, without a background
	// goroutine racing to dequeue-and-requeue against a deviceless fleet.
	dm := fakes.NewDeviceManager()
	runner := &fakes.InvocationRunner{}
	s := New(Options{DeviceManager: dm, InvocationRunner: runner, ConfigFactory: &fakes.ConfigFactory{}})

	require.NoError(t, s.AddCommand([]string{"a"}, 0))
	require.NoError(t, s.AddCommand([]string{"b"}, 0))

	s.RemoveAllCommands()

	s.mu.Lock()
	depth := s.queue.Len()
	allCmds := len(s.allCommands)
	s.mu.Unlock()
	require.Equal(t, 0, depth)
	require.Equal(t, 0, allCmds)
}

func TestShutdownOnEmptyWaitsForDrain(t *testing.T) {
	dm := fakes.NewDeviceManager("d1")
	runner := &fakes.InvocationRunner{}
	s := newTestScheduler(t, dm, runner, nil)

	require.NoError(t, s.AddCommand([]string{"a", "--serial", "d1"}, 0))
	s.ShutdownOnEmpty()

	require.Eventually(t, func() bool {
		return s.AwaitStopped(context.Background()) == nil
	}, time.Second, time.Millisecond)
}

func TestExecCommandDoesNotFreeDevice(t *testing.T) {
	dm := fakes.NewDeviceManager("d1")
	runner := &fakes.InvocationRunner{}
	s := newTestScheduler(t, dm, runner, nil)

	// Simulate a remote session already holding d1 via ForceAllocateDevice,
	// the way the remote manager's own tracker does.
	h, err := dm.ForceAllocateDevice("d1")
	require.NoError(t, err)

	var mu sync.Mutex
	var completed bool
	listener := fakeListener{onComplete: func(device.Handle, device.FreeState) {
		mu.Lock()
		completed = true
		mu.Unlock()
	}}

	require.NoError(t, s.ExecCommand(listener, h, []string{"exec", "--serial", "d1"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completed
	}, time.Second, time.Millisecond)

	// ExecCommand never calls FreeDevice on the scheduler's device
	// manager; the device stays on loan to the caller's own tracker, so a
	// second allocation attempt for the same serial still fails.
	other, err := dm.AllocateDevice(context.Background(), 0, ports.DeviceRequirements{Serial: "d1"})
	require.NoError(t, err)
	require.Nil(t, other)

	res, ok := s.GetLastCommandResult("d1")
	require.True(t, ok)
	require.Equal(t, 0, len(res.ErrorDetails))
}

func TestGetLastCommandResultUnknownSerial(t *testing.T) {
	dm := fakes.NewDeviceManager("d1")
	runner := &fakes.InvocationRunner{}
	s := newTestScheduler(t, dm, runner, nil)

	_, ok := s.GetLastCommandResult("nonexistent")
	require.False(t, ok)
}

type fakeListener struct {
	onComplete func(device.Handle, device.FreeState)
	onFailed   func(error)
}

func (f fakeListener) InvocationComplete(h device.Handle, free device.FreeState) {
	if f.onComplete != nil {
		f.onComplete(h, free)
	}
}

func (f fakeListener) InvocationFailed(cause error) {
	if f.onFailed != nil {
		f.onFailed(cause)
	}
}

type handoverRecorder struct {
	mu        sync.Mutex
	allocated []string
	added     [][]string
	closed    bool
}

func (h *handoverRecorder) SendAllocateDevice(serial string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allocated = append(h.allocated, serial)
	return true, nil
}

func (h *handoverRecorder) SendAddCommand(_ time.Duration, args []string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.added = append(h.added, args)
	return true, nil
}

func (h *handoverRecorder) SendFreeDevice(string) (bool, error) { return true, nil }

func (h *handoverRecorder) SendClose() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func TestHandoverShutdownSendsPendingInOrderThenCloses(t *testing.T) {
	// Main loop deliberately not started: HandoverShutdown only needs
	// pending commands sitting in the queue, and starting the loop against
	// a deviceless fleet would race it against the dequeue/backoff/requeue
	// cycle for no benefit here.
	dm := fakes.NewDeviceManager()
	runner := &fakes.InvocationRunner{}
	s := New(Options{DeviceManager: dm, InvocationRunner: runner, ConfigFactory: &fakes.ConfigFactory{}})

	require.NoError(t, s.AddCommand([]string{"slow"}, 50*time.Millisecond))
	require.NoError(t, s.AddCommand([]string{"fast"}, 1*time.Millisecond))

	rec := &handoverRecorder{}
	require.NoError(t, s.HandoverShutdown(rec, nil))

	require.Equal(t, [][]string{{"fast"}, {"slow"}}, rec.added)
	require.True(t, rec.closed)
}

func TestHandoverShutdownReplaysExtraAllocatedDevices(t *testing.T) {
	// Devices force-allocated directly through the remote manager (or
	// driven only via ExecCommand) never populate s.invocations; the
	// caller must pass them in explicitly so they're still sent as
	// Allocate during handover instead of silently dropped.
	dm := fakes.NewDeviceManager()
	runner := &fakes.InvocationRunner{}
	s := New(Options{DeviceManager: dm, InvocationRunner: runner, ConfigFactory: &fakes.ConfigFactory{}})

	require.NoError(t, s.AddCommand([]string{"fast"}, 0))

	rec := &handoverRecorder{}
	require.NoError(t, s.HandoverShutdown(rec, []string{"d9", "d10"}))

	require.ElementsMatch(t, []string{"d9", "d10"}, rec.allocated)
	require.Equal(t, [][]string{{"fast"}}, rec.added)
	require.True(t, rec.closed)
}

// §7 FatalHostError: an invocation error wrapped via WrapFatalHostError
// must trigger a full scheduler shutdown, not just a device free.
func TestFatalHostErrorTriggersShutdown(t *testing.T) {
	dm := fakes.NewDeviceManager("d1")
	runner := &fakes.InvocationRunner{
		Fn: func(ctx context.Context, h device.Handle, cfg ports.Config, _ ports.Rescheduler, l ports.CompletionListener) error {
			return WrapFatalHostError(errors.New("host is on fire"))
		},
	}
	s := newTestScheduler(t, dm, runner, nil)

	require.NoError(t, s.AddCommand([]string{"run", "--serial", "d1"}, 0))

	require.Eventually(t, func() bool {
		return s.AwaitStopped(context.Background()) == nil
	}, time.Second, time.Millisecond)
}

func TestInvocationFailureStillFreesDevice(t *testing.T) {
	dm := fakes.NewDeviceManager("d1")
	runner := &fakes.InvocationRunner{
		Fn: func(ctx context.Context, h device.Handle, cfg ports.Config, _ ports.Rescheduler, l ports.CompletionListener) error {
			return fmt.Errorf("device stopped responding: %w", ports.ErrDeviceUnresponsive)
		},
	}
	s := newTestScheduler(t, dm, runner, nil)

	require.NoError(t, s.AddCommand([]string{"a", "--serial", "d1"}, 0))

	// The device manager gets the device back even though the runner
	// never called InvocationComplete itself.
	require.Eventually(t, func() bool {
		h, err := dm.AllocateDevice(context.Background(), 0, ports.DeviceRequirements{Serial: "d1"})
		return err == nil && h != nil
	}, time.Second, time.Millisecond)
}
