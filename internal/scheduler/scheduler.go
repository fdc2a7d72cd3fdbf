// Package scheduler implements the command scheduler (spec.md §4.G): the
// priority queue of commands, the device-matching main loop, invocation
// dispatch, retry/loop semantics, and the handover/shutdown lifecycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/fleetharness/scheduler/internal/device"
	"github.com/fleetharness/scheduler/internal/execution"
	"github.com/fleetharness/scheduler/internal/ports"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Sentinel errors surfaced by the scheduler (spec.md §7).
var (
	ErrShuttingDown  = errors.New("scheduler: shutting down, command rejected")
	ErrNotAllocated  = errors.New("scheduler: device not allocated in this session")
	ErrFatalHostStop = errors.New("scheduler: fatal host error, shutting down")
)

const (
	defaultPollInterval    = 1 * time.Second
	defaultNoDeviceBackoff = 20 * time.Millisecond
	defaultAllocateTimeout = 0 // non-blocking, per spec.md §4.G step 2a
)

// HandoverClient is the subset of the remote client the scheduler needs
// to hand allocated devices and pending commands to an incoming process
// (spec.md §4.E handover, outgoing side).
type HandoverClient interface {
	SendAllocateDevice(serial string) (bool, error)
	SendAddCommand(totalExecTime time.Duration, args []string) (bool, error)
	SendFreeDevice(serial string) (bool, error)
	SendClose() error
}

// Options configures a Scheduler.
type Options struct {
	DeviceManager            ports.DeviceManager
	InvocationRunner         ports.InvocationRunner
	ConfigFactory            ports.ConfigFactory
	Clock                    clockwork.Clock
	Utilization              *device.UtilizationMonitor
	MaxConcurrentInvocations int
	PollInterval             time.Duration
	NoDeviceBackoff          time.Duration
}

// Scheduler is the command scheduler (spec.md §4.G).
type Scheduler struct {
	deviceManager    ports.DeviceManager
	invocationRunner ports.InvocationRunner
	configFactory    ports.ConfigFactory
	clock            clockwork.Clock
	util             *device.UtilizationMonitor
	pool             pond.Pool
	timer            *delayTimer
	metrics          *schedulerMetrics

	pollInterval    time.Duration
	noDeviceBackoff time.Duration

	mu            sync.Mutex
	queue         *commandQueue
	allCommands   map[*ExecutableCommand]struct{}
	invocations   map[string]*InvocationThread // device serial -> thread (EC-1)
	nextCommandID int64

	started            bool
	shutdownRequested  bool
	shutdownOnEmptyReq bool
	runLatch           chan struct{}
	runLatchClosed     bool

	execMu       sync.Mutex
	execTrackers map[string]*execution.Tracker // device serial -> last execution

	invocationsWG sync.WaitGroup
	loopDone      chan struct{}
}

// New constructs a Scheduler. The returned Scheduler does not start its
// main loop until Start is called.
func New(opts Options) *Scheduler {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	noDeviceBackoff := opts.NoDeviceBackoff
	if noDeviceBackoff <= 0 {
		noDeviceBackoff = defaultNoDeviceBackoff
	}
	maxConcurrent := opts.MaxConcurrentInvocations
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}

	return &Scheduler{
		deviceManager:    opts.DeviceManager,
		invocationRunner: opts.InvocationRunner,
		configFactory:    opts.ConfigFactory,
		clock:            clock,
		util:             opts.Utilization,
		pool:             pond.NewPool(maxConcurrent),
		timer:            newDelayTimer(clock),
		metrics:          newSchedulerMetrics(),
		pollInterval:     pollInterval,
		noDeviceBackoff:  noDeviceBackoff,
		queue:            newCommandQueue(),
		allCommands:      make(map[*ExecutableCommand]struct{}),
		invocations:      make(map[string]*InvocationThread),
		runLatch:         make(chan struct{}),
		execTrackers:     make(map[string]*execution.Tracker),
		loopDone:         make(chan struct{}),
	}
}

// Start launches the scheduler's main loop. It returns once the loop has
// signaled readiness (AwaitStarted unblocks at the same point).
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.mainLoop(ctx)
	<-s.runLatch
}

// AwaitStarted blocks until Start has made the scheduler ready, or ctx is
// done first.
func (s *Scheduler) AwaitStarted(ctx context.Context) error {
	select {
	case <-s.runLatch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) signalStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runLatchClosed {
		close(s.runLatch)
		s.runLatchClosed = true
	}
}

// mainLoop is the scheduler's dedicated main thread (spec.md §5): poll
// the queue for up to pollInterval, try to match a device, dispatch or
// back off, until shutdown is observed.
func (s *Scheduler) mainLoop(ctx context.Context) {
	defer close(s.loopDone)
	s.signalStarted()

	for {
		if s.isShuttingDown() {
			s.drainOnShutdown()
			return
		}

		cmd := s.pollQueue(ctx)
		if cmd == nil {
			continue
		}

		h, err := s.deviceManager.AllocateDevice(ctx, defaultAllocateTimeout, cmd.Config.DeviceRequirements())
		if err != nil || h == nil {
			// AllocationError: fairness nudge, requeue after a fixed
			// back-off (spec.md §4.G step 2c).
			cmd.Tracker.AddExecTime(time.Millisecond)
			s.clock.Sleep(s.noDeviceBackoff)
			s.mu.Lock()
			s.queue.Enqueue(cmd)
			s.mu.Unlock()
			continue
		}

		s.dispatch(ctx, h, cmd)
	}
}

// pollQueue waits up to pollInterval for a command to become available,
// returning nil on timeout so the main loop can re-check shutdown. The
// micro-sleep between dequeue attempts is a busy-wait implementation
// detail, not scheduling-relevant duration, so it always uses wall-clock
// time even when s.clock is a virtual clock under test (otherwise a test
// clock that's never advanced would wedge the poll loop before it ever
// sees a command).
func (s *Scheduler) pollQueue(ctx context.Context) *ExecutableCommand {
	deadline := s.clock.After(s.pollInterval)
	for {
		s.mu.Lock()
		cmd := s.queue.Dequeue()
		depth := s.queue.Len()
		s.mu.Unlock()
		s.metrics.queueDepth.Set(float64(depth))
		if cmd != nil {
			return cmd
		}
		select {
		case <-deadline:
			return nil
		case <-ctx.Done():
			return nil
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func (s *Scheduler) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownRequested {
		return true
	}
	if s.shutdownOnEmptyReq && len(s.allCommands) == 0 {
		s.shutdownRequested = true
		return true
	}
	return false
}

// dispatch spawns an invocation thread for cmd on h, enforcing EC-1 (at
// most one InvocationThread per device).
func (s *Scheduler) dispatch(ctx context.Context, h device.Handle, cmd *ExecutableCommand) {
	serial := h.Serial()

	s.mu.Lock()
	if _, busy := s.invocations[serial]; busy {
		s.mu.Unlock()
		// Should not happen if the device manager honors exclusivity
		// (EC-1); treat as an allocation error and give the device back.
		s.deviceManager.FreeDevice(h, device.FreeAvailable)
		s.mu.Lock()
		s.queue.Enqueue(cmd)
		s.mu.Unlock()
		return
	}
	cmd.setState(CommandExecuting)
	invCtx, cancel := context.WithCancel(ctx)
	thread := &InvocationThread{
		Name:      uuid.NewString(),
		Device:    h,
		Command:   cmd,
		StartTime: s.clock.Now(),
		cancel:    cancel,
	}
	s.invocations[serial] = thread
	s.mu.Unlock()

	s.metrics.invocationsActive.Set(float64(len(s.invocations)))
	if s.util != nil {
		s.util.EnterAllocated(serial, s.deviceManager.IsNullDevice(serial) || s.deviceManager.IsEmulator(serial), stubCategory(s.deviceManager, serial))
	}

	tracker := execution.NewTracker()
	s.execMu.Lock()
	s.execTrackers[serial] = tracker
	s.execMu.Unlock()

	listener := &invocationListener{s: s, thread: thread, tracker: tracker}

	s.invocationsWG.Add(1)
	s.pool.Submit(func() {
		defer s.invocationsWG.Done()
		start := s.clock.Now()
		err := s.invocationRunner.Invoke(invCtx, h, cmd.Config, s.reschedulerFor(cmd), listener)
		elapsed := s.clock.Now().Sub(start)
		cmd.Tracker.AddExecTime(elapsed)

		if err != nil {
			listener.InvocationFailed(err)
			var fatal *fatalHostError
			if errors.As(err, &fatal) {
				slog.Error("scheduler: fatal host error, shutting down", "error", err)
				s.Shutdown()
			}
		}
		listener.finish(err)
	})
}

// stubCategory derives a coarse grouping key for StubIncludeIfUsed
// accounting.
func stubCategory(dm ports.DeviceManager, serial string) string {
	switch {
	case dm.IsNullDevice(serial):
		return "null"
	case dm.IsEmulator(serial):
		return "emulator"
	default:
		return ""
	}
}

// fatalHostError marks an invocation failure that should trigger a full
// scheduler shutdown (spec.md §7, FatalHostError).
type fatalHostError struct{ cause error }

func (e *fatalHostError) Error() string { return fmt.Sprintf("fatal host error: %v", e.cause) }
func (e *fatalHostError) Unwrap() error { return e.cause }

// WrapFatalHostError lets an InvocationRunner mark an error as a
// FatalHostError so the scheduler triggers shutdown() instead of just
// freeing the device (spec.md §4.G Failure model).
func WrapFatalHostError(cause error) error { return &fatalHostError{cause: cause} }

// invocationListener is the per-invocation CompletionListener passed to
// the invocation runner; it frees the device, records the result in the
// execution tracker, folds the outcome into the utilization monitor, and
// re-enqueues looped commands.
type invocationListener struct {
	s       *Scheduler
	thread  *InvocationThread
	tracker *execution.Tracker

	mu   sync.Mutex
	done bool
}

func (l *invocationListener) InvocationFailed(cause error) {
	l.tracker.InvocationFailed(cause)
}

func (l *invocationListener) InvocationComplete(h device.Handle, free device.FreeState) {
	l.tracker.InvocationComplete(h, free)
	l.release(free)
}

// finish is called once Invoke returns, after InvocationComplete/Failed
// (if the runner called them) to guarantee device release even if the
// runner returned an error without reporting a free state.
func (l *invocationListener) finish(err error) {
	l.mu.Lock()
	already := l.done
	l.mu.Unlock()
	if already {
		return
	}

	free := device.FreeAvailable
	switch {
	case errors.Is(err, ports.ErrDeviceUnresponsive):
		free = device.FreeUnresponsive
	case errors.Is(err, ports.ErrDeviceUnavailable):
		free = device.FreeUnavailable
	}
	l.release(free)
}

func (l *invocationListener) release(free device.FreeState) {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return
	}
	l.done = true
	l.mu.Unlock()

	s := l.s
	serial := l.thread.Device.Serial()

	s.deviceManager.FreeDevice(l.thread.Device, free)
	if s.util != nil {
		s.util.EnterAvailable(serial, s.deviceManager.IsNullDevice(serial) || s.deviceManager.IsEmulator(serial), stubCategory(s.deviceManager, serial))
	}

	outcome := "success"
	if free != device.FreeAvailable {
		outcome = strings.ToLower(free.String())
	}
	s.metrics.invocationsTotal.WithLabelValues(outcome).Inc()

	s.mu.Lock()
	delete(s.invocations, serial)
	delete(s.allCommands, l.thread.Command)
	cfg := l.thread.Command.Config
	tracker := l.thread.Command.Tracker
	s.mu.Unlock()
	s.metrics.invocationsActive.Set(float64(len(s.invocations)))

	if cfg == nil || !cfg.CommandOptions().IsLoopMode() {
		return
	}

	// Re-parse the tracker's original args fresh rather than reusing cfg
	// directly, then force loop mode off so the re-enqueued execution
	// cannot cascade into another loop (spec.md §4.G step 2b).
	freshCfg, err := s.configFactory.CreateConfigurationFromArgs(tracker.Args)
	if err != nil {
		slog.Error("scheduler: re-parsing loop-mode command failed, dropping loop", "error", err)
		return
	}
	s.scheduleAfterDelay(tracker, freshCfg.WithLoopModeCleared(), freshCfg.CommandOptions().GetMinLoopTime())
}

// scheduleAfterDelay creates a fresh ExecutableCommand reusing tracker and
// hands it to the delay timer, which moves it onto the queue once delay
// elapses (spec.md §4.G rescheduleCommand/loop-mode re-enqueue).
func (s *Scheduler) scheduleAfterDelay(tracker *CommandTracker, cfg ports.Config, delay time.Duration) {
	fresh := &ExecutableCommand{
		Tracker:     tracker,
		Config:      cfg,
		Rescheduled: true,
		CreatedAt:   s.clock.Now(),
	}
	s.mu.Lock()
	s.allCommands[fresh] = struct{}{}
	s.mu.Unlock()
	s.timer.Schedule(fresh, delay, func() {
		s.mu.Lock()
		s.queue.Enqueue(fresh)
		s.mu.Unlock()
	})
}

// drainOnShutdown waits for every invocation thread to finish, then tears
// down the timer and device manager (spec.md §4.G step 3).
func (s *Scheduler) drainOnShutdown() {
	s.invocationsWG.Wait()
	s.timer.CancelAll()
	if err := s.deviceManager.Terminate(); err != nil {
		slog.Error("scheduler: error terminating device manager", "error", err)
	}
}

// AddCommand parses args into a Config via the scheduler's ConfigFactory
// and enqueues the resulting ExecutableCommand with totalExecTime as its
// starting priority key (used by the handover protocol to preserve
// accumulated priority across a process boundary, spec.md §4.E). Help,
// full-help, dry-run and noisy-dry-run commands never touch a device;
// they're handled synchronously and never enter the queue. RunOnAllDevices
// fans a single command out into one ExecutableCommand per currently
// known device serial.
func (s *Scheduler) AddCommand(args []string, totalExecTime time.Duration) error {
	if s.isShuttingDown() {
		return ErrShuttingDown
	}

	cfg, err := s.configFactory.CreateConfigurationFromArgs(args)
	if err != nil {
		return fmt.Errorf("scheduler: parsing command args: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("scheduler: invalid command: %w", err)
	}
	opts := cfg.CommandOptions()

	if opts.IsHelpMode() || opts.IsFullHelpMode() || opts.IsDryRunMode() || opts.IsNoisyDryRunMode() {
		return s.invocationRunner.Invoke(context.Background(), nil, cfg, noopRescheduler{}, noopListener{})
	}

	serials := []string{""}
	if opts.RunOnAllDevices() {
		serials = serials[:0]
		for _, d := range s.deviceManager.ListAllDevices() {
			serials = append(serials, d.Serial)
		}
		if len(serials) == 0 {
			return nil
		}
	}

	for _, serial := range serials {
		perDeviceCfg := cfg
		if serial != "" {
			perDeviceCfg, err = s.configFactory.CreateConfigurationFromArgs(append(append([]string{}, args...), "--serial", serial))
			if err != nil {
				return fmt.Errorf("scheduler: parsing per-device command args: %w", err)
			}
			if err := perDeviceCfg.Validate(); err != nil {
				return fmt.Errorf("scheduler: invalid per-device command: %w", err)
			}
		}
		s.enqueueNew(perDeviceCfg, totalExecTime)
	}

	s.metrics.commandsAdded.Inc()
	return nil
}

func (s *Scheduler) enqueueNew(cfg ports.Config, totalExecTime time.Duration) *ExecutableCommand {
	s.mu.Lock()
	s.nextCommandID++
	id := s.nextCommandID
	s.mu.Unlock()

	tracker := &CommandTracker{ID: id, Args: cfg.Args()}
	tracker.AddExecTime(totalExecTime)
	cmd := &ExecutableCommand{Tracker: tracker, Config: cfg, CreatedAt: s.clock.Now()}

	s.mu.Lock()
	s.allCommands[cmd] = struct{}{}
	s.queue.Enqueue(cmd)
	s.mu.Unlock()
	return cmd
}

// ExecCommand runs args immediately against h, bypassing the queue
// entirely (spec.md §4.G ExecCommand). h must already be held by the
// caller's session (the remote manager enforces this against its own
// device.Tracker before calling in; ownership of h is untouched here —
// unlike queue-dispatched invocations, ExecCommand never frees the
// device on completion, since the remote session may issue further
// ExecCommand calls against the same allocation). The terminal result is
// recorded in execTrackers under h.Serial() for GetLastCommandResult.
func (s *Scheduler) ExecCommand(listener ports.CompletionListener, h device.Handle, args []string) error {
	cfg, err := s.configFactory.CreateConfigurationFromArgs(args)
	if err != nil {
		return fmt.Errorf("scheduler: parsing exec command args: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("scheduler: invalid exec command: %w", err)
	}

	serial := h.Serial()
	tracker := execution.NewTracker()
	s.execMu.Lock()
	s.execTrackers[serial] = tracker
	s.execMu.Unlock()

	go func() {
		err := s.invocationRunner.Invoke(context.Background(), h, cfg, noopRescheduler{}, execBroadcastListener{inner: listener, tracker: tracker})
		if err != nil {
			tracker.InvocationFailed(err)
			listener.InvocationFailed(err)
		}
	}()
	return nil
}

// execBroadcastListener fans InvocationRunner completion callbacks out to
// both the remote caller's listener and this command's execution
// tracker, for ExecCommand's GetLastCommandResult bookkeeping.
type execBroadcastListener struct {
	inner   ports.CompletionListener
	tracker *execution.Tracker
}

func (l execBroadcastListener) InvocationFailed(cause error) {
	l.tracker.InvocationFailed(cause)
	l.inner.InvocationFailed(cause)
}

func (l execBroadcastListener) InvocationComplete(h device.Handle, free device.FreeState) {
	l.tracker.InvocationComplete(h, free)
	l.inner.InvocationComplete(h, free)
}

// RemoveAllCommands discards every queued and sleeping command. Commands
// already Executing finish naturally and stay in allCommands until they
// do; a loop-mode command that is Executing when this is called is still
// re-enqueued (after its minLoopTime) once its invocation completes.
func (s *Scheduler) RemoveAllCommands() {
	s.timer.CancelAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cmd := range s.queue.Clear() {
		delete(s.allCommands, cmd)
	}
	for cmd := range s.allCommands {
		if cmd.State() == CommandSleeping {
			delete(s.allCommands, cmd)
		}
	}
}

// GetLastCommandResult returns the terminal result of the most recent
// invocation on serial, if any has run in this process.
func (s *Scheduler) GetLastCommandResult(serial string) (execution.Result, bool) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	t, ok := s.execTrackers[serial]
	if !ok {
		return execution.Result{}, false
	}
	return t.Result(), true
}

// Shutdown stops accepting new commands and, once every in-flight
// invocation finishes, terminates the device manager. It does not wait
// for the loop to exit; callers that need that should select on
// AwaitStopped.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
}

// ShutdownOnEmpty requests shutdown once allCommands drains naturally,
// without discarding anything queued right now.
func (s *Scheduler) ShutdownOnEmpty() {
	s.mu.Lock()
	s.shutdownOnEmptyReq = true
	s.mu.Unlock()
}

// ShutdownHard discards all queued work immediately and terminates the
// device manager bridge hard, not waiting for in-flight invocations to
// notice cancellation.
func (s *Scheduler) ShutdownHard() {
	s.RemoveAllCommands()
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	if err := s.deviceManager.TerminateHard(); err != nil {
		slog.Error("scheduler: error hard-terminating device manager", "error", err)
	}
}

// AwaitStopped blocks until the main loop has exited following a
// shutdown request, or ctx is done first.
func (s *Scheduler) AwaitStopped(ctx context.Context) error {
	select {
	case <-s.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandoverShutdown sends every currently allocated device and queued
// command to an incoming scheduler process over client, preserving each
// tracker's accumulated priority (spec.md §4.E handover, outgoing side),
// then shuts this scheduler down hard once the handoff completes.
//
// extraAllocated names devices this process holds that never went
// through the scheduler's own dispatch loop — serials the remote
// manager force-allocated directly (ports.DeviceManager.ForceAllocateDevice)
// on behalf of a peer, including ones only ever driven via ExecCommand.
// Those never appear in s.invocations, so without them a handover would
// silently drop them back to Available instead of transferring them
// (spec.md §4.E: Allocate is sent for every serial in Allocated state).
func (s *Scheduler) HandoverShutdown(client HandoverClient, extraAllocated []string) error {
	s.mu.Lock()
	pending := s.queue.Clear()
	for _, cmd := range pending {
		delete(s.allCommands, cmd)
	}
	seen := make(map[string]struct{}, len(s.invocations)+len(extraAllocated))
	devices := make([]string, 0, len(s.invocations)+len(extraAllocated))
	for serial := range s.invocations {
		seen[serial] = struct{}{}
		devices = append(devices, serial)
	}
	s.mu.Unlock()

	for _, serial := range extraAllocated {
		if _, dup := seen[serial]; dup {
			continue
		}
		seen[serial] = struct{}{}
		devices = append(devices, serial)
	}

	sortByExecTime(pending)

	var errs []error
	for _, serial := range devices {
		if _, err := client.SendAllocateDevice(serial); err != nil {
			errs = append(errs, fmt.Errorf("handover: allocate %s: %w", serial, err))
		}
	}
	for _, cmd := range pending {
		if _, err := client.SendAddCommand(cmd.Tracker.ExecTime(), cmd.Tracker.Args); err != nil {
			errs = append(errs, fmt.Errorf("handover: add command %d: %w", cmd.Tracker.ID, err))
		}
	}
	if err := client.SendClose(); err != nil {
		errs = append(errs, fmt.Errorf("handover: close: %w", err))
	}

	s.ShutdownHard()
	return errors.Join(errs...)
}

// sortByExecTime orders pending commands ascending by accumulated
// execution time before handover, matching the queue's own priority
// order (spec.md §4.E, "non-decreasing totalExecTime").
func sortByExecTime(cmds []*ExecutableCommand) {
	for i := 1; i < len(cmds); i++ {
		for j := i; j > 0 && cmds[j-1].Tracker.ExecTime() > cmds[j].Tracker.ExecTime(); j-- {
			cmds[j-1], cmds[j] = cmds[j], cmds[j-1]
		}
	}
}

// commandRescheduler is the ports.Rescheduler handed to the invocation
// runner for queue-resident commands, letting it request a rerun with an
// optionally modified config (spec.md §4.G).
type commandRescheduler struct {
	s   *Scheduler
	cmd *ExecutableCommand
}

// ScheduleConfig enqueues a fresh ExecutableCommand reusing the current
// tracker with cfg, loop mode forced off (spec.md §4.G scheduleConfig).
func (r commandRescheduler) ScheduleConfig(cfg ports.Config) {
	fresh := &ExecutableCommand{
		Tracker:     r.cmd.Tracker,
		Config:      cfg.WithLoopModeCleared(),
		Rescheduled: true,
		CreatedAt:   r.s.clock.Now(),
	}
	r.s.mu.Lock()
	r.s.allCommands[fresh] = struct{}{}
	r.s.queue.Enqueue(fresh)
	r.s.mu.Unlock()
}

// RescheduleCommand re-parses the tracker's original args and enqueues the
// result after at least commandOptions.minLoopTime, via the delay timer
// (spec.md §4.G rescheduleCommand).
func (r commandRescheduler) RescheduleCommand() {
	cfg, err := r.s.configFactory.CreateConfigurationFromArgs(r.cmd.Tracker.Args)
	if err != nil {
		slog.Error("scheduler: rescheduleCommand: re-parsing args failed", "error", err)
		return
	}
	r.s.scheduleAfterDelay(r.cmd.Tracker, cfg, cfg.CommandOptions().GetMinLoopTime())
}

func (s *Scheduler) reschedulerFor(cmd *ExecutableCommand) ports.Rescheduler {
	return commandRescheduler{s: s, cmd: cmd}
}

// noopRescheduler is handed to invocations that never re-enter the queue
// (help/dry-run/ExecCommand).
type noopRescheduler struct{}

func (noopRescheduler) ScheduleConfig(ports.Config) {}
func (noopRescheduler) RescheduleCommand()          {}

// noopListener discards completion notifications for invocations that
// have no interested remote caller (help/dry-run AddCommand paths).
type noopListener struct{}

func (noopListener) InvocationComplete(device.Handle, device.FreeState) {}
func (noopListener) InvocationFailed(error)                             {}
