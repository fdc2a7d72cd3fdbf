// Package ports declares the external collaborator interfaces the
// scheduler core is built against (spec.md §6.2). No package in this
// module implements them for production use; they are the seam across
// which the device bridge, invocation runner, config factory, and
// command-file parser are injected.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/fleetharness/scheduler/internal/device"
)

// Sentinel invocation-failure causes an InvocationRunner can wrap into its
// returned error (via fmt.Errorf("...: %w", ...)) so the scheduler can
// pick the correct FreeState without depending on the runner's concrete
// error types (spec.md §4.G Failure model).
var (
	ErrDeviceUnresponsive = errors.New("ports: device unresponsive")
	ErrDeviceUnavailable  = errors.New("ports: device unavailable")
)

// DeviceManager is the bridge to the underlying device driver (adb/
// fastboot-equivalent). Explicitly out of scope for this module
// (spec.md §1); only its contract lives here.
type DeviceManager interface {
	AllocateDevice(ctx context.Context, timeout time.Duration, requirements DeviceRequirements) (device.Handle, error)
	ForceAllocateDevice(serial string) (device.Handle, error)
	FreeDevice(h device.Handle, state device.FreeState)
	ListAllDevices() []device.Descriptor
	IsNullDevice(serial string) bool
	IsEmulator(serial string) bool
	Init() error
	Terminate() error
	TerminateHard() error
}

// DeviceRequirements narrows a device request; opaque beyond what the
// device manager needs to match against.
type DeviceRequirements struct {
	Product        string
	ProductVariant string
	Serial         string // exact match, set by --all-devices fan-out
}

// Rescheduler is passed to the invocation runner so it can ask for the
// command to run again, with or without a modified configuration
// (spec.md §4.G).
type Rescheduler interface {
	ScheduleConfig(cfg Config)
	RescheduleCommand()
}

// CompletionListener is notified when an invocation finishes.
type CompletionListener interface {
	InvocationComplete(h device.Handle, free device.FreeState)
	InvocationFailed(cause error)
}

// InvocationRunner runs one configured test invocation against one
// device. DeviceUnresponsive/DeviceNotAvailable are reported through the
// returned error via errors.Is against the sentinels in this package; a
// fatal host error is reported by returning an error built with
// scheduler.WrapFatalHostError.
type InvocationRunner interface {
	Invoke(ctx context.Context, h device.Handle, cfg Config, resched Rescheduler, listener CompletionListener) error
}

// CommandOptions exposes the subset of a parsed Config relevant to
// scheduling (spec.md §6.2).
type CommandOptions interface {
	IsHelpMode() bool
	IsFullHelpMode() bool
	IsDryRunMode() bool
	IsNoisyDryRunMode() bool
	IsLoopMode() bool
	GetMinLoopTime() time.Duration
	RunOnAllDevices() bool
	// WithLoopModeCleared returns a copy with loop mode forced off, used
	// when re-enqueuing a looped command's fresh execution.
	WithLoopModeCleared() CommandOptions
}

// Config is a parsed configuration produced by a ConfigFactory.
type Config interface {
	Validate() error
	CommandOptions() CommandOptions
	DeviceRequirements() DeviceRequirements
	// Args returns the argument vector this config was parsed from,
	// needed to re-parse on reschedule/loop.
	Args() []string
	// WithLoopModeCleared returns a copy of this Config with loop mode
	// forced off, used when a loop-mode command's fresh re-enqueue must
	// not cascade into another loop (spec.md §4.G step 2b).
	WithLoopModeCleared() Config
}

// ConfigFactory parses a command's argument vector into a Config.
type ConfigFactory interface {
	CreateConfigurationFromArgs(args []string) (Config, error)
}

// CommandAdder is the subset of the scheduler a CommandFileParser needs.
type CommandAdder interface {
	AddCommand(args []string, totalExecTime time.Duration) error
}

// CommandFileParser parses a command file and calls scheduler.AddCommand
// for each directive it contains.
type CommandFileParser interface {
	ParseFile(path string, scheduler CommandAdder, extraArgs []string) error
}
