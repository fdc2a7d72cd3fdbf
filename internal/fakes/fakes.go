// Package fakes provides hand-rolled test doubles for the internal/ports
// collaborator interfaces, in the same mutex-guarded mock-struct style as
// the teacher's client/doublezerod/internal/manager/reconciler_test.go
// (mockFetcher, mockNetlink, mockDb).
package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetharness/scheduler/internal/device"
	"github.com/fleetharness/scheduler/internal/ports"
)

// Handle is a trivial device.Handle for tests.
type Handle struct{ SerialValue string }

// Serial implements device.Handle.
func (h Handle) Serial() string { return h.SerialValue }

// DeviceManager is a fake ports.DeviceManager backed by an in-memory
// fleet. Every device starts Available; AllocateDevice hands out the
// first serial not already on loan.
type DeviceManager struct {
	mu sync.Mutex

	descriptors []device.Descriptor
	onLoan      map[string]bool
	nullSerials map[string]bool
	emuSerials  map[string]bool

	AllocateErr error // if set, AllocateDevice always fails with this
	Calls       int
}

// NewDeviceManager constructs a fake fleet from serials, all initially
// Available and non-stub.
func NewDeviceManager(serials ...string) *DeviceManager {
	m := &DeviceManager{
		onLoan:      make(map[string]bool),
		nullSerials: make(map[string]bool),
		emuSerials:  make(map[string]bool),
	}
	for _, s := range serials {
		m.descriptors = append(m.descriptors, device.Descriptor{Serial: s, State: device.StateAvailable})
	}
	return m
}

// MarkNull flags serial as a null device for utilization accounting.
func (m *DeviceManager) MarkNull(serial string) { m.mu.Lock(); m.nullSerials[serial] = true; m.mu.Unlock() }

// MarkEmulator flags serial as an emulator for utilization accounting.
func (m *DeviceManager) MarkEmulator(serial string) {
	m.mu.Lock()
	m.emuSerials[serial] = true
	m.mu.Unlock()
}

func (m *DeviceManager) AllocateDevice(_ context.Context, _ time.Duration, reqs ports.DeviceRequirements) (device.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.AllocateErr != nil {
		return nil, m.AllocateErr
	}
	for _, d := range m.descriptors {
		if m.onLoan[d.Serial] {
			continue
		}
		if reqs.Serial != "" && reqs.Serial != d.Serial {
			continue
		}
		m.onLoan[d.Serial] = true
		return Handle{SerialValue: d.Serial}, nil
	}
	return nil, nil
}

func (m *DeviceManager) ForceAllocateDevice(serial string) (device.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.descriptors {
		if d.Serial == serial {
			m.onLoan[serial] = true
			return Handle{SerialValue: serial}, nil
		}
	}
	return nil, fmt.Errorf("fakes: unknown serial %q", serial)
}

func (m *DeviceManager) FreeDevice(h device.Handle, _ device.FreeState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.onLoan, h.Serial())
}

func (m *DeviceManager) ListAllDevices() []device.Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.Descriptor, len(m.descriptors))
	copy(out, m.descriptors)
	return out
}

func (m *DeviceManager) IsNullDevice(serial string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nullSerials[serial]
}

func (m *DeviceManager) IsEmulator(serial string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emuSerials[serial]
}

func (m *DeviceManager) Init() error          { return nil }
func (m *DeviceManager) Terminate() error     { return nil }
func (m *DeviceManager) TerminateHard() error { return nil }

// InvocationRunner is a fake ports.InvocationRunner. Fn, if set, is
// called for every Invoke; otherwise Invoke reports success immediately.
type InvocationRunner struct {
	mu    sync.Mutex
	calls int

	Fn func(ctx context.Context, h device.Handle, cfg ports.Config, resched ports.Rescheduler, listener ports.CompletionListener) error
}

func (r *InvocationRunner) Invoke(ctx context.Context, h device.Handle, cfg ports.Config, resched ports.Rescheduler, listener ports.CompletionListener) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.Fn != nil {
		return r.Fn(ctx, h, cfg, resched, listener)
	}
	listener.InvocationComplete(h, device.FreeAvailable)
	return nil
}

func (r *InvocationRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// CommandOptions is a fake ports.CommandOptions with every mode flag
// false by default.
type CommandOptions struct {
	HelpMode     bool
	FullHelpMode bool
	DryRunMode   bool
	NoisyDryRun  bool
	LoopMode     bool
	MinLoopTime  time.Duration
	AllDevices   bool
}

func (o CommandOptions) IsHelpMode() bool              { return o.HelpMode }
func (o CommandOptions) IsFullHelpMode() bool           { return o.FullHelpMode }
func (o CommandOptions) IsDryRunMode() bool             { return o.DryRunMode }
func (o CommandOptions) IsNoisyDryRunMode() bool        { return o.NoisyDryRun }
func (o CommandOptions) IsLoopMode() bool               { return o.LoopMode }
func (o CommandOptions) GetMinLoopTime() time.Duration  { return o.MinLoopTime }
func (o CommandOptions) RunOnAllDevices() bool          { return o.AllDevices }
func (o CommandOptions) WithLoopModeCleared() ports.CommandOptions {
	o.LoopMode = false
	return o
}

// Config is a fake ports.Config.
type Config struct {
	Opts        CommandOptions
	Reqs        ports.DeviceRequirements
	ArgsValue   []string
	ValidateErr error
}

func (c Config) Validate() error                              { return c.ValidateErr }
func (c Config) CommandOptions() ports.CommandOptions          { return c.Opts }
func (c Config) DeviceRequirements() ports.DeviceRequirements  { return c.Reqs }
func (c Config) Args() []string                                { return c.ArgsValue }
func (c Config) WithLoopModeCleared() ports.Config {
	c.Opts = c.Opts.WithLoopModeCleared().(CommandOptions)
	return c
}

// ConfigFactory is a fake ports.ConfigFactory. Fn, if set, overrides the
// default behavior of returning a Config{ArgsValue: args}.
type ConfigFactory struct {
	Fn  func(args []string) (ports.Config, error)
	Err error
}

func (f *ConfigFactory) CreateConfigurationFromArgs(args []string) (ports.Config, error) {
	if f.Fn != nil {
		return f.Fn(args)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	serial := ""
	for i, a := range args {
		if a == "--serial" && i+1 < len(args) {
			serial = args[i+1]
		}
	}
	return Config{ArgsValue: args, Reqs: ports.DeviceRequirements{Serial: serial}}, nil
}

// CommandFileParser is a fake ports.CommandFileParser recording every
// ParseFile call.
type CommandFileParser struct {
	mu    sync.Mutex
	Calls []string
	Fn    func(path string, scheduler ports.CommandAdder, extraArgs []string) error
}

func (p *CommandFileParser) ParseFile(path string, scheduler ports.CommandAdder, extraArgs []string) error {
	p.mu.Lock()
	p.Calls = append(p.Calls, path)
	p.mu.Unlock()
	if p.Fn != nil {
		return p.Fn(path, scheduler, extraArgs)
	}
	return nil
}
