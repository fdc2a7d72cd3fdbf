// Package remote implements the remote manager and remote client
// (spec.md §4.E, §4.F): a single-client-at-a-time JSON-over-TCP control
// plane in front of the command scheduler.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fleetharness/scheduler/internal/device"
	"github.com/fleetharness/scheduler/internal/execution"
	"github.com/fleetharness/scheduler/internal/ports"
	"github.com/fleetharness/scheduler/internal/remote/wire"
	"github.com/fleetharness/scheduler/internal/scheduler"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
)

// SchedulerAPI is the subset of *scheduler.Scheduler the remote manager
// drives, narrowed to an interface so handler logic can be tested
// against a fake (spec.md §4.J style: narrow interfaces over hand-rolled
// fakes, the same shape as the teacher's manager.Fetcher/BGPServer).
type SchedulerAPI interface {
	AddCommand(args []string, totalExecTime time.Duration) error
	ExecCommand(listener ports.CompletionListener, h device.Handle, args []string) error
	GetLastCommandResult(serial string) (execution.Result, bool)
	HandoverShutdown(client scheduler.HandoverClient, extraAllocated []string) error
	Shutdown()
}

const (
	defaultAcceptTimeout   = 5 * time.Second
	defaultDescriptorCache = 2 * time.Second
	defaultAddr            = ":30103"
)

// Options configures a Manager.
type Options struct {
	Addr               string
	DeviceManager      ports.DeviceManager
	Scheduler          SchedulerAPI
	Clock              clockwork.Clock
	AcceptTimeout      time.Duration
	AutoHandover       bool
	DescriptorCacheTTL time.Duration
}

// Manager is the remote manager (spec.md §4.E).
type Manager struct {
	addr          string
	deviceManager ports.DeviceManager
	scheduler     SchedulerAPI
	clock         clockwork.Clock
	acceptTimeout time.Duration
	autoHandover  bool

	tracker *device.Tracker
	cache   *ttlcache.Cache[string, []device.Descriptor]
	metrics *managerMetrics

	sem chan struct{} // capacity 1: enforces "at most one client at a time"

	boundAddr atomic.Value // net.Addr, set once Serve has bound its listener
}

// New constructs a Manager. It does not bind a listener until Serve is
// called.
func New(opts Options) *Manager {
	addr := opts.Addr
	if addr == "" {
		addr = defaultAddr
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	acceptTimeout := opts.AcceptTimeout
	if acceptTimeout <= 0 {
		acceptTimeout = defaultAcceptTimeout
	}
	cacheTTL := opts.DescriptorCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultDescriptorCache
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, []device.Descriptor](cacheTTL),
	)
	go cache.Start()

	return &Manager{
		addr:          addr,
		deviceManager: opts.DeviceManager,
		scheduler:     opts.Scheduler,
		clock:         clock,
		acceptTimeout: acceptTimeout,
		autoHandover:  opts.AutoHandover,
		tracker:       device.NewTracker(),
		cache:         cache,
		metrics:       newManagerMetrics(),
		sem:           make(chan struct{}, 1),
	}
}

// Serve binds the configured address (performing auto-handover retry if
// the port is busy) and runs the accept loop until ctx is cancelled. On
// return every device this process was tracking on behalf of a remote
// peer has been freed back to the device manager as Available (spec.md
// §4.E shutdown).
func (m *Manager) Serve(ctx context.Context) error {
	ln, err := m.bind(ctx)
	if err != nil {
		return err
	}
	m.boundAddr.Store(ln.Addr())
	defer ln.Close()
	defer m.cache.Stop()
	defer m.freeAllTracked()

	tcpLn, isTCP := ln.(*net.TCPListener)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if isTCP {
			_ = tcpLn.SetDeadline(m.clock.Now().Add(m.acceptTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("remote: accept: %w", err)
		}

		select {
		case m.sem <- struct{}{}:
			m.metrics.sessionsActive.Set(1)
			go func() {
				defer func() {
					<-m.sem
					m.metrics.sessionsActive.Set(0)
				}()
				m.handleSession(ctx, conn)
			}()
		default:
			// Already serving a client; refuse the extra connection
			// (spec.md §4.E: "at most one client at a time").
			conn.Close()
		}
	}
}

// bind opens the configured address, retrying with exponential backoff
// through auto-handover if it's busy (spec.md §4.E step 1). Grounded on
// the teacher's gnmitunnel reconnect loop
// (controlplane/telemetry/internal/gnmitunnel/client.go), which uses the
// same backoff/v4 policy shape for a different kind of connection retry.
func (m *Manager) bind(ctx context.Context) (net.Listener, error) {
	ln, err := net.Listen("tcp", m.addr)
	if err == nil {
		return ln, nil
	}
	if !isAddrInUse(err) {
		return nil, fmt.Errorf("remote: listen %s: %w", m.addr, err)
	}
	if !m.autoHandover {
		return nil, fmt.Errorf("remote: %s busy and auto-handover disabled: %w", m.addr, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := m.requestHandoverFromOccupant(ctx); err != nil {
			slog.Warn("remote: handover request to occupant failed", "addr", m.addr, "error", err)
		}

		if ln, err := net.Listen("tcp", m.addr); err == nil {
			return ln, nil
		}

		wait := bo.NextBackOff()
		m.metrics.bindRetries.Inc()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.clock.After(wait):
		}
	}
}

// requestHandoverFromOccupant stands up a temporary listener to receive
// the occupant's handover, asks the occupant (via HANDOVER_CLOSE) to
// hand its state over to that listener, then waits for the occupant's
// Close before returning so bind's next Listen attempt lands on a freed
// port.
func (m *Manager) requestHandoverFromOccupant(ctx context.Context) error {
	tmp, err := net.Listen("tcp", ":0")
	if err != nil {
		return fmt.Errorf("remote: handover staging listener: %w", err)
	}
	defer tmp.Close()
	tmpPort := tmp.Addr().(*net.TCPAddr).Port

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := tmp.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		m.handleSession(ctx, conn)
	}()

	client, err := Dial(m.addr, 2*time.Second)
	if err != nil {
		return fmt.Errorf("remote: connect to occupant: %w", err)
	}
	defer client.Close()

	ok, err := client.SendHandoverClose(tmpPort)
	if err != nil {
		return fmt.Errorf("remote: send handover_close: %w", err)
	}
	if !ok {
		return errors.New("remote: occupant refused handover")
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LocalAddr returns the address Serve bound, or nil before Serve has
// bound a listener. Useful for tests and for an ephemeral-port (":0")
// boot configuration that needs to learn its assigned port.
func (m *Manager) LocalAddr() net.Addr {
	addr, _ := m.boundAddr.Load().(net.Addr)
	return addr
}

func isAddrInUse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "address already in use")
}

// handleSession processes request lines from one client connection until
// it disconnects, a CLOSE is received, a line fails to decode, or ctx is
// cancelled. A protocol-version mismatch is answered with an error
// response before the session ends; other undecodable lines end it
// without a response.
func (m *Manager) handleSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	enc := wire.NewEncoder(conn)
	dec := wire.NewDecoder(conn)

	for {
		if ctx.Err() != nil {
			return
		}
		req, err := dec.DecodeRequest()
		if err != nil {
			if errors.Is(err, wire.ErrVersionMismatch) {
				_ = enc.EncodeResponse(wire.NewErrorResponse(err.Error()))
			}
			return
		}

		resp := m.dispatch(req)
		if err := enc.EncodeResponse(resp); err != nil {
			return
		}
		if req.Type == wire.OpClose {
			return
		}
	}
}

func (m *Manager) dispatch(req wire.Request) wire.Response {
	var resp wire.Response
	switch req.Type {
	case wire.OpAllocateDevice:
		resp = m.handleAllocate(req.Serial)
	case wire.OpFreeDevice:
		resp = m.handleFree(req.Serial)
	case wire.OpClose:
		resp = wire.NewAck(true)
	case wire.OpAddCommand:
		resp = m.handleAddCommand(req.TimeMs, req.CommandArgs)
	case wire.OpHandoverClose:
		resp = m.handleHandoverClose(req.Port)
	case wire.OpListDevices:
		resp = m.handleListDevices()
	case wire.OpExecCommand:
		resp = m.handleExecCommand(req.Serial, req.CommandArgs)
	case wire.OpGetLastCommandResult:
		resp = m.handleGetLastCommandResult(req.Serial)
	default:
		resp = wire.NewErrorResponse(fmt.Sprintf("unknown operation %q", req.Type))
	}

	outcome := "ok"
	if !resp.Ok() {
		outcome = "error"
	}
	m.metrics.requestsTotal.WithLabelValues(string(req.Type), outcome).Inc()
	return resp
}

func (m *Manager) handleAllocate(serial string) wire.Response {
	h, err := m.deviceManager.ForceAllocateDevice(serial)
	if err != nil || h == nil {
		return wire.NewAck(false)
	}
	m.tracker.Allocate(h)
	m.metrics.devicesTracked.Set(float64(m.tracker.Len()))
	return wire.NewAck(true)
}

func (m *Manager) handleFree(serial string) wire.Response {
	var freed []device.Handle
	if serial == wire.AllDevicesSerial {
		freed = m.tracker.FreeAll()
	} else if h := m.tracker.Free(serial); h != nil {
		freed = []device.Handle{h}
	}
	for _, h := range freed {
		m.deviceManager.FreeDevice(h, device.FreeAvailable)
	}
	m.metrics.devicesTracked.Set(float64(m.tracker.Len()))
	return wire.NewAck(len(freed) > 0)
}

func (m *Manager) handleAddCommand(timeMs float64, args []string) wire.Response {
	err := m.scheduler.AddCommand(args, time.Duration(timeMs)*time.Millisecond)
	return wire.NewAck(err == nil)
}

func (m *Manager) handleHandoverClose(port int) wire.Response {
	client, err := Dial(fmt.Sprintf("127.0.0.1:%d", port), 5*time.Second)
	if err != nil {
		return wire.NewAck(false)
	}
	defer client.Close()

	// Devices this process force-allocated on behalf of a peer (Allocate
	// RPC, or ExecCommand-only sessions) never enter the scheduler's own
	// invocations map, so they must be replayed here alongside it (spec.md
	// §4.E: Allocate is sent for every serial in Allocated state).
	tracked := m.tracker.Serials()

	if err := m.scheduler.HandoverShutdown(client, tracked); err != nil {
		slog.Error("remote: handover shutdown reported errors", "error", err)
		return wire.NewAck(false)
	}

	// Ownership of these devices has transferred to the incoming process;
	// drain without freeing them back to Available.
	m.tracker.FreeAll()
	m.metrics.devicesTracked.Set(0)
	return wire.NewAck(true)
}

func (m *Manager) handleListDevices() wire.Response {
	descriptors := m.descriptorSnapshot()
	out := make([]wire.DeviceSummary, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, wire.DeviceSummary{Serial: d.Serial, State: d.State.String(), Variant: d.ProductVariant})
	}
	return wire.Response{Serials: out}
}

func (m *Manager) descriptorSnapshot() []device.Descriptor {
	const cacheKey = "fleet"
	if item := m.cache.Get(cacheKey); item != nil {
		return item.Value()
	}
	descriptors := m.deviceManager.ListAllDevices()
	m.cache.Set(cacheKey, descriptors, ttlcache.DefaultTTL)
	return descriptors
}

func (m *Manager) handleExecCommand(serial string, args []string) wire.Response {
	h, ok := m.tracker.Get(serial)
	if !ok {
		return wire.NewErrorResponse(fmt.Sprintf("remote: %s: %v", serial, scheduler.ErrNotAllocated))
	}
	if err := m.scheduler.ExecCommand(noopCompletionListener{}, h, args); err != nil {
		return wire.NewErrorResponse(err.Error())
	}
	return wire.NewAck(true)
}

func (m *Manager) handleGetLastCommandResult(serial string) wire.Response {
	result, ok := m.scheduler.GetLastCommandResult(serial)
	if !ok {
		if !m.tracker.Has(serial) {
			return wire.Response{Status: execution.StatusNotAllocated.String()}
		}
		return wire.Response{Status: execution.StatusNoActiveCommand.String()}
	}
	resp := wire.Response{Status: result.Status.String(), ErrorDetails: result.ErrorDetails}
	if result.HasFreeState {
		resp.FreeDeviceState = result.FreeState.String()
	}
	return resp
}

// freeAllTracked releases every device this process holds on behalf of a
// remote peer, back to the device manager as Available (spec.md §4.E
// shutdown).
func (m *Manager) freeAllTracked() {
	for _, h := range m.tracker.FreeAll() {
		m.deviceManager.FreeDevice(h, device.FreeAvailable)
	}
	m.metrics.devicesTracked.Set(0)
}

// noopCompletionListener discards ExecCommand completion notifications;
// the result is retrieved later via GetLastCommandResult instead of
// pushed back over this connection.
type noopCompletionListener struct{}

func (noopCompletionListener) InvocationComplete(device.Handle, device.FreeState) {}
func (noopCompletionListener) InvocationFailed(error)                            {}
