package remote

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fleetharness/scheduler/internal/remote/wire"
)

// Client is the remote client (spec.md §4.F): a synchronous request/
// response connection to a remote manager, one method per operation,
// sends serialized by mu so the underlying socket is always held
// exclusively by a single in-flight request.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	enc     *wire.Encoder
	dec     *wire.Decoder
	timeout time.Duration
}

// Dial connects to a remote manager at addr (host:port).
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		enc:     wire.NewEncoder(conn),
		dec:     wire.NewDecoder(conn),
		timeout: timeout,
	}, nil
}

func (c *Client) roundTrip(req wire.Request) (wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		deadline := time.Now().Add(c.timeout)
		_ = c.conn.SetDeadline(deadline)
	}
	if err := c.enc.EncodeRequest(req); err != nil {
		return wire.Response{}, err
	}
	resp, err := c.dec.DecodeResponse()
	if err != nil {
		return wire.Response{}, fmt.Errorf("remote: %s: %w", req.Type, err)
	}
	if !resp.Ok() {
		return resp, fmt.Errorf("remote: %s: %s", req.Type, resp.Error)
	}
	return resp, nil
}

func ackBool(resp wire.Response) bool { return resp.Ack != nil && *resp.Ack }

// SendAllocateDevice requests the peer force-allocate serial.
func (c *Client) SendAllocateDevice(serial string) (bool, error) {
	resp, err := c.roundTrip(wire.Request{Type: wire.OpAllocateDevice, Serial: serial})
	if err != nil {
		return false, err
	}
	return ackBool(resp), nil
}

// SendFreeDevice requests the peer free serial (or wire.AllDevicesSerial
// for every device).
func (c *Client) SendFreeDevice(serial string) (bool, error) {
	resp, err := c.roundTrip(wire.Request{Type: wire.OpFreeDevice, Serial: serial})
	if err != nil {
		return false, err
	}
	return ackBool(resp), nil
}

// SendClose asks the peer to end this client session. The peer's remote
// manager itself keeps running and accepts new connections.
func (c *Client) SendClose() error {
	_, err := c.roundTrip(wire.Request{Type: wire.OpClose})
	return err
}

// SendAddCommand requests the peer enqueue args with the given
// accumulated execution time as its starting priority key.
func (c *Client) SendAddCommand(totalExecTime time.Duration, args []string) (bool, error) {
	resp, err := c.roundTrip(wire.Request{
		Type:        wire.OpAddCommand,
		TimeMs:      float64(totalExecTime.Milliseconds()),
		CommandArgs: args,
	})
	if err != nil {
		return false, err
	}
	return ackBool(resp), nil
}

// SendHandoverClose asks the peer to hand over its allocated devices and
// pending commands to the scheduler listening on port, then shut down.
func (c *Client) SendHandoverClose(port int) (bool, error) {
	resp, err := c.roundTrip(wire.Request{Type: wire.OpHandoverClose, Port: port})
	if err != nil {
		return false, err
	}
	return ackBool(resp), nil
}

// SendListDevices fetches the peer's current fleet snapshot.
func (c *Client) SendListDevices() ([]wire.DeviceSummary, error) {
	resp, err := c.roundTrip(wire.Request{Type: wire.OpListDevices})
	if err != nil {
		return nil, err
	}
	return resp.Serials, nil
}

// SendExecCommand requests the peer run args immediately against serial,
// which must already be Allocate'd in that session.
func (c *Client) SendExecCommand(serial string, args []string) (bool, error) {
	resp, err := c.roundTrip(wire.Request{Type: wire.OpExecCommand, Serial: serial, CommandArgs: args})
	if err != nil {
		return false, err
	}
	return ackBool(resp), nil
}

// SendGetLastCommandResult fetches the terminal result of the most
// recent invocation on serial.
func (c *Client) SendGetLastCommandResult(serial string) (wire.Response, error) {
	return c.roundTrip(wire.Request{Type: wire.OpGetLastCommandResult, Serial: serial})
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
