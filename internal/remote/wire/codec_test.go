package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// D-RT-1: decode(encode(op)) == op for every operation value.
func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{Type: OpAllocateDevice, Serial: "R3CT1001"},
		{Type: OpFreeDevice, Serial: AllDevicesSerial},
		{Type: OpClose},
		{Type: OpAddCommand, TimeMs: 1500, CommandArgs: []string{"run", "-s", "R3CT1001", "--test", "smoke"}},
		{Type: OpHandoverClose, Port: 30104},
		{Type: OpListDevices},
		{Type: OpExecCommand, Serial: "R3CT1001", CommandArgs: []string{"run", "--test", "smoke"}},
		{Type: OpGetLastCommandResult, Serial: "R3CT1001"},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		require.NoError(t, NewEncoder(&buf).EncodeRequest(want))

		got, err := NewDecoder(&buf).DecodeRequest()
		require.NoError(t, err)

		want.Version = ProtocolVersion
		require.Equal(t, want, got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []Response{
		NewAck(true),
		NewErrorResponse("unknown serial"),
		{Serials: []DeviceSummary{{Serial: "R3CT1001", State: "Available", Variant: "redfin"}}},
		{Status: "INVOCATION_ERROR", ErrorDetails: "boom", FreeDeviceState: "Unresponsive"},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		require.NoError(t, NewEncoder(&buf).EncodeResponse(want))

		got, err := NewDecoder(&buf).DecodeResponse()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestDecodeRequestVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).EncodeRequest(Request{Type: OpClose, Version: 99}))

	_, err := NewDecoder(&buf).DecodeRequest()
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestDecoderEOF(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader(nil)).DecodeRequest()
	require.ErrorIs(t, err, io.EOF)
}
