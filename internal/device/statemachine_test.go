package device_test

import (
	"errors"
	"testing"

	"github.com/fleetharness/scheduler/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_AllocateFreeCycle(t *testing.T) {
	state := device.StateAvailable

	state, err := device.Transition(state, device.EventAllocateRequest)
	require.NoError(t, err)
	assert.Equal(t, device.StateAllocated, state)

	state, err = device.Transition(state, device.EventForFreeState(device.FreeAvailable))
	require.NoError(t, err)
	assert.Equal(t, device.StateAvailable, state)
}

func TestTransition_UnmappedPairIsReported(t *testing.T) {
	_, err := device.Transition(device.StateUnknown, device.EventAllocateRequest)
	require.Error(t, err)

	var invalid *device.ErrInvalidTransition
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, device.StateUnknown, invalid.State)
	assert.Equal(t, device.EventAllocateRequest, invalid.Event)
}

func TestEventForFreeState_MapsEveryFreeState(t *testing.T) {
	cases := map[device.FreeState]device.Event{
		device.FreeAvailable:    device.EventFreeAvailable,
		device.FreeUnresponsive: device.EventFreeUnresponsive,
		device.FreeUnavailable:  device.EventFreeUnavailable,
		device.FreeIgnore:       device.EventFreeUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, device.EventForFreeState(in))
	}
}

func TestStateMachine_AppliesAndHoldsState(t *testing.T) {
	m := device.NewStateMachine()
	assert.Equal(t, device.StateUnknown, m.State())

	_, err := m.Apply(device.EventConnectedOnline)
	require.NoError(t, err)
	assert.Equal(t, device.StateCheckingAvailability, m.State())

	_, err = m.Apply(device.EventAvailableCheckPassed)
	require.NoError(t, err)
	assert.Equal(t, device.StateAvailable, m.State())

	before := m.State()
	_, err = m.Apply(device.EventAvailableCheckPassed)
	require.Error(t, err)
	assert.Equal(t, before, m.State(), "state must not change on invalid transition")
}
