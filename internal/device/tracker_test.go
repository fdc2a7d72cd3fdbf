package device_test

import (
	"sync"
	"testing"

	"github.com/fleetharness/scheduler/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{ serial string }

func (h fakeHandle) Serial() string { return h.serial }

func TestTracker_AllocateFreeRoundTrip(t *testing.T) {
	tr := device.NewTracker()
	tr.Allocate(fakeHandle{"s1"})
	require.True(t, tr.Has("s1"))
	require.Equal(t, 1, tr.Len())

	h := tr.Free("s1")
	require.NotNil(t, h)
	assert.Equal(t, "s1", h.Serial())
	assert.False(t, tr.Has("s1"))
}

func TestTracker_FreeAbsentReturnsNil(t *testing.T) {
	tr := device.NewTracker()
	assert.Nil(t, tr.Free("nope"))
}

func TestTracker_AllocateOverwritesSilently(t *testing.T) {
	tr := device.NewTracker()
	tr.Allocate(fakeHandle{"s1"})
	tr.Allocate(fakeHandle{"s1"})
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_FreeAllDrainsAtomically(t *testing.T) {
	tr := device.NewTracker()
	tr.Allocate(fakeHandle{"s1"})
	tr.Allocate(fakeHandle{"s2"})

	all := tr.FreeAll()
	assert.Len(t, all, 2)
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := device.NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := fakeHandle{serial: "s"}
			tr.Allocate(s)
			tr.Free("s")
		}(i)
	}
	wg.Wait()
}
