package device_test

import (
	"testing"
	"time"

	"github.com/fleetharness/scheduler/internal/device"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUtilizationMonitor_EmptyHistoryIsZero(t *testing.T) {
	m := device.NewUtilizationMonitor()
	stats := m.GetUtilizationStats()
	assert.Equal(t, 0, stats.Total)
	assert.Empty(t, stats.PerDevice)
}

func TestUtilizationMonitor_ContinuouslyAllocatedIsHundred(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := device.NewUtilizationMonitor(device.WithClock(clock))

	m.EnterAllocated("d1", false, "")
	clock.Advance(12 * time.Hour)

	stats := m.GetUtilizationStats()
	require.Contains(t, stats.PerDevice, "d1")
	assert.Equal(t, 100, stats.PerDevice["d1"])
	assert.Equal(t, 100, stats.Total)
}

func TestUtilizationMonitor_AlternatingEquallyIsFifty(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := device.NewUtilizationMonitor(device.WithClock(clock))

	m.EnterAvailable("d1", false, "")
	clock.Advance(6 * time.Hour)
	m.EnterAllocated("d1", false, "")
	clock.Advance(6 * time.Hour)
	m.EnterAvailable("d1", false, "")
	clock.Advance(6 * time.Hour)
	m.EnterAllocated("d1", false, "")
	clock.Advance(6 * time.Hour)

	stats := m.GetUtilizationStats()
	assert.Equal(t, 50, stats.PerDevice["d1"])
	assert.Equal(t, 50, stats.Total)
}

func TestUtilizationMonitor_ExpiredRecordsAreEvicted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := device.NewUtilizationMonitor(device.WithClock(clock))

	m.EnterAllocated("d1", false, "")
	clock.Advance(1 * time.Hour)
	m.EnterAvailable("d1", false, "")
	// Push the entire first window far outside the 24h sliding window.
	clock.Advance(device.Window + time.Hour)

	stats := m.GetUtilizationStats()
	// Only the open Available record (pinned to "now") remains relevant.
	assert.Equal(t, 0, stats.PerDevice["d1"])
}

func TestUtilizationMonitor_StubPolicyIgnore(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := device.NewUtilizationMonitor(device.WithClock(clock), device.WithStubPolicy(device.StubIgnore))
	m.EnterAllocated("emu1", true, "emulator")
	clock.Advance(time.Hour)

	stats := m.GetUtilizationStats()
	assert.NotContains(t, stats.PerDevice, "emu1")
}

func TestUtilizationMonitor_StubPolicyIncludeIfUsed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := device.NewUtilizationMonitor(device.WithClock(clock), device.WithStubPolicy(device.StubIncludeIfUsed))

	// Not yet used: excluded.
	m.EnterAvailable("emu1", true, "emulator")
	clock.Advance(time.Hour)
	stats := m.GetUtilizationStats()
	assert.NotContains(t, stats.PerDevice, "emu1")

	// Same category allocated at least once: now included.
	m.EnterAllocated("emu2", true, "emulator")
	clock.Advance(time.Hour)
	stats = m.GetUtilizationStats()
	assert.Contains(t, stats.PerDevice, "emu1")
	assert.Contains(t, stats.PerDevice, "emu2")
}
