// Package device implements the device allocation state machine, the
// per-process device tracker, and the sliding-window utilization monitor.
package device

import "fmt"

// Handle is an opaque reference to a live device, borrowed from the
// external device manager. The core never owns device handles; it only
// holds them on behalf of a remote peer (see Tracker) or for the
// duration of a single invocation.
type Handle interface {
	Serial() string
}

// AllocationState mirrors the device manager's observable lifecycle for a
// device (spec.md §3, DeviceAllocationState).
type AllocationState int

const (
	StateUnknown AllocationState = iota
	StateCheckingAvailability
	StateAvailable
	StateAllocated
	StateUnavailable
	StateIgnored
)

func (s AllocationState) String() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateCheckingAvailability:
		return "Checking_Availability"
	case StateAvailable:
		return "Available"
	case StateAllocated:
		return "Allocated"
	case StateUnavailable:
		return "Unavailable"
	case StateIgnored:
		return "Ignored"
	default:
		return fmt.Sprintf("AllocationState(%d)", int(s))
	}
}

// FreeState is the state a device should transition into on release,
// chosen by the invocation based on outcome.
type FreeState int

const (
	FreeAvailable FreeState = iota
	FreeUnresponsive
	FreeUnavailable
	FreeIgnore
)

func (f FreeState) String() string {
	switch f {
	case FreeAvailable:
		return "Available"
	case FreeUnresponsive:
		return "Unresponsive"
	case FreeUnavailable:
		return "Unavailable"
	case FreeIgnore:
		return "Ignore"
	default:
		return fmt.Sprintf("FreeState(%d)", int(f))
	}
}

// Event drives the allocation state machine (spec.md §4.B).
type Event int

const (
	EventConnectedOnline Event = iota
	EventStateChangeOnline
	EventDisconnected
	EventForceAvailable
	EventAvailableCheckPassed
	EventAvailableCheckFailed
	EventAvailableCheckIgnored
	EventAllocateRequest
	EventForceAllocateRequest
	EventFreeAvailable
	EventFreeUnresponsive
	EventFreeUnavailable
	EventFreeUnknown
)

func (e Event) String() string {
	names := map[Event]string{
		EventConnectedOnline:       "CONNECTED_ONLINE",
		EventStateChangeOnline:     "STATE_CHANGE_ONLINE",
		EventDisconnected:          "DISCONNECTED",
		EventForceAvailable:        "FORCE_AVAILABLE",
		EventAvailableCheckPassed:  "AVAILABLE_CHECK_PASSED",
		EventAvailableCheckFailed:  "AVAILABLE_CHECK_FAILED",
		EventAvailableCheckIgnored: "AVAILABLE_CHECK_IGNORED",
		EventAllocateRequest:       "ALLOCATE_REQUEST",
		EventForceAllocateRequest:  "FORCE_ALLOCATE_REQUEST",
		EventFreeAvailable:         "FREE_AVAILABLE",
		EventFreeUnresponsive:      "FREE_UNRESPONSIVE",
		EventFreeUnavailable:       "FREE_UNAVAILABLE",
		EventFreeUnknown:           "FREE_UNKNOWN",
	}
	if n, ok := names[e]; ok {
		return n
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// EventForFreeState maps a FreeState to the event the state machine
// expects on release (spec.md §4.B).
func EventForFreeState(f FreeState) Event {
	switch f {
	case FreeAvailable:
		return EventFreeAvailable
	case FreeUnresponsive:
		return EventFreeUnresponsive
	case FreeUnavailable:
		return EventFreeUnavailable
	default:
		return EventFreeUnknown
	}
}

// Descriptor is a value-type snapshot of a device, produced on demand by
// the device manager and sent over the wire (spec.md §3, DeviceDescriptor).
type Descriptor struct {
	Serial         string          `json:"serial"`
	IsStub         bool            `json:"is_stub"`
	State          AllocationState `json:"state"`
	Product        string          `json:"product"`
	ProductVariant string          `json:"product_variant"`
	SdkVersion     string          `json:"sdk_version"`
	BuildID        string          `json:"build_id"`
	BatteryLevel   int             `json:"battery_level"`
}
