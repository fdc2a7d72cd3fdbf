package device

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Window is the sliding window over which utilization is computed
// (spec.md §4.C, W = 86_400_000 ms).
const Window = 24 * time.Hour

// StubPolicy controls whether a stub (null/emulator) device's records are
// folded into utilization stats (spec.md §4.C).
type StubPolicy int

const (
	StubIgnore StubPolicy = iota
	StubIncludeIfUsed
	StubAlwaysInclude
)

// StateRecord is one open or closed interval of either "available" or
// "allocated" time for a device (spec.md §3). Ordered by StartTime;
// EndTime is zero iff the record is the last (pending) one in its list
// (invariant UM-1).
type StateRecord struct {
	StartTime time.Time
	EndTime   time.Time // zero value means "still open"
}

func (r StateRecord) open() bool { return r.EndTime.IsZero() }

// clip returns the portion of r that falls within [from, to), and whether
// any of it does.
func (r StateRecord) clip(from, to time.Time, now time.Time) (time.Duration, bool) {
	start := r.StartTime
	end := r.EndTime
	if end.IsZero() {
		end = now
	}
	if end.Before(from) || !start.Before(to) {
		return 0, false
	}
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return 0, false
	}
	return end.Sub(start), true
}

type deviceHistory struct {
	isStub     bool
	category   string // product/variant grouping used by StubIncludeIfUsed
	everUsed   bool   // has this device itself ever been Allocated
	available  []StateRecord
	allocated  []StateRecord
}

// UtilizationMonitor observes device allocation transitions and answers
// sliding-window utilization queries (spec.md §4.C). All public methods
// are synchronized against event ingress so readers see a coherent
// snapshot.
type UtilizationMonitor struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	policy     StubPolicy
	devices    map[string]*deviceHistory
	usedByCat  map[string]bool // category -> has any same-category stub ever been allocated

	metrics *utilizationMetrics
}

// Option configures a UtilizationMonitor.
type Option func(*UtilizationMonitor)

// WithClock overrides the clock used for "now" (tests use a fake clock).
func WithClock(c clockwork.Clock) Option {
	return func(m *UtilizationMonitor) { m.clock = c }
}

// WithStubPolicy sets how stub devices are folded into aggregate stats.
func WithStubPolicy(p StubPolicy) Option {
	return func(m *UtilizationMonitor) { m.policy = p }
}

// NewUtilizationMonitor constructs a monitor with real time by default.
func NewUtilizationMonitor(opts ...Option) *UtilizationMonitor {
	m := &UtilizationMonitor{
		clock:     clockwork.NewRealClock(),
		policy:    StubIgnore,
		devices:   make(map[string]*deviceHistory),
		usedByCat: make(map[string]bool),
	}
	for _, o := range opts {
		o(m)
	}
	m.metrics = newUtilizationMetrics()
	return m
}

func (m *UtilizationMonitor) historyFor(serial string, isStub bool, category string) *deviceHistory {
	h, ok := m.devices[serial]
	if !ok {
		h = &deviceHistory{isStub: isStub, category: category}
		m.devices[serial] = h
	}
	return h
}

// EnterAvailable records that serial has become Available as of now,
// closing any open Allocated record.
func (m *UtilizationMonitor) EnterAvailable(serial string, isStub bool, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	h := m.historyFor(serial, isStub, category)
	closeOpen(&h.allocated, now)
	h.available = append(h.available, StateRecord{StartTime: now})
}

// EnterAllocated records that serial has become Allocated as of now,
// closing any open Available record.
func (m *UtilizationMonitor) EnterAllocated(serial string, isStub bool, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	h := m.historyFor(serial, isStub, category)
	closeOpen(&h.available, now)
	h.allocated = append(h.allocated, StateRecord{StartTime: now})
	h.everUsed = true
	if category != "" {
		m.usedByCat[category] = true
	}
}

func closeOpen(records *[]StateRecord, now time.Time) {
	n := len(*records)
	if n == 0 {
		return
	}
	last := &(*records)[n-1]
	if last.open() {
		last.EndTime = now
	}
}

// Stats is the result of GetUtilizationStats: total utilization plus a
// per-device breakdown, expressed as integers in [0, 100].
type Stats struct {
	Total     int
	PerDevice map[string]int
}

// GetUtilizationStats walks the 24h sliding window ending now, evicting
// fully-expired records, and returns per-device and aggregate utilization
// percentages (spec.md §4.C).
func (m *UtilizationMonitor) GetUtilizationStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	from := now.Add(-Window)

	var totalAlloc, totalAvail time.Duration
	perDevice := make(map[string]int)

	for serial, h := range m.devices {
		evictExpired(&h.available, from)
		evictExpired(&h.allocated, from)

		if h.isStub {
			switch m.policy {
			case StubIgnore:
				continue
			case StubIncludeIfUsed:
				if !m.usedByCat[h.category] {
					continue
				}
			case StubAlwaysInclude:
				// included unconditionally
			}
		}

		var alloc, avail time.Duration
		for _, r := range h.allocated {
			if d, ok := r.clip(from, now, now); ok {
				alloc += d
			}
		}
		for _, r := range h.available {
			if d, ok := r.clip(from, now, now); ok {
				avail += d
			}
		}

		total := alloc + avail
		pct := 0
		if total > 0 {
			pct = int(alloc * 100 / total)
		}
		perDevice[serial] = pct
		m.metrics.perDevice.WithLabelValues(serial).Set(float64(pct))

		totalAlloc += alloc
		totalAvail += avail
	}

	totalPct := 0
	if totalAlloc+totalAvail > 0 {
		totalPct = int(totalAlloc * 100 / (totalAlloc + totalAvail))
	}
	m.metrics.total.Set(float64(totalPct))

	return Stats{Total: totalPct, PerDevice: perDevice}
}

// evictExpired discards every record at the front of records whose
// EndTime is before the window start, relying on UM-1's guarantee that
// records are strictly ordered by StartTime and only the last may be
// open.
func evictExpired(records *[]StateRecord, windowStart time.Time) {
	rs := *records
	i := 0
	for i < len(rs) {
		if rs[i].open() || rs[i].EndTime.After(windowStart) || rs[i].EndTime.Equal(windowStart) {
			break
		}
		i++
	}
	if i > 0 {
		*records = append([]StateRecord(nil), rs[i:]...)
	}
}
