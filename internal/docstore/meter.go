package docstore

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Request charges per document, in request units.
const (
	ReadCharge  = 1
	WriteCharge = 5
)

// DefaultThroughput is the throughput given to collections created without one.
const DefaultThroughput = 400

// Meter enforces provisioned throughput per collection with a token bucket refilled at the
// provisioned rate. A call whose charge is not immediately available is rejected with a
// throttle error advertising how long until it would be.
type Meter struct {
	mu       sync.Mutex
	limiters map[CollectionLink]*rate.Limiter
	now      func() time.Time
}

// NewMeter returns a Meter with no provisioned collections. Unprovisioned collections are not metered.
func NewMeter() *Meter {
	return &Meter{limiters: make(map[CollectionLink]*rate.Limiter), now: time.Now}
}

// Provision sets the throughput of link. Non-positive throughput removes metering.
func (m *Meter) Provision(link CollectionLink, throughput int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if throughput <= 0 {
		delete(m.limiters, link)
		return
	}
	// A new bucket starts full at the new burst size.
	m.limiters[link] = rate.NewLimiter(rate.Limit(throughput), throughput)
}

// Provisioned reports whether link is metered.
func (m *Meter) Provisioned(link CollectionLink) bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.limiters[link]
	return ok
}

// Charge consumes units for op against link, or returns a throttle error.
// Charges larger than the bucket are clamped to it so a single call can always proceed eventually.
func (m *Meter) Charge(op string, link CollectionLink, units int) error {
	if m == nil || units <= 0 {
		return nil
	}
	m.mu.Lock()
	l, ok := m.limiters[link]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if b := l.Burst(); units > b {
		units = b
	}
	now := m.now()
	r := l.ReserveN(now, units)
	if !r.OK() {
		return Throttled(op, time.Second)
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return Throttled(op, d)
	}
	return nil
}
