package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the interface we use for time operations.
// In production, use New(clockwork.NewRealClock()). In tests, wrap a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
	NewTimer(d time.Duration) clockwork.Timer
}

// Monotonic never reports a time earlier than one it already returned, even if the
// underlying wall clock is stepped backwards. It does not try to track server time:
// deadlines are absolute server timestamps compared against local Now, and a few
// seconds of skew is accepted.
type Monotonic struct {
	base clockwork.Clock

	mu   sync.Mutex
	last time.Time
}

// New wraps base in a Monotonic clock.
func New(base clockwork.Clock) *Monotonic {
	return &Monotonic{base: base}
}

// NewReal returns a monotonic clock backed by the system clock.
func NewReal() *Monotonic {
	return New(clockwork.NewRealClock())
}

func (m *Monotonic) Now() time.Time {
	now := m.base.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}

func (m *Monotonic) NewTicker(d time.Duration) clockwork.Ticker {
	return m.base.NewTicker(d)
}

func (m *Monotonic) NewTimer(d time.Duration) clockwork.Timer {
	return m.base.NewTimer(d)
}

// StopAndDrain stops a timer and drains its channel so a late fire is not observed.
func StopAndDrain(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
