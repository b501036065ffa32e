package countdown

import (
	"time"

	"github.com/mcdev12/bidwatch/go/internal/models"
)

// DefaultClosingSoonThreshold is how close to EndsAt a lot is reported as closing.
const DefaultClosingSoonThreshold = 5 * time.Minute

// Phase is the countdown-derived stage of a lot.
type Phase string

const (
	PhaseOpen    Phase = "open"
	PhaseClosing Phase = "closing"
	PhaseEnded   Phase = "ended"
)

// Remaining is the result of a countdown computation.
type Remaining struct {
	SecondsLeft int   `json:"seconds_left"`
	Phase       Phase `json:"phase"`
}

// ComputeRemaining derives the time left for lot at now. It has no hidden state.
//
// Seconds are rounded up: 200ms left is shown as 1 second and 0 is reached exactly at EndsAt.
// A server-confirmed end always reports PhaseEnded regardless of the clock.
func ComputeRemaining(lot *models.TrackedLot, now time.Time, threshold time.Duration) Remaining {
	if lot.EndConfirmed || lot.EndsAt.IsZero() {
		return Remaining{SecondsLeft: 0, Phase: PhaseEnded}
	}

	left := lot.EndsAt.Sub(now)
	if left <= 0 {
		return Remaining{SecondsLeft: 0, Phase: PhaseEnded}
	}

	// left saturates at the maximum Duration for far-future deadlines, so round up
	// without adding to it.
	secs := left / time.Second
	if left%time.Second != 0 {
		secs++
	}
	if secs <= threshold/time.Second {
		return Remaining{SecondsLeft: int(secs), Phase: PhaseClosing}
	}
	return Remaining{SecondsLeft: int(secs), Phase: PhaseOpen}
}

// Advance moves the lot's lifecycle forward as implied by the local clock and reports
// whether it changed. It never confirms an end; only the server can.
func Advance(lot *models.TrackedLot, now time.Time, threshold time.Duration) bool {
	if lot.EndConfirmed || lot.Lifecycle == models.LifecycleEnded {
		return false
	}

	next := lot.Lifecycle
	if next == models.LifecycleScheduled {
		if !lot.StartsAt.IsZero() && now.Before(lot.StartsAt) {
			return false
		}
		next = models.LifecycleOpen
	}

	switch ComputeRemaining(lot, now, threshold).Phase {
	case PhaseClosing:
		if next.Before(models.LifecycleClosing) {
			next = models.LifecycleClosing
		}
	case PhaseEnded:
		next = models.LifecycleEnded
	}

	if next == lot.Lifecycle {
		return false
	}
	lot.Lifecycle = next
	lot.UpdatedAt = now
	return true
}
