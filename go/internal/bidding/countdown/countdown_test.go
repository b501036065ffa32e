package countdown

import (
	"math"
	"testing"
	"time"

	"github.com/mcdev12/bidwatch/go/internal/models"
)

var base = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// EndsAt.Sub(now) saturates at the maximum Duration; that value is not a whole second.
const maxDurationSeconds = int64(math.MaxInt64/int64(time.Second)) + 1

func TestComputeRemaining(t *testing.T) {
	tests := []struct {
		name      string
		endsAt    time.Time
		confirmed bool
		now       time.Time
		want      Remaining
	}{
		{
			name:   "far from close",
			endsAt: base.Add(time.Hour),
			now:    base,
			want:   Remaining{SecondsLeft: 3600, Phase: PhaseOpen},
		},
		{
			name:   "exactly at threshold",
			endsAt: base.Add(5 * time.Minute),
			now:    base,
			want:   Remaining{SecondsLeft: 300, Phase: PhaseClosing},
		},
		{
			name:   "sub-second rounds up",
			endsAt: base.Add(200 * time.Millisecond),
			now:    base,
			want:   Remaining{SecondsLeft: 1, Phase: PhaseClosing},
		},
		{
			name:   "deadline reached",
			endsAt: base,
			now:    base,
			want:   Remaining{SecondsLeft: 0, Phase: PhaseEnded},
		},
		{
			name:   "deadline passed",
			endsAt: base.Add(-time.Minute),
			now:    base,
			want:   Remaining{SecondsLeft: 0, Phase: PhaseEnded},
		},
		{
			name:   "far-future deadline does not overflow",
			endsAt: time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
			now:    base,
			want:   Remaining{SecondsLeft: int(maxDurationSeconds), Phase: PhaseOpen},
		},
		{
			name:      "server confirmed end wins over clock",
			endsAt:    base.Add(time.Hour),
			confirmed: true,
			now:       base,
			want:      Remaining{SecondsLeft: 0, Phase: PhaseEnded},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lot := &models.TrackedLot{LotID: "lot-1", EndsAt: tc.endsAt, EndConfirmed: tc.confirmed}
			got := ComputeRemaining(lot, tc.now, DefaultClosingSoonThreshold)
			if got != tc.want {
				t.Fatalf("ComputeRemaining() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name        string
		lot         models.TrackedLot
		now         time.Time
		want        models.Lifecycle
		wantChanged bool
	}{
		{
			name:        "scheduled stays before start",
			lot:         models.TrackedLot{Lifecycle: models.LifecycleScheduled, StartsAt: base.Add(time.Minute), EndsAt: base.Add(time.Hour)},
			now:         base,
			want:        models.LifecycleScheduled,
			wantChanged: false,
		},
		{
			name:        "scheduled opens at start",
			lot:         models.TrackedLot{Lifecycle: models.LifecycleScheduled, StartsAt: base, EndsAt: base.Add(time.Hour)},
			now:         base,
			want:        models.LifecycleOpen,
			wantChanged: true,
		},
		{
			name:        "open becomes closing",
			lot:         models.TrackedLot{Lifecycle: models.LifecycleOpen, EndsAt: base.Add(time.Minute)},
			now:         base,
			want:        models.LifecycleClosing,
			wantChanged: true,
		},
		{
			name:        "closing inferred ended",
			lot:         models.TrackedLot{Lifecycle: models.LifecycleClosing, EndsAt: base},
			now:         base.Add(time.Second),
			want:        models.LifecycleEnded,
			wantChanged: true,
		},
		{
			name:        "ended never moves",
			lot:         models.TrackedLot{Lifecycle: models.LifecycleEnded, EndsAt: base.Add(time.Hour)},
			now:         base,
			want:        models.LifecycleEnded,
			wantChanged: false,
		},
		{
			name:        "open with far-future deadline unchanged",
			lot:         models.TrackedLot{Lifecycle: models.LifecycleOpen, EndsAt: time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)},
			now:         base,
			want:        models.LifecycleOpen,
			wantChanged: false,
		},
		{
			name:        "open far from close unchanged",
			lot:         models.TrackedLot{Lifecycle: models.LifecycleOpen, EndsAt: base.Add(time.Hour)},
			now:         base,
			want:        models.LifecycleOpen,
			wantChanged: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lot := tc.lot
			changed := Advance(&lot, tc.now, DefaultClosingSoonThreshold)
			if changed != tc.wantChanged {
				t.Fatalf("Advance() changed = %v, want %v", changed, tc.wantChanged)
			}
			if lot.Lifecycle != tc.want {
				t.Fatalf("Lifecycle = %s, want %s", lot.Lifecycle, tc.want)
			}
			if lot.EndConfirmed {
				t.Fatalf("Advance() must never confirm an end")
			}
		})
	}
}
