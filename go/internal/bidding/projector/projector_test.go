package projector

import (
	"testing"

	"github.com/mcdev12/bidwatch/go/internal/bidding/countdown"
	"github.com/mcdev12/bidwatch/go/internal/models"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name      string
		leading   bool
		bidCount  int
		confirmed bool
		phase     countdown.Phase
		want      Status
	}{
		{name: "won", leading: true, bidCount: 3, confirmed: true, phase: countdown.PhaseEnded, want: StatusWon},
		{name: "lost", leading: false, bidCount: 3, confirmed: true, phase: countdown.PhaseEnded, want: StatusLost},
		{name: "ended without bids", leading: false, bidCount: 0, confirmed: true, phase: countdown.PhaseEnded, want: StatusEndedNoBids},
		{name: "countdown zero awaiting server", leading: true, bidCount: 3, confirmed: false, phase: countdown.PhaseEnded, want: StatusFinalizing},
		{name: "leading while open", leading: true, bidCount: 1, phase: countdown.PhaseOpen, want: StatusLeading},
		{name: "leading while closing", leading: true, bidCount: 1, phase: countdown.PhaseClosing, want: StatusLeading},
		{name: "outbid while open", leading: false, bidCount: 1, phase: countdown.PhaseOpen, want: StatusOutbid},
		{name: "no bids yet shows outbid", leading: false, bidCount: 0, phase: countdown.PhaseClosing, want: StatusOutbid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lot := &models.TrackedLot{
				LotID:              "lot-1",
				IsLocalUserLeading: tc.leading,
				BidCount:           tc.bidCount,
				EndConfirmed:       tc.confirmed,
			}
			if got := StatusFor(lot, tc.phase); got != tc.want {
				t.Fatalf("StatusFor() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestProjectFormatsPrice(t *testing.T) {
	lot := &models.TrackedLot{LotID: "lot-1", CurrentPrice: 15050, BidCount: 2, Lifecycle: models.LifecycleOpen}
	v := Project(lot, countdown.Remaining{SecondsLeft: 42, Phase: countdown.PhaseOpen}, 2)

	if v.Price != "150.50" {
		t.Fatalf("Price = %q, want %q", v.Price, "150.50")
	}
	if v.SecondsLeft != 42 || v.Status != StatusOutbid || v.BidCount != 2 {
		t.Fatalf("unexpected view: %+v", v)
	}
}
